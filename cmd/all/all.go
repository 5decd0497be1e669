// Package all imports all the commands
package all

import (
	// Active commands
	_ "github.com/qihaolou/Foxel/cmd/serve"
	_ "github.com/qihaolou/Foxel/cmd/version"
)
