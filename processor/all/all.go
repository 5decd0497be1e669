// Package all imports every processor so it registers itself.
package all

import (
	_ "github.com/qihaolou/Foxel/processor/vectorindex"
	_ "github.com/qihaolou/Foxel/processor/watermark"
)
