// Package all imports all the backends
package all

import (
	// Active backend adapters
	_ "github.com/qihaolou/Foxel/backend/local"
	_ "github.com/qihaolou/Foxel/backend/onedrive"
	_ "github.com/qihaolou/Foxel/backend/quark"
	_ "github.com/qihaolou/Foxel/backend/s3"
	_ "github.com/qihaolou/Foxel/backend/telegram"
	_ "github.com/qihaolou/Foxel/backend/webdav"
)
