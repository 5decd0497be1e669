// Foxel aggregates heterogeneous storage backends behind one virtual
// filesystem and serves it over a JSON API and WebDAV.
package main

import (
	_ "github.com/qihaolou/Foxel/backend/all" // import all backends
	"github.com/qihaolou/Foxel/cmd"
	_ "github.com/qihaolou/Foxel/cmd/all"       // import all commands
	_ "github.com/qihaolou/Foxel/processor/all" // import all processors
)

func main() {
	cmd.Main()
}
