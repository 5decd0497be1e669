// Package processor defines the content transformer surface and its
// type registry. A processor takes file bytes plus a per-invocation
// config and produces either new file bytes (watermarking) or a side
// effect with a message (indexing). Concrete processors live in
// subpackages and register themselves at init, mirroring how storage
// backends register.
package processor

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/ai"
	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/vecdb"
)

// Deps carries the shared services a processor may need. Fields are nil
// when the service is not configured; processors must cope.
type Deps struct {
	Describer ai.Describer
	Embedder  ai.Embedder
	Store     vecdb.Store
}

// Result is what one processor run produced. Data is set only by
// file-producing processors; SavedTo is filled by the caller when the
// output has been written back into the virtual tree.
type Result struct {
	Data    []byte `json:"-"`
	Mime    string `json:"mime,omitempty"`
	Message string `json:"message,omitempty"`
	SavedTo string `json:"saved_to,omitempty"`
}

// Processor transforms the content of one file. path is the virtual
// path, used for extension sniffing and as the index key.
type Processor interface {
	Process(ctx context.Context, path string, data []byte, config map[string]interface{}) (*Result, error)
}

// RegInfo describes a registered processor type.
type RegInfo struct {
	// Type is the tag AutomationRule rows and task payloads carry.
	Type string
	// Name is the human-readable name shown by the management API.
	Name string
	// SupportedExts lists the file extensions (lower case, no dot) the
	// processor accepts.
	SupportedExts []string
	// ProducesFile is true when Process returns output bytes meant to be
	// written somewhere.
	ProducesFile bool
	// Options is the per-invocation config schema.
	Options fs.Options
	// New constructs an instance over the shared services.
	New func(deps *Deps) Processor
}

// Registry of processor types, filled by Register at init time.
var Registry []*RegInfo

// Register a processor type. Processors call this from init.
func Register(info *RegInfo) {
	Registry = append(Registry, info)
}

// Find looks up a processor type by tag.
func Find(ptype string) (*RegInfo, error) {
	for _, item := range Registry {
		if item.Type == ptype {
			return item, nil
		}
	}
	return nil, errors.Errorf("didn't find processor %q", ptype)
}

// Ext returns the lower-case extension of path without the dot.
func Ext(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// Supports reports whether the processor accepts files named like p.
func (ri *RegInfo) Supports(p string) bool {
	ext := Ext(p)
	for _, e := range ri.SupportedExts {
		if e == ext {
			return true
		}
	}
	return false
}
