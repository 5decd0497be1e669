package fs

import (
	"context"

	"github.com/pkg/errors"
)

// RegInfo provides information about a registered backend type.
type RegInfo struct {
	// Name of the backend type, e.g. "s3". This is the type tag stored
	// on StorageAdapter rows.
	Name string
	// Description of this backend, shown by the management API.
	Description string
	// NewAdapter constructs an instance from a validated config. name is
	// the instance (row) name, used for logging.
	NewAdapter func(ctx context.Context, name string, config ConfigMap) (Adapter, error)
	// Options is the config schema for this type.
	Options Options
}

// Registry of backend types, filled by Register at init time.
var Registry []*RegInfo

// Register a backend type. Backends call this from init - the static
// replacement for discovering adapter modules at startup.
func Register(info *RegInfo) {
	Registry = append(Registry, info)
}

// Find looks up a backend type by its type tag.
func Find(name string) (*RegInfo, error) {
	for _, item := range Registry {
		if item.Name == name {
			return item, nil
		}
	}
	return nil, errors.Errorf("didn't find backend %q", name)
}

// MustFind is like Find but panics - for use with statically known names.
func MustFind(name string) *RegInfo {
	info, err := Find(name)
	if err != nil {
		panic(err)
	}
	return info
}

// ValidateConfig checks cfg against the schema: missing required fields
// fail, absent fields take their defaults. The returned map is a
// normalized copy; the input is not modified.
func (ri *RegInfo) ValidateConfig(cfg ConfigMap) (ConfigMap, error) {
	out := make(ConfigMap, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	for _, opt := range ri.Options {
		v, ok := out[opt.Key]
		missing := !ok || v == nil || v == ""
		if !missing {
			continue
		}
		if opt.Default != nil {
			out[opt.Key] = opt.Default
			continue
		}
		if opt.Required {
			return nil, errors.Wrapf(ErrorInvalidArgument, "missing required config %q for type %q", opt.Key, ri.Name)
		}
	}
	return out, nil
}
