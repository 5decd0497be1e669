package vfs

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/qihaolou/Foxel/db"
	"github.com/qihaolou/Foxel/fs"
)

// Registry holds the live adapter instances keyed by StorageAdapter row
// id. Rows own their configuration; the registry owns the constructed
// instances and is the only component that builds or drops them. Reads
// vastly outnumber writes so the map sits behind an RWMutex.
type Registry struct {
	gdb *gorm.DB

	mu        sync.RWMutex
	instances map[uint]fs.Adapter
}

// NewRegistry makes an empty registry over the given database. Call
// Refresh to populate it.
func NewRegistry(gdb *gorm.DB) *Registry {
	return &Registry{gdb: gdb, instances: map[uint]fs.Adapter{}}
}

// construct builds the live instance for one row, validating its config
// against the registered type schema first.
func construct(ctx context.Context, rec *db.StorageAdapter) (fs.Adapter, error) {
	ri, err := fs.Find(rec.Type)
	if err != nil {
		return nil, errors.Wrapf(err, "adapter %q", rec.Name)
	}
	cfg, err := ri.ValidateConfig(fs.ConfigMap(rec.Config))
	if err != nil {
		return nil, errors.Wrapf(err, "adapter %q", rec.Name)
	}
	return ri.NewAdapter(ctx, rec.Name, cfg)
}

// Refresh rebuilds the instance map from every enabled StorageAdapter
// row. A row whose instance fails to construct is skipped so one broken
// config cannot take the others down.
func (r *Registry) Refresh(ctx context.Context) error {
	var recs []db.StorageAdapter
	if err := r.gdb.WithContext(ctx).Where("enabled = ?", true).Find(&recs).Error; err != nil {
		return errors.Wrap(err, "loading storage adapters")
	}
	instances := make(map[uint]fs.Adapter, len(recs))
	for i := range recs {
		rec := &recs[i]
		inst, err := construct(ctx, rec)
		if err != nil {
			fs.Errorf(rec.Name, "skipping adapter %d: %v", rec.ID, err)
			continue
		}
		instances[rec.ID] = inst
	}
	r.mu.Lock()
	r.instances = instances
	r.mu.Unlock()
	fs.Debugf(nil, "adapter registry refreshed: %d instance(s)", len(instances))
	return nil
}

// Upsert constructs (or replaces) the instance for rec, or removes it
// when the row is disabled. Callers must invoke it on every row
// mutation so the next routing sees the new config.
func (r *Registry) Upsert(ctx context.Context, rec *db.StorageAdapter) {
	if !rec.Enabled {
		r.Remove(rec.ID)
		return
	}
	inst, err := construct(ctx, rec)
	if err != nil {
		fs.Errorf(rec.Name, "upsert of adapter %d failed: %v", rec.ID, err)
		r.Remove(rec.ID)
		return
	}
	r.mu.Lock()
	r.instances[rec.ID] = inst
	r.mu.Unlock()
}

// Remove drops the instance for id, if any.
func (r *Registry) Remove(id uint) {
	r.mu.Lock()
	delete(r.instances, id)
	r.mu.Unlock()
}

// Get returns the live instance for id, or nil.
func (r *Registry) Get(id uint) fs.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[id]
}

// Snapshot returns a copy of the instance map.
func (r *Registry) Snapshot() map[uint]fs.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint]fs.Adapter, len(r.instances))
	for id, inst := range r.instances {
		out[id] = inst
	}
	return out
}
