package vfs

import (
	"context"
	"sort"
	"strings"

	"github.com/qihaolou/Foxel/db"
	"github.com/qihaolou/Foxel/fs"
)

// Mount is a resolved virtual path: the StorageAdapter row that won the
// longest-prefix match, its live instance, the instance root for the
// row's sub path, and the path remainder relative to the mount point.
type Mount struct {
	Record  *db.StorageAdapter
	Adapter fs.Adapter
	Root    string
	Rel     string
}

// enabledAdapters loads every enabled StorageAdapter row.
func (v *VFS) enabledAdapters(ctx context.Context) ([]db.StorageAdapter, error) {
	var recs []db.StorageAdapter
	if err := v.gdb.WithContext(ctx).Where("enabled = ?", true).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// matchMount picks the row whose mount path is the longest prefix of
// norm, where prefixes only match on whole segments. Returns nil when
// nothing covers the path.
func matchMount(recs []db.StorageAdapter, norm string) *db.StorageAdapter {
	var best *db.StorageAdapter
	for i := range recs {
		rec := &recs[i]
		mp := fs.NormalizePath(rec.Path)
		if norm != mp && mp != "/" && !strings.HasPrefix(norm, mp+"/") {
			continue
		}
		if best == nil || len(fs.NormalizePath(best.Path)) < len(mp) {
			best = rec
		}
	}
	return best
}

// relUnder returns the remainder of norm below the mount path mp, with
// no leading slash. Empty means the mount root itself.
func relUnder(mp, norm string) string {
	mp = fs.NormalizePath(mp)
	if mp == "/" {
		return strings.TrimPrefix(norm, "/")
	}
	return strings.TrimPrefix(strings.TrimPrefix(norm, mp), "/")
}

// childMounts lists the names of mounts sitting directly inside the
// directory norm. The mount covering norm itself is not a child.
func childMounts(recs []db.StorageAdapter, norm string) []string {
	prefix := norm
	if prefix != "/" {
		prefix += "/"
	}
	seen := map[string]bool{}
	for i := range recs {
		mp := fs.NormalizePath(recs[i].Path)
		if mp == norm || !strings.HasPrefix(mp, prefix) {
			continue
		}
		name := mp[len(prefix):]
		if idx := strings.IndexByte(name, '/'); idx >= 0 {
			name = name[:idx]
		}
		if name != "" {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// instanceFor fetches the live instance for rec, refreshing the
// registry once if the row is known but the instance is missing (a
// restart or an admin edit on another node).
func (v *VFS) instanceFor(ctx context.Context, rec *db.StorageAdapter) (fs.Adapter, error) {
	inst := v.reg.Get(rec.ID)
	if inst == nil {
		fs.Debugf(rec.Name, "instance %d missing, refreshing registry", rec.ID)
		if err := v.reg.Refresh(ctx); err != nil {
			return nil, err
		}
		inst = v.reg.Get(rec.ID)
	}
	if inst == nil {
		return nil, fs.ErrorNotFound
	}
	return inst, nil
}

// mountFor assembles the Mount for rec and the normalized path norm.
func (v *VFS) mountFor(ctx context.Context, rec *db.StorageAdapter, norm string) (*Mount, error) {
	inst, err := v.instanceFor(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Mount{
		Record:  rec,
		Adapter: inst,
		Root:    inst.ResolveRoot(rec.SubPath),
		Rel:     relUnder(rec.Path, norm),
	}, nil
}

// Resolve maps a virtual path onto the mount that serves it.
func (v *VFS) Resolve(ctx context.Context, path string) (*Mount, error) {
	norm := fs.NormalizePath(path)
	recs, err := v.enabledAdapters(ctx)
	if err != nil {
		return nil, err
	}
	rec := matchMount(recs, norm)
	if rec == nil {
		return nil, fs.ErrorNotFound
	}
	return v.mountFor(ctx, rec, norm)
}
