// Package vfs is the virtual filesystem facade: one rooted namespace
// assembled from every enabled storage adapter, routed by longest mount
// path prefix.
//
// All paths crossing the facade are normalized exactly once and then
// split into (mount, rel) by the router. Listings merge what the
// backing adapter reports with synthetic entries for adapters mounted
// below the listed directory. Mutations are forbidden on mount roots
// and emit events that feed the automation pipeline.
package vfs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/processor"
)

// mountMergeLimit bounds how many adapter entries a merged listing will
// consider. Merging with mount entries needs the whole adapter listing
// so the page is cut from the combined, sorted result.
const mountMergeLimit = 100000

// VFS routes virtual paths to adapter instances and exposes the
// filesystem operations the HTTP layers and the task worker call.
type VFS struct {
	gdb  *gorm.DB
	reg  *Registry
	deps *processor.Deps

	emu      sync.RWMutex
	handlers []EventHandler
}

// New assembles the facade. deps may be nil when no processor needing
// external services will run.
func New(gdb *gorm.DB, reg *Registry, deps *processor.Deps) *VFS {
	return &VFS{gdb: gdb, reg: reg, deps: deps}
}

// Registry returns the adapter registry the facade routes through.
func (v *VFS) Registry() *Registry {
	return v.reg
}

// mutable resolves path for a mutating operation. Mount roots are
// managed through the adapter API, never through filesystem writes.
func (v *VFS) mutable(ctx context.Context, path string) (*Mount, error) {
	m, err := v.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if m.Rel == "" {
		return nil, errors.Wrapf(fs.ErrorInvalidArgument, "%q is a mount root", fs.NormalizePath(path))
	}
	return m, nil
}

// List enumerates the virtual directory at path. Adapter entries and
// child mount entries are merged; adapter names shadow mounts. With no
// child mounts pagination is the adapter's own, otherwise the page is
// cut from the merged, sorted listing.
func (v *VFS) List(ctx context.Context, path string, page, pageSize int) ([]fs.Entry, int, error) {
	norm := fs.NormalizePath(path)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	recs, err := v.enabledAdapters(ctx)
	if err != nil {
		return nil, 0, err
	}
	mounts := childMounts(recs, norm)
	rec := matchMount(recs, norm)
	if rec == nil && len(mounts) == 0 {
		return nil, 0, errors.Wrapf(fs.ErrorNotFound, "list %q", norm)
	}

	var entries []fs.Entry
	total := 0
	if rec != nil {
		m, merr := v.mountFor(ctx, rec, norm)
		if merr != nil {
			if len(mounts) == 0 {
				return nil, 0, merr
			}
			fs.Debugf(rec.Name, "listing %q via mounts only: %v", norm, merr)
		} else {
			opt := fs.ListOptions{Page: page, PageSize: pageSize}
			if len(mounts) > 0 {
				opt = fs.ListOptions{Page: 1, PageSize: mountMergeLimit}
			}
			entries, total, merr = m.Adapter.List(ctx, m.Root, m.Rel, opt)
			if merr != nil {
				if len(mounts) == 0 || !errors.Is(merr, fs.ErrorNotFound) {
					return nil, 0, merr
				}
				// The directory only exists as a parent of mounts.
				entries, total = nil, 0
			}
		}
	}
	if len(mounts) == 0 {
		return entries, total, nil
	}

	shadow := make(map[string]bool, len(entries))
	for i := range entries {
		shadow[entries[i].Name] = true
	}
	merged := entries
	for _, name := range mounts {
		if shadow[name] {
			continue
		}
		merged = append(merged, fs.Entry{Name: name, IsDir: true, Kind: fs.KindMount})
		total++
	}
	fs.SortEntries(merged)
	return fs.PageEntries(merged, page, pageSize), total, nil
}

// Read returns the whole file at path.
func (v *VFS) Read(ctx context.Context, path string) ([]byte, error) {
	m, err := v.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if m.Rel == "" {
		return nil, errors.Wrapf(fs.ErrorIsDirectory, "read %q", fs.NormalizePath(path))
	}
	return m.Adapter.Read(ctx, m.Root, m.Rel)
}

// Stream opens a range-aware byte stream for path. Adapters without
// native streaming fall back to a buffered whole-file response.
func (v *VFS) Stream(ctx context.Context, path, rangeHeader string) (*fs.StreamResponse, error) {
	norm := fs.NormalizePath(path)
	m, err := v.Resolve(ctx, norm)
	if err != nil {
		return nil, err
	}
	if m.Rel == "" {
		return nil, errors.Wrapf(fs.ErrorIsDirectory, "stream %q", norm)
	}
	resp, err := m.Adapter.Stream(ctx, m.Root, m.Rel, rangeHeader)
	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, fs.ErrorNotImplemented) {
		return nil, err
	}
	data, err := m.Adapter.Read(ctx, m.Root, m.Rel)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Content-Type", mimetype.Detect(data).String())
	header.Set("Content-Length", strconv.Itoa(len(data)))
	return &fs.StreamResponse{
		Status: http.StatusOK,
		Header: header,
		Body:   io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// Write stores data at path and announces the write.
func (v *VFS) Write(ctx context.Context, path string, data []byte) error {
	norm := fs.NormalizePath(path)
	m, err := v.mutable(ctx, norm)
	if err != nil {
		return err
	}
	if err := m.Adapter.Write(ctx, m.Root, m.Rel, data); err != nil {
		return err
	}
	v.emit(ctx, EventFileWritten, norm)
	return nil
}

// WriteStream stores the stream at path without buffering it whole,
// falling back to a buffered write for adapters that cannot stream.
// With overwrite=false an existing destination is refused.
func (v *VFS) WriteStream(ctx context.Context, path string, in io.Reader, overwrite bool) (int64, error) {
	norm := fs.NormalizePath(path)
	m, err := v.mutable(ctx, norm)
	if err != nil {
		return 0, err
	}
	if !overwrite {
		exists, err := m.Adapter.Exists(ctx, m.Root, m.Rel)
		if err != nil && !errors.Is(err, fs.ErrorNotImplemented) {
			return 0, err
		}
		if exists {
			return 0, errors.Wrapf(fs.ErrorAlreadyExists, "write %q", norm)
		}
	}
	n, err := m.Adapter.WriteStream(ctx, m.Root, m.Rel, in)
	if errors.Is(err, fs.ErrorNotImplemented) {
		data, rerr := io.ReadAll(in)
		if rerr != nil {
			return 0, errors.Wrap(rerr, "buffering upload")
		}
		if werr := m.Adapter.Write(ctx, m.Root, m.Rel, data); werr != nil {
			return 0, werr
		}
		n = int64(len(data))
	} else if err != nil {
		return n, err
	}
	v.emit(ctx, EventFileWritten, norm)
	return n, nil
}

// Mkdir creates the directory at path.
func (v *VFS) Mkdir(ctx context.Context, path string) error {
	m, err := v.mutable(ctx, path)
	if err != nil {
		return err
	}
	return m.Adapter.Mkdir(ctx, m.Root, m.Rel)
}

// Delete removes path recursively and announces the deletion.
func (v *VFS) Delete(ctx context.Context, path string) error {
	norm := fs.NormalizePath(path)
	m, err := v.mutable(ctx, norm)
	if err != nil {
		return err
	}
	if err := m.Adapter.Delete(ctx, m.Root, m.Rel); err != nil {
		return err
	}
	v.emit(ctx, EventFileDeleted, norm)
	return nil
}

// Stat describes path. Mount roots stat as plain directories.
func (v *VFS) Stat(ctx context.Context, path string) (*fs.Entry, *Mount, error) {
	norm := fs.NormalizePath(path)
	m, err := v.Resolve(ctx, norm)
	if err != nil {
		return nil, nil, err
	}
	if m.Rel == "" {
		name := fs.BaseName(norm)
		if name == "" {
			name = "/"
		}
		return &fs.Entry{Name: name, IsDir: true, Kind: fs.KindDir}, m, nil
	}
	entry, err := m.Adapter.Stat(ctx, m.Root, m.Rel)
	if err != nil {
		return nil, nil, err
	}
	return entry, m, nil
}

// Exists reports whether path resolves to something, counting purely
// virtual directories that only exist as parents of mounts.
func (v *VFS) Exists(ctx context.Context, path string) (bool, error) {
	norm := fs.NormalizePath(path)
	if fs.IsRoot(norm) {
		return true, nil
	}
	m, err := v.Resolve(ctx, norm)
	if err != nil {
		if !errors.Is(err, fs.ErrorNotFound) {
			return false, err
		}
		recs, rerr := v.enabledAdapters(ctx)
		if rerr != nil {
			return false, rerr
		}
		return len(childMounts(recs, norm)) > 0, nil
	}
	if m.Rel == "" {
		return true, nil
	}
	exists, err := m.Adapter.Exists(ctx, m.Root, m.Rel)
	if errors.Is(err, fs.ErrorNotImplemented) {
		return false, nil
	}
	return exists, err
}

// Probe runs the non-failing stat capability for path.
func (v *VFS) Probe(ctx context.Context, path string) (*fs.Probe, *Mount, error) {
	m, err := v.Resolve(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if m.Rel == "" {
		return &fs.Probe{Exists: true, IsDir: true}, m, nil
	}
	p, err := m.Adapter.Probe(ctx, m.Root, m.Rel)
	if err != nil {
		return nil, nil, err
	}
	return p, m, nil
}

// Move relocates src to dst within one adapter.
func (v *VFS) Move(ctx context.Context, src, dst string, overwrite bool, trace Trace) error {
	return v.transfer(ctx, "move", src, dst, overwrite, trace)
}

// Rename renames src to dst within one adapter.
func (v *VFS) Rename(ctx context.Context, src, dst string, overwrite bool, trace Trace) error {
	return v.transfer(ctx, "rename", src, dst, overwrite, trace)
}

// Copy duplicates src to dst within one adapter.
func (v *VFS) Copy(ctx context.Context, src, dst string, overwrite bool, trace Trace) error {
	return v.transfer(ctx, "copy", src, dst, overwrite, trace)
}

// transferDone maps an op to the trace key set on success.
var transferDone = map[string]string{
	"move":   "moved",
	"rename": "renamed",
	"copy":   "copied",
}

// transfer is the shared move/rename/copy path: resolve both ends,
// refuse cross-adapter transfers, detect the src==dst noop, apply the
// overwrite pre-check (exists, then delete when allowed) and delegate.
// Every step lands in trace when the caller wants one.
func (v *VFS) transfer(ctx context.Context, op, src, dst string, overwrite bool, trace Trace) error {
	srcNorm := fs.NormalizePath(src)
	dstNorm := fs.NormalizePath(dst)
	ms, err := v.mutable(ctx, srcNorm)
	if err != nil {
		return err
	}
	md, err := v.mutable(ctx, dstNorm)
	if err != nil {
		return err
	}
	trace.set("src", srcNorm)
	trace.set("dst", dstNorm)
	trace.set("rel_s", ms.Rel)
	trace.set("rel_d", md.Rel)
	trace.set("root_s", ms.Root)
	trace.set("root_d", md.Root)
	trace.set("overwrite", overwrite)
	if ms.Record.ID != md.Record.ID {
		return errors.Wrapf(fs.ErrorInvalidArgument, "%s across adapters is not supported", op)
	}
	if ms.Rel == md.Rel {
		trace.set("noop", true)
		return nil
	}

	exists, err := ms.Adapter.Exists(ctx, ms.Root, md.Rel)
	if err != nil && !errors.Is(err, fs.ErrorNotImplemented) {
		return err
	}
	trace.set("dst_exists", exists)
	if exists {
		if p, perr := ms.Adapter.Probe(ctx, ms.Root, md.Rel); perr == nil {
			trace.set("dst_stat", p)
		}
		if !overwrite {
			return errors.Wrapf(fs.ErrorAlreadyExists, "%s to %q", op, dstNorm)
		}
		if derr := ms.Adapter.Delete(ctx, ms.Root, md.Rel); derr != nil {
			trace.set("pre_delete", "error: "+derr.Error())
			return errors.Wrapf(derr, "clearing %q before %s", dstNorm, op)
		}
		trace.set("pre_delete", "ok")
	}

	switch op {
	case "move":
		err = ms.Adapter.Move(ctx, ms.Root, ms.Rel, md.Rel)
	case "rename":
		err = ms.Adapter.Rename(ctx, ms.Root, ms.Rel, md.Rel)
	case "copy":
		err = ms.Adapter.Copy(ctx, ms.Root, ms.Rel, md.Rel, overwrite)
	}
	if err != nil {
		return err
	}
	trace.set(transferDone[op], true)
	fs.Infof(ms.Record.Name, "%s %q -> %q", op, srcNorm, dstNorm)
	return nil
}

// ProcessFile reads path, runs the named processor over it and, for
// file-producing processors with saveTo set, writes the output back
// through the facade so the usual write event fires.
func (v *VFS) ProcessFile(ctx context.Context, path, processorType string, config map[string]interface{}, saveTo string) (*processor.Result, error) {
	norm := fs.NormalizePath(path)
	ri, err := processor.Find(processorType)
	if err != nil {
		return nil, errors.Wrapf(fs.ErrorInvalidArgument, "processor %q", processorType)
	}
	data, err := v.Read(ctx, norm)
	if err != nil {
		return nil, err
	}
	result, err := ri.New(v.deps).Process(ctx, norm, data, config)
	if err != nil {
		return nil, err
	}
	if ri.ProducesFile && saveTo != "" && result.Data != nil {
		saveNorm := fs.NormalizePath(saveTo)
		if err := v.Write(ctx, saveNorm, result.Data); err != nil {
			return nil, errors.Wrapf(err, "saving processor output to %q", saveNorm)
		}
		result.SavedTo = saveNorm
	}
	return result, nil
}
