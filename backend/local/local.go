// Package local provides an adapter over a directory of the local
// filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
)

// streamChunk is the read granularity for streamed files.
const streamChunk = 256 * 1024

func init() {
	fs.Register(&fs.RegInfo{
		Name:        "local",
		Description: "Local filesystem",
		NewAdapter:  NewAdapter,
		Options: fs.Options{{
			Key:         "root",
			Label:       "Root directory",
			Type:        fs.TypeString,
			Required:    true,
			Placeholder: "/srv/data",
		}},
	})
}

// Fs is a local filesystem adapter rooted at a directory.
type Fs struct {
	name string
	root string
}

// NewAdapter constructs the adapter from a validated config.
func NewAdapter(ctx context.Context, name string, config fs.ConfigMap) (fs.Adapter, error) {
	root := config.String("root")
	if root == "" {
		return nil, errors.Wrap(fs.ErrorInvalidArgument, "local: root is required")
	}
	return &Fs{name: name, root: filepath.Clean(root)}, nil
}

// Name returns the configured instance name.
func (f *Fs) Name() string { return f.name }

// Type returns the backend type tag.
func (f *Fs) Type() string { return "local" }

// String converts this Fs to a string for logging.
func (f *Fs) String() string {
	return fmt.Sprintf("local filesystem at %s", f.root)
}

// ResolveRoot joins the backend root with the mount's sub path.
func (f *Fs) ResolveRoot(subPath string) string {
	subPath = strings.Trim(subPath, "/")
	if subPath == "" {
		return f.root
	}
	return filepath.Join(f.root, filepath.FromSlash(subPath))
}

// join resolves rel under root and rejects paths escaping it.
func (f *Fs) join(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)
	full := filepath.Join(cleanRoot, filepath.FromSlash(rel))
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", errors.Wrapf(fs.ErrorInvalidArgument, "path %q escapes the mount root", rel)
	}
	return full, nil
}

func mapStatErr(err error, what string) error {
	if os.IsNotExist(err) {
		return errors.Wrap(fs.ErrorNotFound, what)
	}
	return err
}

func entryFromInfo(name string, info os.FileInfo) fs.Entry {
	kind := fs.KindFile
	if info.IsDir() {
		kind = fs.KindDir
	}
	size := info.Size()
	if info.IsDir() {
		size = 0
	}
	return fs.Entry{
		Name:  name,
		IsDir: info.IsDir(),
		Size:  size,
		Mtime: info.ModTime().Unix(),
		Kind:  kind,
	}
}

// List enumerates the immediate children of rel, directories first.
func (f *Fs) List(ctx context.Context, root, rel string, opt fs.ListOptions) ([]fs.Entry, int, error) {
	dir, err := f.join(root, rel)
	if err != nil {
		return nil, 0, err
	}
	des, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, errors.Wrapf(fs.ErrorNotFound, "list %q", rel)
		}
		var pathErr *os.PathError
		if errors.As(err, &pathErr) && strings.Contains(pathErr.Err.Error(), "not a directory") {
			return nil, 0, errors.Wrapf(fs.ErrorNotDirectory, "list %q", rel)
		}
		return nil, 0, err
	}
	entries := make([]fs.Entry, 0, len(des))
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			// Child vanished between readdir and stat.
			continue
		}
		entries = append(entries, entryFromInfo(de.Name(), info))
	}
	fs.SortEntries(entries)
	total := len(entries)
	return fs.PageEntries(entries, opt.Page, opt.PageSize), total, nil
}

// Read returns the whole file.
func (f *Fs) Read(ctx context.Context, root, rel string) ([]byte, error) {
	full, err := f.join(root, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, mapStatErr(err, "read "+rel)
	}
	if info.IsDir() {
		return nil, errors.Wrapf(fs.ErrorIsDirectory, "read %q", rel)
	}
	return os.ReadFile(full)
}

// chunkReader caps each Read to the stream chunk size.
type chunkReader struct {
	r io.Reader
	c io.Closer
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	if len(p) > streamChunk {
		p = p[:streamChunk]
	}
	return cr.r.Read(p)
}

func (cr *chunkReader) Close() error { return cr.c.Close() }

// Stream opens a (possibly ranged) read on the file.
func (f *Fs) Stream(ctx context.Context, root, rel, rangeHeader string) (*fs.StreamResponse, error) {
	full, err := f.join(root, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, mapStatErr(err, "stream "+rel)
	}
	if info.IsDir() {
		return nil, errors.Wrapf(fs.ErrorIsDirectory, "stream %q", rel)
	}
	size := info.Size()

	fh, err := os.Open(full)
	if err != nil {
		return nil, mapStatErr(err, "stream "+rel)
	}
	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Type", detectMime(full))

	status := http.StatusOK
	var body io.Reader = fh
	length := size
	if rangeHeader != "" {
		start, end, err := fs.ParseRange(rangeHeader, size)
		if err != nil {
			_ = fh.Close()
			return nil, err
		}
		if _, err := fh.Seek(start, io.SeekStart); err != nil {
			_ = fh.Close()
			return nil, err
		}
		length = end - start + 1
		body = io.LimitReader(fh, length)
		status = http.StatusPartialContent
		header.Set("Content-Range", fs.ContentRange(start, end, size))
	}
	header.Set("Content-Length", strconv.FormatInt(length, 10))
	return &fs.StreamResponse{
		Status: status,
		Header: header,
		Body:   &chunkReader{r: body, c: fh},
	}, nil
}

func detectMime(full string) string {
	if mt, err := mimetype.DetectFile(full); err == nil {
		return mt.String()
	}
	return "application/octet-stream"
}

// Write stores data, creating parents. New files get mode 0666;
// pre-existing files keep theirs.
func (f *Fs) Write(ctx context.Context, root, rel string, data []byte) error {
	full, err := f.join(root, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o666)
}

// WriteStream stores the reader, creating parents, and returns the size.
func (f *Fs) WriteStream(ctx context.Context, root, rel string, in io.Reader) (int64, error) {
	full, err := f.join(root, rel)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return 0, err
	}
	fh, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(fh, in)
	if cerr := fh.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Mkdir creates the directory and any missing parents.
func (f *Fs) Mkdir(ctx context.Context, root, rel string) error {
	full, err := f.join(root, rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o777)
}

// Delete removes rel recursively; missing paths are a no-op.
func (f *Fs) Delete(ctx context.Context, root, rel string) error {
	full, err := f.join(root, rel)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}

// Stat describes rel. Image files get their EXIF fields in Extra.
func (f *Fs) Stat(ctx context.Context, root, rel string) (*fs.Entry, error) {
	full, err := f.join(root, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, mapStatErr(err, "stat "+rel)
	}
	entry := entryFromInfo(filepath.Base(full), info)
	if !info.IsDir() {
		if exif := exifFields(full); len(exif) > 0 {
			entry.Extra = map[string]interface{}{"exif": exif}
		}
	}
	return &entry, nil
}

// Exists reports whether rel exists.
func (f *Fs) Exists(ctx context.Context, root, rel string) (bool, error) {
	full, err := f.join(root, rel)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Probe reports existence and kind without failing on a miss.
func (f *Fs) Probe(ctx context.Context, root, rel string) (*fs.Probe, error) {
	full, err := f.join(root, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return &fs.Probe{}, nil
		}
		return nil, err
	}
	return &fs.Probe{
		Exists: true,
		IsDir:  info.IsDir(),
		IsFile: info.Mode().IsRegular(),
		Size:   info.Size(),
	}, nil
}

// Move renames src to dst, creating dst's parents.
func (f *Fs) Move(ctx context.Context, root, src, dst string) error {
	return f.rename(root, src, dst)
}

// Rename renames src to dst within its directory (same primitive here).
func (f *Fs) Rename(ctx context.Context, root, src, dst string) error {
	return f.rename(root, src, dst)
}

func (f *Fs) rename(root, src, dst string) error {
	fullSrc, err := f.join(root, src)
	if err != nil {
		return err
	}
	fullDst, err := f.join(root, dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(fullSrc); err != nil {
		return mapStatErr(err, "move "+src)
	}
	if err := os.MkdirAll(filepath.Dir(fullDst), 0o777); err != nil {
		return err
	}
	return os.Rename(fullSrc, fullDst)
}

// Copy deep-copies src to dst.
func (f *Fs) Copy(ctx context.Context, root, src, dst string, overwrite bool) error {
	fullSrc, err := f.join(root, src)
	if err != nil {
		return err
	}
	fullDst, err := f.join(root, dst)
	if err != nil {
		return err
	}
	info, err := os.Stat(fullSrc)
	if err != nil {
		return mapStatErr(err, "copy "+src)
	}
	if _, err := os.Stat(fullDst); err == nil && !overwrite {
		return errors.Wrapf(fs.ErrorAlreadyExists, "copy to %q", dst)
	}
	if err := os.MkdirAll(filepath.Dir(fullDst), 0o777); err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(fullSrc, fullDst)
	}
	return copyFile(fullSrc, fullDst)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fs.CheckClose(in, &err)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, relPath)
		if info.IsDir() {
			return os.MkdirAll(target, 0o777)
		}
		return copyFile(path, target)
	})
}
