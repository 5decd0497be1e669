package local

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qihaolou/Foxel/fs"
)

func newTestFs(t *testing.T) (*Fs, string) {
	t.Helper()
	dir := t.TempDir()
	a, err := NewAdapter(context.Background(), "disk", fs.ConfigMap{"root": dir})
	require.NoError(t, err)
	return a.(*Fs), dir
}

func TestNewAdapterRequiresRoot(t *testing.T) {
	_, err := NewAdapter(context.Background(), "disk", fs.ConfigMap{})
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))
}

func TestResolveRoot(t *testing.T) {
	f, dir := newTestFs(t)
	assert.Equal(t, dir, f.ResolveRoot(""))
	assert.Equal(t, filepath.Join(dir, "photos", "2024"), f.ResolveRoot("/photos/2024/"))
}

func TestJoinRejectsEscapes(t *testing.T) {
	f, dir := newTestFs(t)
	ctx := context.Background()
	_, err := f.Read(ctx, dir, "../outside")
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))
	err = f.Write(ctx, dir, "a/../../../etc/passwd", []byte("x"))
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))
}

func TestListSortsAndPages(t *testing.T) {
	f, dir := newTestFs(t)
	ctx := context.Background()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Music"), 0o777))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o777))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o666))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B.txt"), []byte("bb"), 0o666))

	entries, total, err := f.List(ctx, dir, "", fs.ListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	// Directories first, then case-insensitive by name.
	assert.Equal(t, []string{"docs", "Music", "a.txt", "B.txt"}, names)
	assert.Equal(t, fs.KindDir, entries[0].Kind)
	assert.Equal(t, fs.KindFile, entries[3].Kind)
	assert.Equal(t, int64(2), entries[3].Size)

	page, total, err := f.List(ctx, dir, "", fs.ListOptions{Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 1)
	assert.Equal(t, "B.txt", page[0].Name)

	_, _, err = f.List(ctx, dir, "missing", fs.ListOptions{Page: 1, PageSize: 10})
	assert.True(t, errors.Is(err, fs.ErrorNotFound))

	_, _, err = f.List(ctx, dir, "a.txt", fs.ListOptions{Page: 1, PageSize: 10})
	assert.True(t, errors.Is(err, fs.ErrorNotDirectory))
}

func TestReadWrite(t *testing.T) {
	f, dir := newTestFs(t)
	ctx := context.Background()

	// Write creates missing parents.
	require.NoError(t, f.Write(ctx, dir, "a/b/c.txt", []byte("hello")))
	got, err := f.Read(ctx, dir, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	_, err = f.Read(ctx, dir, "a/b")
	assert.True(t, errors.Is(err, fs.ErrorIsDirectory))
	_, err = f.Read(ctx, dir, "nope.txt")
	assert.True(t, errors.Is(err, fs.ErrorNotFound))

	n, err := f.WriteStream(ctx, dir, "a/streamed.bin", io.LimitReader(neverEnding('x'), 1000))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
	info, err := os.Stat(filepath.Join(dir, "a", "streamed.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), info.Size())
}

// neverEnding yields its byte forever.
type neverEnding byte

func (b neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}

func TestStreamRanges(t *testing.T) {
	f, dir := newTestFs(t)
	ctx := context.Background()
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, f.Write(ctx, dir, "f.bin", data))

	resp, err := f.Stream(ctx, dir, "f.bin", "")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "100", resp.Header.Get("Content-Length"))
	assert.Equal(t, data, body)

	resp, err = f.Stream(ctx, dir, "f.bin", "bytes=10-19")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.Equal(t, "bytes 10-19/100", resp.Header.Get("Content-Range"))
	assert.Equal(t, data[10:20], body)

	// Suffix range: the last 10 bytes.
	resp, err = f.Stream(ctx, dir, "f.bin", "bytes=-10")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, data[90:], body)

	_, err = f.Stream(ctx, dir, "f.bin", "bytes=200-")
	assert.True(t, errors.Is(err, fs.ErrorRangeNotSatisfiable))

	require.NoError(t, f.Mkdir(ctx, dir, "d"))
	_, err = f.Stream(ctx, dir, "d", "")
	assert.True(t, errors.Is(err, fs.ErrorIsDirectory))
}

func TestDeleteIsRecursiveAndIdempotent(t *testing.T) {
	f, dir := newTestFs(t)
	ctx := context.Background()
	require.NoError(t, f.Write(ctx, dir, "tree/sub/x.txt", []byte("x")))

	require.NoError(t, f.Delete(ctx, dir, "tree"))
	ok, err := f.Exists(ctx, dir, "tree")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is a no-op.
	require.NoError(t, f.Delete(ctx, dir, "tree"))
}

func TestMoveCreatesParents(t *testing.T) {
	f, dir := newTestFs(t)
	ctx := context.Background()
	require.NoError(t, f.Write(ctx, dir, "src.txt", []byte("move me")))

	require.NoError(t, f.Move(ctx, dir, "src.txt", "deep/dst.txt"))
	got, err := f.Read(ctx, dir, "deep/dst.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("move me"), got)
	ok, err := f.Exists(ctx, dir, "src.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	err = f.Move(ctx, dir, "missing.txt", "elsewhere.txt")
	assert.True(t, errors.Is(err, fs.ErrorNotFound))
}

func TestCopyOverwriteSemantics(t *testing.T) {
	f, dir := newTestFs(t)
	ctx := context.Background()
	require.NoError(t, f.Write(ctx, dir, "a.txt", []byte("aaa")))
	require.NoError(t, f.Write(ctx, dir, "b.txt", []byte("bbb")))

	err := f.Copy(ctx, dir, "a.txt", "b.txt", false)
	assert.True(t, errors.Is(err, fs.ErrorAlreadyExists))

	require.NoError(t, f.Copy(ctx, dir, "a.txt", "b.txt", true))
	got, err := f.Read(ctx, dir, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("aaa"), got)

	// Directory trees copy recursively.
	require.NoError(t, f.Write(ctx, dir, "tree/sub/leaf.txt", []byte("leaf")))
	require.NoError(t, f.Copy(ctx, dir, "tree", "tree2", false))
	got, err = f.Read(ctx, dir, "tree2/sub/leaf.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("leaf"), got)

	err = f.Copy(ctx, dir, "missing", "x", false)
	assert.True(t, errors.Is(err, fs.ErrorNotFound))
}

func TestStatAndProbe(t *testing.T) {
	f, dir := newTestFs(t)
	ctx := context.Background()
	require.NoError(t, f.Write(ctx, dir, "file.txt", []byte("12345")))
	require.NoError(t, f.Mkdir(ctx, dir, "d"))

	entry, err := f.Stat(ctx, dir, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, "file.txt", entry.Name)
	assert.False(t, entry.IsDir)
	assert.Equal(t, int64(5), entry.Size)
	assert.Equal(t, fs.KindFile, entry.Kind)
	assert.NotZero(t, entry.Mtime)

	entry, err = f.Stat(ctx, dir, "d")
	require.NoError(t, err)
	assert.True(t, entry.IsDir)
	assert.Equal(t, int64(0), entry.Size)

	_, err = f.Stat(ctx, dir, "missing")
	assert.True(t, errors.Is(err, fs.ErrorNotFound))

	p, err := f.Probe(ctx, dir, "file.txt")
	require.NoError(t, err)
	assert.True(t, p.Exists)
	assert.True(t, p.IsFile)
	assert.Equal(t, int64(5), p.Size)

	p, err = f.Probe(ctx, dir, "missing")
	require.NoError(t, err)
	assert.False(t, p.Exists)
}
