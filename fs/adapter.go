package fs

import (
	"context"
	"io"
	"net/http"
)

// ListOptions carries 1-based pagination for directory listings.
type ListOptions struct {
	Page     int
	PageSize int
}

// StreamResponse is a byte stream an adapter produced for a (possibly
// ranged) read. Status is 200 or 206 and Header carries Content-Type,
// Content-Length, Accept-Ranges and, for 206, Content-Range. The HTTP
// layers copy it out verbatim; Body must always be closed.
type StreamResponse struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Adapter is the uniform capability surface over one storage backend.
//
// Every method is declared; backends without a capability return
// ErrorNotImplemented from it (embed Unimplemented to get that for free)
// and callers branch on the sentinel. root is the backend-specific handle
// produced by ResolveRoot; rel is the mount-relative path with no leading
// slash ("" addresses the mount root). Mutating ops must not be given
// rel == "".
type Adapter interface {
	// Name is the configured instance name, used for logging.
	Name() string
	// Type is the registered backend type tag.
	Type() string
	// ResolveRoot turns the mount's sub_path into the handle the other
	// methods take: a directory, a key prefix, a URL or a folder id.
	ResolveRoot(subPath string) string

	List(ctx context.Context, root, rel string, opt ListOptions) ([]Entry, int, error)
	Read(ctx context.Context, root, rel string) ([]byte, error)
	// Stream produces a range-aware response. rangeHeader is the raw
	// HTTP Range header value or "".
	Stream(ctx context.Context, root, rel, rangeHeader string) (*StreamResponse, error)
	Write(ctx context.Context, root, rel string, data []byte) error
	WriteStream(ctx context.Context, root, rel string, in io.Reader) (int64, error)
	Mkdir(ctx context.Context, root, rel string) error
	// Delete removes rel recursively and is a no-op when it is missing.
	Delete(ctx context.Context, root, rel string) error
	Stat(ctx context.Context, root, rel string) (*Entry, error)
	Exists(ctx context.Context, root, rel string) (bool, error)
	// Probe reports existence and kind without failing on a miss.
	Probe(ctx context.Context, root, rel string) (*Probe, error)
	Move(ctx context.Context, root, src, dst string) error
	Rename(ctx context.Context, root, src, dst string) error
	Copy(ctx context.Context, root, src, dst string, overwrite bool) error
}

// Unimplemented returns ErrorNotImplemented from every optional
// capability. Backends embed it and override what they actually support.
type Unimplemented struct{}

func (Unimplemented) List(ctx context.Context, root, rel string, opt ListOptions) ([]Entry, int, error) {
	return nil, 0, ErrorNotImplemented
}

func (Unimplemented) Read(ctx context.Context, root, rel string) ([]byte, error) {
	return nil, ErrorNotImplemented
}

func (Unimplemented) Stream(ctx context.Context, root, rel, rangeHeader string) (*StreamResponse, error) {
	return nil, ErrorNotImplemented
}

func (Unimplemented) Write(ctx context.Context, root, rel string, data []byte) error {
	return ErrorNotImplemented
}

func (Unimplemented) WriteStream(ctx context.Context, root, rel string, in io.Reader) (int64, error) {
	return 0, ErrorNotImplemented
}

func (Unimplemented) Mkdir(ctx context.Context, root, rel string) error {
	return ErrorNotImplemented
}

func (Unimplemented) Delete(ctx context.Context, root, rel string) error {
	return ErrorNotImplemented
}

func (Unimplemented) Stat(ctx context.Context, root, rel string) (*Entry, error) {
	return nil, ErrorNotImplemented
}

func (Unimplemented) Exists(ctx context.Context, root, rel string) (bool, error) {
	return false, ErrorNotImplemented
}

func (Unimplemented) Probe(ctx context.Context, root, rel string) (*Probe, error) {
	return nil, ErrorNotImplemented
}

func (Unimplemented) Move(ctx context.Context, root, src, dst string) error {
	return ErrorNotImplemented
}

func (Unimplemented) Rename(ctx context.Context, root, src, dst string) error {
	return ErrorNotImplemented
}

func (Unimplemented) Copy(ctx context.Context, root, src, dst string, overwrite bool) error {
	return ErrorNotImplemented
}
