// Package webdav provides an adapter over a remote WebDAV collection.
package webdav

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/qihaolou/Foxel/backend/webdav/api"
	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/lib/pacer"
	"github.com/qihaolou/Foxel/lib/rest"
)

const (
	minSleep       = 10 * time.Millisecond
	maxSleep       = 2 * time.Second
	defaultTimeout = 15 // seconds

	// Ranged downloads are fetched in segments of this size so one broken
	// upstream connection costs a segment retry rather than the transfer.
	segmentSize    = 5 * 1024 * 1024
	segmentRetries = 3
)

func init() {
	fs.Register(&fs.RegInfo{
		Name:        "webdav",
		Description: "WebDAV",
		NewAdapter:  NewAdapter,
		Options: fs.Options{{
			Key:         "base_url",
			Label:       "Base URL",
			Type:        fs.TypeString,
			Required:    true,
			Placeholder: "https://example.com/dav/",
		}, {
			Key:   "username",
			Label: "Username",
			Type:  fs.TypeString,
		}, {
			Key:   "password",
			Label: "Password",
			Type:  fs.TypePassword,
		}, {
			Key:     "timeout",
			Label:   "Timeout (seconds)",
			Type:    fs.TypeNumber,
			Default: defaultTimeout,
		}},
	})
}

// propfindProps is the property set a listing or stat asks for.
const propfindProps = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:displayname />
    <d:getcontentlength />
    <d:getlastmodified />
    <d:resourcetype />
  </d:prop>
</d:propfind>`

// Fs talks to one WebDAV endpoint.
type Fs struct {
	name    string
	baseURL string // always ends in /
	srv     *rest.Client
	pacer   *pacer.Pacer
	timeout time.Duration
}

// NewAdapter constructs the adapter from a validated config.
func NewAdapter(ctx context.Context, name string, config fs.ConfigMap) (fs.Adapter, error) {
	baseURL := strings.TrimRight(config.String("base_url"), "/") + "/"
	if !strings.HasPrefix(baseURL, "http") {
		return nil, errors.Wrap(fs.ErrorInvalidArgument, "webdav: base_url must be http or https")
	}
	timeout := config.Int("timeout", defaultTimeout)
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	f := &Fs{
		name:    name,
		baseURL: baseURL,
		srv:     rest.NewClient(&http.Client{}).SetRoot(baseURL),
		pacer:   pacer.New().SetMinSleep(minSleep).SetMaxSleep(maxSleep),
		timeout: time.Duration(timeout) * time.Second,
	}
	if user := config.String("username"); user != "" {
		f.srv.SetUserPass(user, config.String("password"))
	}
	return f, nil
}

// Name returns the configured instance name.
func (f *Fs) Name() string { return f.name }

// Type returns the backend type tag.
func (f *Fs) Type() string { return "webdav" }

// String converts this Fs to a string for logging.
func (f *Fs) String() string {
	return fmt.Sprintf("webdav root at %s", f.baseURL)
}

// ResolveRoot joins the endpoint with the mount's sub path, keeping the
// trailing slash collections need.
func (f *Fs) ResolveRoot(subPath string) string {
	subPath = strings.Trim(subPath, "/")
	if subPath == "" {
		return f.baseURL
	}
	return f.baseURL + rest.URLPathEscape(subPath) + "/"
}

// urlFor joins the mount root URL with the escaped rel. Collections get a
// trailing slash.
func urlFor(root, rel string, dir bool) string {
	u := strings.TrimRight(root, "/") + "/"
	rel = strings.Trim(rel, "/")
	if rel != "" {
		u += rest.URLPathEscape(rel)
	}
	if dir && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// shouldRetry returns a boolean as to whether this resp and err deserve
// to be retried. It returns the err as a convenience.
func (f *Fs) shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	return pacer.ShouldRetryHTTP(ctx, resp, err)
}

// opContext bounds one discrete call with the configured timeout.
// Streaming bodies handed to the caller keep the request context instead.
func (f *Fs) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.timeout)
}

// propfind runs a PROPFIND at u with the given Depth and decodes the
// multistatus response.
func (f *Fs) propfind(ctx context.Context, u, depth string) (*api.Multistatus, error) {
	opts := rest.Opts{
		Method:       "PROPFIND",
		RootURL:      u,
		ContentType:  `application/xml; charset="utf-8"`,
		ExtraHeaders: map[string]string{"Depth": depth},
	}
	var result api.Multistatus
	var resp *http.Response
	var err error
	cctx, cancel := f.opContext(ctx)
	defer cancel()
	err = f.pacer.Call(func() (bool, error) {
		opts.Body = strings.NewReader(propfindProps)
		resp, err = f.srv.CallXML(cctx, &opts, nil, &result)
		return f.shouldRetry(cctx, resp, err)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// itemIsDir reads the resource type out of a multistatus item, falling
// back to the href shape for servers that omit it.
func itemIsDir(item *api.Response) bool {
	if t := item.Props.Type; t != nil {
		if t.Space == "DAV:" && t.Local == "collection" {
			return true
		}
		fs.Debugf(nil, "Unknown resource type %q/%q on %q", t.Space, t.Local, item.Props.Name)
	}
	// iscollection is a Microsoft extension, but a reliable indicator
	// when present.
	if t := item.Props.IsCollection; t != nil {
		switch x := strings.ToLower(*t); x {
		case "0", "false":
			return false
		case "1", "true":
			return true
		default:
			fs.Debugf(nil, "Unknown value %q for IsCollection", x)
		}
	}
	return strings.HasSuffix(item.Href, "/")
}

// entryMtime converts a parsed getlastmodified into epoch seconds,
// keeping 0 for missing or unparseable times.
func entryMtime(t api.Time) int64 {
	mt := time.Time(t)
	if mt.IsZero() || mt.Unix() < 0 {
		return 0
	}
	return mt.Unix()
}

// List enumerates the immediate children of rel via PROPFIND Depth 1.
func (f *Fs) List(ctx context.Context, root, rel string, opt fs.ListOptions) ([]fs.Entry, int, error) {
	u := urlFor(root, rel, true)
	result, err := f.propfind(ctx, u, "1")
	if err != nil {
		if fs.UpstreamStatus(err) == http.StatusNotFound {
			return nil, 0, errors.Wrapf(fs.ErrorNotFound, "list %q", rel)
		}
		return nil, 0, errors.Wrap(err, "couldn't list files")
	}
	base, err := url.Parse(u)
	if err != nil {
		return nil, 0, errors.Wrap(err, "couldn't parse listing URL")
	}
	basePath := base.Path
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	seen := map[string]bool{}
	entries := make([]fs.Entry, 0, len(result.Responses))
	for i := range result.Responses {
		item := &result.Responses[i]
		href, err := url.Parse(item.Href)
		if err != nil {
			fs.Debugf(f, "Ignoring unparseable href %q: %v", item.Href, err)
			continue
		}
		hrefPath := href.Path
		if !strings.HasPrefix(hrefPath, basePath) {
			fs.Debugf(f, "Item with unknown path received: %q, %q", hrefPath, basePath)
			continue
		}
		relPath := strings.Trim(hrefPath[len(basePath):], "/")
		if relPath == "" {
			// The listing contains info about itself which we ignore.
			continue
		}
		name := strings.SplitN(relPath, "/", 2)[0]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if !item.Props.StatusOK() {
			fs.Debugf(f, "Ignoring item %q with bad status %q", name, item.Props.Status)
			continue
		}
		isDir := itemIsDir(item)
		size := item.Props.Size
		kind := fs.KindFile
		if isDir {
			size = 0
			kind = fs.KindDir
		}
		entries = append(entries, fs.Entry{
			Name:  name,
			IsDir: isDir,
			Size:  size,
			Mtime: entryMtime(item.Props.Modified),
			Kind:  kind,
		})
	}
	fs.SortEntries(entries)
	total := len(entries)
	return fs.PageEntries(entries, opt.Page, opt.PageSize), total, nil
}

// Read fetches the whole of rel into memory.
func (f *Fs) Read(ctx context.Context, root, rel string) ([]byte, error) {
	u := urlFor(root, rel, false)
	var body []byte
	cctx, cancel := f.opContext(ctx)
	defer cancel()
	err := f.pacer.Call(func() (bool, error) {
		resp, err := f.srv.Call(cctx, &rest.Opts{Method: "GET", RootURL: u})
		if err != nil {
			return f.shouldRetry(cctx, resp, err)
		}
		body, err = rest.ReadBody(resp)
		return f.shouldRetry(cctx, resp, err)
	})
	if err != nil {
		if fs.UpstreamStatus(err) == http.StatusNotFound {
			return nil, errors.Wrapf(fs.ErrorNotFound, "read %q", rel)
		}
		return nil, errors.Wrap(err, "read failed")
	}
	return body, nil
}

// Write stores data at rel with a single PUT.
func (f *Fs) Write(ctx context.Context, root, rel string, data []byte) error {
	u := urlFor(root, rel, false)
	size := int64(len(data))
	cctx, cancel := f.opContext(ctx)
	defer cancel()
	err := f.pacer.Call(func() (bool, error) {
		resp, err := f.srv.Call(cctx, &rest.Opts{
			Method:        "PUT",
			RootURL:       u,
			Body:          bytes.NewReader(data),
			ContentLength: &size,
			NoResponse:    true,
		})
		return f.shouldRetry(cctx, resp, err)
	})
	if err != nil {
		return errors.Wrapf(err, "write %q", rel)
	}
	fs.Infof(f, "wrote %q (%d bytes)", rel, size)
	return nil
}

// WriteStream uploads rel from a reader. The body cannot be replayed so
// there is no retry.
func (f *Fs) WriteStream(ctx context.Context, root, rel string, in io.Reader) (int64, error) {
	u := urlFor(root, rel, false)
	counter := &countingReader{r: in}
	_, err := f.srv.Call(ctx, &rest.Opts{
		Method:     "PUT",
		RootURL:    u,
		Body:       counter,
		NoResponse: true,
	})
	if err != nil {
		return counter.n, errors.Wrapf(err, "write stream %q", rel)
	}
	fs.Infof(f, "wrote %q (%d bytes)", rel, counter.n)
	return counter.n, nil
}

// Mkdir creates the collection at rel. An existing collection is not an
// error.
func (f *Fs) Mkdir(ctx context.Context, root, rel string) error {
	u := urlFor(root, rel, true)
	cctx, cancel := f.opContext(ctx)
	defer cancel()
	err := f.pacer.Call(func() (bool, error) {
		resp, err := f.srv.Call(cctx, &rest.Opts{Method: "MKCOL", RootURL: u, NoResponse: true})
		return f.shouldRetry(cctx, resp, err)
	})
	// 405 means the collection already exists.
	if fs.UpstreamStatus(err) == http.StatusMethodNotAllowed {
		err = nil
	}
	if err != nil {
		return errors.Wrapf(err, "mkdir %q", rel)
	}
	fs.Infof(f, "created directory %q", rel)
	return nil
}

// Delete removes rel. Missing targets are a no-op.
func (f *Fs) Delete(ctx context.Context, root, rel string) error {
	u := urlFor(root, rel, false)
	cctx, cancel := f.opContext(ctx)
	defer cancel()
	err := f.pacer.Call(func() (bool, error) {
		resp, err := f.srv.Call(cctx, &rest.Opts{Method: "DELETE", RootURL: u, NoResponse: true})
		return f.shouldRetry(cctx, resp, err)
	})
	if fs.UpstreamStatus(err) == http.StatusNotFound {
		err = nil
	}
	if err != nil {
		return errors.Wrapf(err, "delete %q", rel)
	}
	fs.Infof(f, "deleted %q", rel)
	return nil
}

// copyOrMove issues a MOVE or COPY with a Destination header. overwrite
// is sent as the Overwrite header when non-nil.
func (f *Fs) copyOrMove(ctx context.Context, method, root, src, dst string, overwrite *bool) error {
	headers := map[string]string{
		"Destination": urlFor(root, dst, false),
	}
	if overwrite != nil {
		if *overwrite {
			headers["Overwrite"] = "T"
		} else {
			headers["Overwrite"] = "F"
		}
	}
	cctx, cancel := f.opContext(ctx)
	defer cancel()
	err := f.pacer.Call(func() (bool, error) {
		resp, err := f.srv.Call(cctx, &rest.Opts{
			Method:       method,
			RootURL:      urlFor(root, src, false),
			NoResponse:   true,
			ExtraHeaders: headers,
		})
		return f.shouldRetry(cctx, resp, err)
	})
	switch fs.UpstreamStatus(err) {
	case http.StatusNotFound:
		return errors.Wrapf(fs.ErrorNotFound, "%s %q", strings.ToLower(method), src)
	case http.StatusPreconditionFailed:
		return errors.Wrapf(fs.ErrorAlreadyExists, "%s to %q", strings.ToLower(method), dst)
	}
	if err != nil {
		return errors.Wrapf(err, "%s %q", strings.ToLower(method), src)
	}
	return nil
}

// Move relocates src to dst within the same mount.
func (f *Fs) Move(ctx context.Context, root, src, dst string) error {
	if err := f.copyOrMove(ctx, "MOVE", root, src, dst, nil); err != nil {
		return err
	}
	fs.Infof(f, "moved %q to %q", src, dst)
	return nil
}

// Rename is a move: rel paths already carry the new name.
func (f *Fs) Rename(ctx context.Context, root, src, dst string) error {
	if err := f.copyOrMove(ctx, "MOVE", root, src, dst, nil); err != nil {
		return err
	}
	fs.Infof(f, "renamed %q to %q", src, dst)
	return nil
}

// Copy duplicates src to dst server side. With overwrite false an
// existing destination fails with ErrorAlreadyExists (412 upstream).
func (f *Fs) Copy(ctx context.Context, root, src, dst string, overwrite bool) error {
	if err := f.copyOrMove(ctx, "COPY", root, src, dst, &overwrite); err != nil {
		return err
	}
	fs.Infof(f, "copied %q to %q", src, dst)
	return nil
}

// stat reads the properties of rel with a Depth 0 PROPFIND.
func (f *Fs) stat(ctx context.Context, root, rel string) (*fs.Entry, error) {
	u := urlFor(root, rel, false)
	result, err := f.propfind(ctx, u, "0")
	if err != nil {
		if fs.UpstreamStatus(err) == http.StatusNotFound {
			return nil, errors.Wrapf(fs.ErrorNotFound, "stat %q", rel)
		}
		return nil, errors.Wrap(err, "stat failed")
	}
	name := ""
	if rel != "" {
		name = path.Base(strings.Trim(rel, "/"))
	}
	entry := &fs.Entry{Name: name, Kind: fs.KindFile}
	for i := range result.Responses {
		item := &result.Responses[i]
		if !item.Props.StatusOK() {
			continue
		}
		entry.IsDir = itemIsDir(item)
		entry.Size = item.Props.Size
		entry.Mtime = entryMtime(item.Props.Modified)
		if entry.IsDir {
			entry.Size = 0
			entry.Kind = fs.KindDir
		}
		break
	}
	return entry, nil
}

// Stat describes rel. Image files get their EXIF fields in Extra, which
// costs one full download.
func (f *Fs) Stat(ctx context.Context, root, rel string) (*fs.Entry, error) {
	entry, err := f.stat(ctx, root, rel)
	if err != nil {
		return nil, err
	}
	if !entry.IsDir && strings.HasPrefix(mimeByName(rel), "image/") {
		if body, err := f.Read(ctx, root, rel); err == nil {
			if fields := exifFields(body); len(fields) > 0 {
				entry.Extra = map[string]interface{}{"exif": fields}
			}
		}
	}
	return entry, nil
}

// Exists reports whether rel answers a HEAD.
func (f *Fs) Exists(ctx context.Context, root, rel string) (bool, error) {
	u := urlFor(root, rel, false)
	cctx, cancel := f.opContext(ctx)
	defer cancel()
	resp, err := f.srv.Call(cctx, &rest.Opts{
		Method:       "HEAD",
		RootURL:      u,
		NoResponse:   true,
		IgnoreStatus: true,
	})
	if err != nil {
		return false, nil
	}
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent, nil
}

// Probe reports existence and kind without failing on a miss.
func (f *Fs) Probe(ctx context.Context, root, rel string) (*fs.Probe, error) {
	entry, err := f.stat(ctx, root, rel)
	if errors.Is(err, fs.ErrorNotFound) {
		return &fs.Probe{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &fs.Probe{
		Exists: true,
		IsDir:  entry.IsDir,
		IsFile: !entry.IsDir,
		Size:   entry.Size,
	}, nil
}

// mimeByName guesses a content type from the file extension.
func mimeByName(rel string) string {
	if ct := mime.TypeByExtension(path.Ext(rel)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// parseClientRange interprets the caller's Range header without knowing
// the total size: "bytes=s-e" with either side optional. end is -1 when
// open ended.
func parseClientRange(h string) (start, end int64, err error) {
	end = -1
	if !strings.HasPrefix(h, "bytes=") {
		return 0, 0, errors.Wrapf(fs.ErrorInvalidArgument, "bad range %q", h)
	}
	s, e, ok := strings.Cut(strings.TrimPrefix(h, "bytes="), "-")
	if !ok {
		return 0, 0, errors.Wrapf(fs.ErrorInvalidArgument, "bad range %q", h)
	}
	if v := strings.TrimSpace(s); v != "" {
		start, err = strconv.ParseInt(v, 10, 64)
		if err != nil || start < 0 {
			return 0, 0, errors.Wrapf(fs.ErrorInvalidArgument, "bad range %q", h)
		}
	}
	if v := strings.TrimSpace(e); v != "" {
		end, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, errors.Wrapf(fs.ErrorInvalidArgument, "bad range %q", h)
		}
	}
	return start, end, nil
}

// probeSize HEADs the file for its size and range support. total is -1
// when the server does not say. A 404 is the only error surfaced.
func (f *Fs) probeSize(ctx context.Context, u string) (total int64, acceptRanges bool, err error) {
	total = -1
	cctx, cancel := f.opContext(ctx)
	defer cancel()
	resp, herr := f.srv.Call(cctx, &rest.Opts{
		Method:       "HEAD",
		RootURL:      u,
		NoResponse:   true,
		IgnoreStatus: true,
	})
	if herr != nil {
		fs.Debugf(f, "HEAD failed for %q: %v", u, herr)
		return total, false, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return 0, false, errors.Wrap(fs.ErrorNotFound, "stream")
	}
	if resp.StatusCode == http.StatusOK {
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}
		acceptRanges = strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")
	}
	return total, acceptRanges, nil
}

// probeSizeRange asks for the first byte to learn the size from
// Content-Range when HEAD did not say.
func (f *Fs) probeSizeRange(ctx context.Context, u string) int64 {
	cctx, cancel := f.opContext(ctx)
	defer cancel()
	resp, err := f.srv.Call(cctx, &rest.Opts{
		Method:       "GET",
		RootURL:      u,
		IgnoreStatus: true,
		ExtraHeaders: map[string]string{"Range": "bytes=0-0"},
	})
	if err != nil {
		fs.Debugf(f, "range probe failed for %q: %v", u, err)
		return -1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return -1
	}
	return totalFromContentRange(resp.Header.Get("Content-Range"))
}

// totalFromContentRange pulls the total size out of "bytes 0-0/1234".
func totalFromContentRange(cr string) int64 {
	i := strings.LastIndex(cr, "/")
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(cr[i+1:], 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Stream produces a range-aware byte stream for rel. The requested window
// is fetched in segments with per-segment retries; a failure before the
// first byte fails the request, a failure after it truncates the stream.
func (f *Fs) Stream(ctx context.Context, root, rel, rangeHeader string) (*fs.StreamResponse, error) {
	u := urlFor(root, rel, false)
	contentType := mimeByName(rel)

	var (
		start int64
		end   int64 = -1
		sts         = http.StatusOK
	)
	if rangeHeader != "" {
		var err error
		start, end, err = parseClientRange(rangeHeader)
		if err != nil {
			return nil, err
		}
		sts = http.StatusPartialContent
	}

	total, acceptRanges, err := f.probeSize(ctx, u)
	if err != nil {
		return nil, err
	}
	if total < 0 && end < 0 {
		total = f.probeSizeRange(ctx, u)
	}
	if total >= 0 && end < 0 {
		end = total - 1
	}
	if end >= 0 && end < start {
		return nil, errors.Wrapf(fs.ErrorRangeNotSatisfiable, "range %q", rangeHeader)
	}

	// No client range and no upstream range support: hand the body
	// through untouched.
	if rangeHeader == "" && !acceptRanges {
		return f.passthrough(ctx, u, contentType)
	}

	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Type", contentType)
	header.Set("X-VFS-Segmented", "1")
	if sts == http.StatusPartialContent && total >= 0 {
		header.Set("Content-Range", fs.ContentRange(start, end, total))
	}
	if end >= 0 {
		header.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	}

	sr := &segmentReader{f: f, ctx: ctx, url: u, rel: rel, next: start, end: end}
	// Open the first segment now so a dead upstream fails the request
	// instead of truncating a started response.
	if err := sr.fetch(); err != nil {
		return nil, err
	}
	return &fs.StreamResponse{Status: sts, Header: header, Body: sr}, nil
}

// passthrough forwards the upstream body untouched for servers without
// range support.
func (f *Fs) passthrough(ctx context.Context, u, contentType string) (*fs.StreamResponse, error) {
	resp, err := f.srv.Call(ctx, &rest.Opts{Method: "GET", RootURL: u, IgnoreStatus: true})
	if err != nil {
		return nil, errors.Wrap(err, "stream")
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, errors.Wrap(fs.ErrorNotFound, "stream")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := rest.ReadBody(resp)
		return nil, fs.Upstreamf(resp.StatusCode, "%s", strings.TrimSpace(string(body)))
	}
	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = contentType
	}
	header.Set("Content-Type", ct)
	header.Set("X-VFS-Remote-Status", strconv.Itoa(resp.StatusCode))
	if resp.ContentLength >= 0 {
		header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	return &fs.StreamResponse{Status: resp.StatusCode, Header: header, Body: resp.Body}, nil
}

// segmentReader fetches the requested window in fixed-size segments. The
// next offset advances with every byte handed out, so a mid-segment
// failure resumes exactly where the caller stopped seeing data.
type segmentReader struct {
	f        *Fs
	ctx      context.Context
	url      string
	rel      string
	next     int64         // next offset to request
	end      int64         // inclusive, -1 while unknown
	cur      io.ReadCloser // current segment body
	terminal bool          // current segment is known to be the last
	started  bool          // at least one byte was handed out
	done     bool
}

func (r *segmentReader) Read(p []byte) (int, error) {
	for {
		if r.cur != nil {
			n, err := r.cur.Read(p)
			if n > 0 {
				r.started = true
				r.next += int64(n)
				return n, nil
			}
			_ = r.cur.Close()
			r.cur = nil
			if err == io.EOF {
				if r.terminal {
					r.done = true
				}
				continue
			}
			fs.Warnf(r.f, "segment of %q broke at offset %d: %v", r.rel, r.next, err)
			continue
		}
		if r.done || (r.end >= 0 && r.next > r.end) {
			return 0, io.EOF
		}
		if err := r.fetch(); err != nil {
			if r.started {
				fs.Errorf(r.f, "aborting stream of %q at offset %d: %v", r.rel, r.next, err)
				r.done = true
				return 0, io.EOF
			}
			return 0, err
		}
	}
}

// fetch opens the segment starting at r.next, retrying transient
// failures a few times.
func (r *segmentReader) fetch() error {
	segEnd := r.next + segmentSize - 1
	if r.end >= 0 && segEnd > r.end {
		segEnd = r.end
	}
	var lastErr error
	for attempt := 1; attempt <= segmentRetries; attempt++ {
		resp, err := r.f.srv.Call(r.ctx, &rest.Opts{
			Method:       "GET",
			RootURL:      r.url,
			IgnoreStatus: true,
			ExtraHeaders: map[string]string{"Range": fmt.Sprintf("bytes=%d-%d", r.next, segEnd)},
		})
		if err != nil {
			lastErr = err
			fs.Warnf(r.f, "segment %d-%d of %q attempt %d: %v", r.next, segEnd, r.rel, attempt, err)
			continue
		}
		switch resp.StatusCode {
		case http.StatusOK, http.StatusPartialContent:
			// A 200 with the end still unknown means the server ignored
			// the Range and sent everything: stop after this body.
			r.terminal = resp.StatusCode == http.StatusOK && r.end < 0
			if r.end < 0 {
				if t := totalFromContentRange(resp.Header.Get("Content-Range")); t >= 0 {
					r.end = t - 1
				}
			}
			r.cur = resp.Body
			return nil
		case http.StatusNotFound:
			_ = resp.Body.Close()
			return errors.Wrapf(fs.ErrorNotFound, "stream %q", r.rel)
		default:
			body, _ := rest.ReadBody(resp)
			lastErr = fs.Upstreamf(resp.StatusCode, "%s", strings.TrimSpace(string(body)))
			fs.Warnf(r.f, "segment %d-%d of %q attempt %d: status %d", r.next, segEnd, r.rel, attempt, resp.StatusCode)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("segment fetch failed")
	}
	if fs.UpstreamStatus(lastErr) == 0 {
		lastErr = fs.Upstreamf(http.StatusBadGateway, "%v", lastErr)
	}
	return errors.Wrapf(lastErr, "stream %q", r.rel)
}

// Close drops the in-flight segment.
func (r *segmentReader) Close() error {
	r.done = true
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}

// countingReader counts the bytes an upload actually sent.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// tagCollector accumulates EXIF tags into a flat string map.
type tagCollector map[string]string

func (c tagCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c[string(name)] = strings.Trim(tag.String(), `"`)
	return nil
}

// exifFields reads the EXIF tags out of an image body, nil when there
// are none.
func exifFields(body []byte) map[string]string {
	ex, err := exif.Decode(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	fields := make(tagCollector)
	if err := ex.Walk(fields); err != nil || len(fields) == 0 {
		return nil
	}
	return fields
}
