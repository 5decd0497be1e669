// Package onedrive provides an adapter over Microsoft OneDrive using
// the Graph API.
package onedrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/qihaolou/Foxel/backend/onedrive/api"
	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/lib/pacer"
	"github.com/qihaolou/Foxel/lib/rest"
)

const (
	minSleep = 10 * time.Millisecond
	maxSleep = 2 * time.Second

	graphURL = "https://graph.microsoft.com/v1.0"
	authURL  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	tokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"

	// driveRoot addresses the drive of the signed in account.
	driveRoot = "/me/drive/root"

	// expiryMargin is how long before the reported expiry a token is
	// treated as stale.
	expiryMargin = 300 * time.Second

	// listChunk is the page size asked for with $top.
	listChunk = 999
)

func init() {
	fs.Register(&fs.RegInfo{
		Name:        "OneDrive",
		Description: "Microsoft OneDrive",
		NewAdapter:  NewAdapter,
		Options: fs.Options{{
			Key:      "client_id",
			Label:    "Client ID",
			Type:     fs.TypeString,
			Required: true,
		}, {
			Key:      "client_secret",
			Label:    "Client Secret",
			Type:     fs.TypePassword,
			Required: true,
		}, {
			Key:      "refresh_token",
			Label:    "Refresh Token",
			Type:     fs.TypePassword,
			Required: true,
		}, {
			Key:         "root",
			Label:       "Root path",
			Type:        fs.TypeString,
			Placeholder: "folder inside the drive, defaults to the drive root",
		}},
	})
}

// tokenSource swaps the stored refresh token for short lived access
// tokens, caching each one until shortly before it expires. Concurrent
// refreshes collapse into a single upstream call.
type tokenSource struct {
	conf    *oauth2.Config
	refresh string

	group singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newTokenSource(clientID, clientSecret, refreshToken string) *tokenSource {
	return &tokenSource{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
				// The login service wants the client credentials in the
				// form body, not in a basic auth header.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		refresh: refreshToken,
	}
}

// Token returns a valid access token, refreshing when the cached one
// is missing or about to expire.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.token != "" && time.Until(ts.expiry) > 0 {
		token := ts.token
		ts.mu.Unlock()
		return token, nil
	}
	ts.mu.Unlock()

	result, err, _ := ts.group.Do("refresh", func() (interface{}, error) {
		tok, err := ts.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: ts.refresh}).Token()
		if err != nil {
			return nil, fs.Upstreamf(http.StatusUnauthorized, "token refresh failed: %v", err)
		}
		ts.mu.Lock()
		ts.token = tok.AccessToken
		ts.expiry = tok.Expiry.Add(-expiryMargin)
		ts.mu.Unlock()
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops the cached token so the next call refreshes.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiry = time.Time{}
	ts.mu.Unlock()
}

// Fs talks to one drive of one Microsoft account.
type Fs struct {
	name  string
	root  string
	srv   *rest.Client
	ts    *tokenSource
	pacer *pacer.Pacer
}

// NewAdapter constructs the adapter from a validated config.
func NewAdapter(ctx context.Context, name string, config fs.ConfigMap) (fs.Adapter, error) {
	clientID := config.String("client_id")
	clientSecret := config.String("client_secret")
	refreshToken := config.String("refresh_token")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.Wrap(fs.ErrorInvalidArgument, "onedrive: client_id, client_secret and refresh_token are required")
	}
	f := &Fs{
		name:  name,
		root:  strings.Trim(config.String("root"), "/"),
		srv:   rest.NewClient(&http.Client{}).SetRoot(graphURL),
		ts:    newTokenSource(clientID, clientSecret, refreshToken),
		pacer: pacer.New().SetMinSleep(minSleep).SetMaxSleep(maxSleep),
	}
	return f, nil
}

// Name returns the configured instance name.
func (f *Fs) Name() string { return f.name }

// Type returns the backend type tag.
func (f *Fs) Type() string { return "OneDrive" }

// String converts this Fs to a string for logging.
func (f *Fs) String() string {
	return fmt.Sprintf("OneDrive root %q", f.root)
}

// ResolveRoot joins the configured drive folder with the mount's sub
// path.
func (f *Fs) ResolveRoot(subPath string) string {
	subPath = strings.Trim(subPath, "/")
	switch {
	case subPath == "":
		return f.root
	case f.root == "":
		return subPath
	}
	return f.root + "/" + subPath
}

// apiPath maps the resolved root and rel onto the path addressing form
// the Graph expects: ":/escaped/path" below the drive root, or "" for
// the drive root itself.
func apiPath(root, rel string) string {
	p := path.Join(strings.Trim(root, "/"), strings.Trim(rel, "/"))
	if p == "" || p == "." {
		return ""
	}
	return ":" + rest.URLPathEscape("/"+p)
}

// childrenPath addresses the child collection of p.
func childrenPath(p string) string {
	if p == "" {
		return "/children"
	}
	return p + ":/children"
}

// shouldRetry returns a boolean as to whether this resp and err deserve
// to be retried. It returns the err as a convenience.
func (f *Fs) shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	return pacer.ShouldRetryHTTP(ctx, resp, err)
}

// withToken injects a bearer token and runs the request through the
// pacer, refreshing the token once when the service rejects it.
func (f *Fs) withToken(ctx context.Context, opts *rest.Opts, do func() (*http.Response, error)) (resp *http.Response, err error) {
	retried := false
	for {
		token, terr := f.ts.Token(ctx)
		if terr != nil {
			return nil, terr
		}
		if opts.ExtraHeaders == nil {
			opts.ExtraHeaders = map[string]string{}
		}
		opts.ExtraHeaders["Authorization"] = "Bearer " + token
		err = f.pacer.Call(func() (bool, error) {
			resp, err = do()
			return f.shouldRetry(ctx, resp, err)
		})
		if err == nil || retried || fs.UpstreamStatus(err) != http.StatusUnauthorized {
			return resp, err
		}
		fs.Debugf(f, "access token rejected, refreshing: %v", err)
		f.ts.Invalidate()
		retried = true
	}
}

// callJSON runs an authenticated JSON request against the Graph.
func (f *Fs) callJSON(ctx context.Context, opts *rest.Opts, request, response interface{}) (*http.Response, error) {
	return f.withToken(ctx, opts, func() (*http.Response, error) {
		return f.srv.CallJSON(ctx, opts, request, response)
	})
}

// callRaw runs an authenticated request, handing back the raw
// response.
func (f *Fs) callRaw(ctx context.Context, opts *rest.Opts) (*http.Response, error) {
	return f.withToken(ctx, opts, func() (*http.Response, error) {
		return f.srv.Call(ctx, opts)
	})
}

// itemInfo fetches the metadata of the item at p.
func (f *Fs) itemInfo(ctx context.Context, p string) (*api.Item, error) {
	opts := rest.Opts{Method: "GET", Path: driveRoot + p}
	var info api.Item
	if _, err := f.callJSON(ctx, &opts, nil, &info); err != nil {
		if fs.UpstreamStatus(err) == http.StatusNotFound {
			return nil, fs.ErrorNotFound
		}
		return nil, err
	}
	return &info, nil
}

// entryFromItem converts a drive item into a directory entry.
func entryFromItem(item *api.Item) fs.Entry {
	entry := fs.Entry{Name: item.Name, Kind: fs.KindFile}
	if item.IsFolder() {
		entry.IsDir = true
		entry.Kind = fs.KindDir
	} else {
		entry.Size = item.Size
	}
	if !item.LastModifiedDateTime.IsZero() {
		entry.Mtime = item.LastModifiedDateTime.Unix()
	}
	return entry
}

// List enumerates the immediate children of rel, following the paging
// links until the listing is complete. A folder the drive has never
// seen lists as empty rather than failing.
func (f *Fs) List(ctx context.Context, root, rel string, opt fs.ListOptions) ([]fs.Entry, int, error) {
	opts := rest.Opts{
		Method:     "GET",
		Path:       driveRoot + childrenPath(apiPath(root, rel)),
		Parameters: url.Values{"$top": {strconv.Itoa(listChunk)}},
	}
	entries := []fs.Entry{}
	for {
		var result api.ListChildrenResponse
		_, err := f.callJSON(ctx, &opts, nil, &result)
		if err != nil {
			if fs.UpstreamStatus(err) == http.StatusNotFound && len(entries) == 0 {
				return []fs.Entry{}, 0, nil
			}
			return nil, 0, errors.Wrap(err, "couldn't list files")
		}
		for i := range result.Value {
			entries = append(entries, entryFromItem(&result.Value[i]))
		}
		if result.NextLink == "" {
			break
		}
		opts = rest.Opts{Method: "GET", RootURL: result.NextLink}
	}
	fs.SortEntries(entries)
	total := len(entries)
	return fs.PageEntries(entries, opt.Page, opt.PageSize), total, nil
}

// Read fetches the whole of rel into memory. The content endpoint
// redirects to a pre-authenticated URL which the client follows.
func (f *Fs) Read(ctx context.Context, root, rel string) ([]byte, error) {
	p := apiPath(root, rel)
	if p == "" {
		return nil, errors.Wrap(fs.ErrorIsDirectory, "read")
	}
	opts := rest.Opts{Method: "GET", Path: driveRoot + p + ":/content"}
	resp, err := f.callRaw(ctx, &opts)
	if err != nil {
		if fs.UpstreamStatus(err) == http.StatusNotFound {
			return nil, errors.Wrapf(fs.ErrorNotFound, "read %q", rel)
		}
		return nil, errors.Wrap(err, "read failed")
	}
	body, err := rest.ReadBody(resp)
	if err != nil {
		return nil, errors.Wrap(err, "read failed")
	}
	return body, nil
}

// Write stores data at rel with a single content upload.
func (f *Fs) Write(ctx context.Context, root, rel string, data []byte) error {
	p := apiPath(root, rel)
	if p == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "write: refusing to overwrite the drive root")
	}
	size := int64(len(data))
	opts := rest.Opts{
		Method:        "PUT",
		Path:          driveRoot + p + ":/content",
		ContentType:   "application/octet-stream",
		ContentLength: &size,
	}
	var info api.Item
	_, err := f.withToken(ctx, &opts, func() (*http.Response, error) {
		opts.Body = bytes.NewReader(data)
		return f.srv.CallJSON(ctx, &opts, nil, &info)
	})
	if err != nil {
		return errors.Wrapf(err, "write %q", rel)
	}
	fs.Infof(f, "wrote %q (%d bytes)", rel, size)
	return nil
}

// WriteStream uploads rel from a reader. The body cannot be replayed
// so there is no retry.
func (f *Fs) WriteStream(ctx context.Context, root, rel string, in io.Reader) (int64, error) {
	p := apiPath(root, rel)
	if p == "" {
		return 0, errors.Wrap(fs.ErrorInvalidArgument, "write: refusing to overwrite the drive root")
	}
	token, err := f.ts.Token(ctx)
	if err != nil {
		return 0, err
	}
	counter := &countingReader{r: in}
	var info api.Item
	_, err = f.srv.CallJSON(ctx, &rest.Opts{
		Method:       "PUT",
		Path:         driveRoot + p + ":/content",
		Body:         counter,
		ContentType:  "application/octet-stream",
		ExtraHeaders: map[string]string{"Authorization": "Bearer " + token},
	}, nil, &info)
	if err != nil {
		return counter.n, errors.Wrapf(err, "write stream %q", rel)
	}
	fs.Infof(f, "wrote %q (%d bytes)", rel, info.Size)
	return info.Size, nil
}

// Mkdir creates the folder at rel. The parent must already exist; an
// existing folder of the same name fails with ErrorAlreadyExists.
func (f *Fs) Mkdir(ctx context.Context, root, rel string) error {
	full := strings.Trim(rel, "/")
	if full == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "mkdir: refusing to create the drive root")
	}
	dir, leaf := path.Split(full)
	opts := rest.Opts{
		Method: "POST",
		Path:   driveRoot + childrenPath(apiPath(root, dir)),
	}
	mkdir := api.CreateItemRequest{
		Name:             leaf,
		ConflictBehavior: "fail",
	}
	var info api.Item
	_, err := f.callJSON(ctx, &opts, &mkdir, &info)
	if fs.UpstreamStatus(err) == http.StatusConflict {
		return errors.Wrapf(fs.ErrorAlreadyExists, "mkdir %q", rel)
	}
	if err != nil {
		return errors.Wrapf(err, "mkdir %q", rel)
	}
	fs.Infof(f, "created directory %q", rel)
	return nil
}

// Delete removes rel, folders included. Missing targets are a no-op.
func (f *Fs) Delete(ctx context.Context, root, rel string) error {
	p := apiPath(root, rel)
	if p == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "delete: refusing to delete the drive root")
	}
	opts := rest.Opts{Method: "DELETE", Path: driveRoot + p, NoResponse: true}
	_, err := f.callRaw(ctx, &opts)
	if fs.UpstreamStatus(err) == http.StatusNotFound {
		err = nil
	}
	if err != nil {
		return errors.Wrapf(err, "delete %q", rel)
	}
	fs.Infof(f, "deleted %q", rel)
	return nil
}

// moveItem re-parents and renames src onto dst. The destination folder
// must already exist.
func (f *Fs) moveItem(ctx context.Context, root, src, dst string) error {
	srcPath := apiPath(root, src)
	if srcPath == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "move: refusing to move the drive root")
	}
	dstDir, dstLeaf := path.Split(strings.Trim(dst, "/"))
	if dstLeaf == "" {
		return errors.Wrapf(fs.ErrorInvalidArgument, "move: bad destination %q", dst)
	}
	parent, err := f.itemInfo(ctx, apiPath(root, dstDir))
	if err != nil {
		return errors.Wrapf(err, "move: destination folder of %q", dst)
	}
	move := api.MoveItemRequest{
		ParentReference: &api.ItemReference{ID: parent.ID},
		Name:            dstLeaf,
	}
	opts := rest.Opts{Method: "PATCH", Path: driveRoot + srcPath}
	var info api.Item
	if _, err := f.callJSON(ctx, &opts, &move, &info); err != nil {
		if fs.UpstreamStatus(err) == http.StatusNotFound {
			return errors.Wrapf(fs.ErrorNotFound, "move %q", src)
		}
		return errors.Wrapf(err, "move %q", src)
	}
	return nil
}

// Move relocates src to dst within the same mount.
func (f *Fs) Move(ctx context.Context, root, src, dst string) error {
	if err := f.moveItem(ctx, root, src, dst); err != nil {
		return err
	}
	fs.Infof(f, "moved %q to %q", src, dst)
	return nil
}

// Rename is a move: rel paths already carry the new name.
func (f *Fs) Rename(ctx context.Context, root, src, dst string) error {
	if err := f.moveItem(ctx, root, src, dst); err != nil {
		return err
	}
	fs.Infof(f, "renamed %q to %q", src, dst)
	return nil
}

// Copy asks the service to copy src to dst. The copy runs server side
// as an async job, so the 202 acknowledgement is success here. The
// facade clears the destination first when overwrite is requested.
func (f *Fs) Copy(ctx context.Context, root, src, dst string, overwrite bool) error {
	srcPath := apiPath(root, src)
	if srcPath == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "copy: refusing to copy the drive root")
	}
	dstDir, dstLeaf := path.Split(strings.Trim(dst, "/"))
	if dstLeaf == "" {
		return errors.Wrapf(fs.ErrorInvalidArgument, "copy: bad destination %q", dst)
	}
	parent, err := f.itemInfo(ctx, apiPath(root, dstDir))
	if err != nil {
		return errors.Wrapf(err, "copy: destination folder of %q", dst)
	}
	copyReq := api.CopyItemRequest{
		ParentReference: &api.ItemReference{ID: parent.ID},
		Name:            dstLeaf,
	}
	opts := rest.Opts{
		Method:     "POST",
		Path:       driveRoot + srcPath + ":/copy",
		NoResponse: true,
	}
	if _, err := f.callJSON(ctx, &opts, &copyReq, nil); err != nil {
		if fs.UpstreamStatus(err) == http.StatusNotFound {
			return errors.Wrapf(fs.ErrorNotFound, "copy %q", src)
		}
		return errors.Wrapf(err, "copy %q", src)
	}
	fs.Infof(f, "copied %q to %q", src, dst)
	return nil
}

// Stat describes the item at rel.
func (f *Fs) Stat(ctx context.Context, root, rel string) (*fs.Entry, error) {
	info, err := f.itemInfo(ctx, apiPath(root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrorNotFound) {
			return nil, errors.Wrapf(fs.ErrorNotFound, "stat %q", rel)
		}
		return nil, errors.Wrap(err, "stat failed")
	}
	entry := entryFromItem(info)
	return &entry, nil
}

// Exists reports whether rel resolves to an item.
func (f *Fs) Exists(ctx context.Context, root, rel string) (bool, error) {
	_, err := f.itemInfo(ctx, apiPath(root, rel))
	if errors.Is(err, fs.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Probe reports existence and kind without failing on a miss.
func (f *Fs) Probe(ctx context.Context, root, rel string) (*fs.Probe, error) {
	info, err := f.itemInfo(ctx, apiPath(root, rel))
	if errors.Is(err, fs.ErrorNotFound) {
		return &fs.Probe{}, nil
	}
	if err != nil {
		return nil, err
	}
	probe := &fs.Probe{
		Exists: true,
		IsDir:  info.IsFolder(),
		IsFile: !info.IsFolder(),
	}
	if probe.IsFile {
		probe.Size = info.Size
	}
	return probe, nil
}

// parseRange interprets a bytes range header against the known size.
// The start must land inside the file; an end past it clamps to the
// last byte.
func parseRange(header string, size int64) (start, end int64, err error) {
	start, end = 0, size-1
	if !strings.HasPrefix(header, "bytes=") {
		return start, end, nil
	}
	s, e, _ := strings.Cut(strings.TrimPrefix(header, "bytes="), "-")
	if v := strings.TrimSpace(s); v != "" {
		start, err = strconv.ParseInt(v, 10, 64)
		if err != nil || start < 0 {
			return 0, 0, errors.Wrapf(fs.ErrorInvalidArgument, "bad range %q", header)
		}
	}
	if v := strings.TrimSpace(e); v != "" {
		end, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, errors.Wrapf(fs.ErrorInvalidArgument, "bad range %q", header)
		}
	}
	if start >= size {
		return 0, 0, errors.Wrapf(fs.ErrorRangeNotSatisfiable, "range %q outside size %d", header, size)
	}
	if end >= size {
		end = size - 1
	}
	if start > end {
		return 0, 0, errors.Wrapf(fs.ErrorRangeNotSatisfiable, "range %q outside size %d", header, size)
	}
	return start, end, nil
}

// Stream produces a range-aware byte stream for rel, read through the
// item's pre-authenticated download URL.
func (f *Fs) Stream(ctx context.Context, root, rel, rangeHeader string) (*fs.StreamResponse, error) {
	p := apiPath(root, rel)
	if p == "" {
		return nil, errors.Wrap(fs.ErrorIsDirectory, "stream")
	}
	info, err := f.itemInfo(ctx, p)
	if err != nil {
		if errors.Is(err, fs.ErrorNotFound) {
			return nil, errors.Wrapf(fs.ErrorNotFound, "stream %q", rel)
		}
		return nil, errors.Wrap(err, "stream")
	}
	if info.IsFolder() {
		return nil, errors.Wrapf(fs.ErrorIsDirectory, "stream %q", rel)
	}
	if info.DownloadURL == "" {
		return nil, fs.Upstreamf(http.StatusBadGateway, "no download URL for %q", rel)
	}

	size := info.Size
	contentType := "application/octet-stream"
	if info.File != nil && info.File.MimeType != "" {
		contentType = info.File.MimeType
	}

	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Type", contentType)
	header.Set("Content-Disposition", `inline; filename="`+url.PathEscape(fs.BaseName("/"+rel))+`"`)
	status := http.StatusOK
	start, end := int64(0), size-1
	if rangeHeader != "" {
		start, end, err = parseRange(rangeHeader, size)
		if err != nil {
			return nil, err
		}
		status = http.StatusPartialContent
		header.Set("Content-Range", fs.ContentRange(start, end, size))
		header.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	} else {
		header.Set("Content-Length", strconv.FormatInt(size, 10))
	}

	// The download URL carries its own auth, so this request skips the
	// bearer token.
	dl := rest.Opts{Method: "GET", RootURL: info.DownloadURL}
	if size > 0 {
		dl.ExtraHeaders = map[string]string{"Range": fmt.Sprintf("bytes=%d-%d", start, end)}
	}
	var resp *http.Response
	err = f.pacer.Call(func() (bool, error) {
		resp, err = f.srv.Call(ctx, &dl)
		return f.shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "stream %q", rel)
	}
	return &fs.StreamResponse{Status: status, Header: header, Body: resp.Body}, nil
}

// Thumbnail fetches a service generated thumbnail of the named size
// class ("small", "medium", "large"). A nil slice with no error means
// the service has none and the caller renders its own.
func (f *Fs) Thumbnail(ctx context.Context, root, rel, size string) ([]byte, error) {
	p := apiPath(root, rel)
	if p == "" {
		return nil, nil
	}
	opts := rest.Opts{Method: "GET", Path: driveRoot + p + ":/thumbnails/0/" + size}
	var thumb api.ThumbnailResponse
	if _, err := f.callJSON(ctx, &opts, nil, &thumb); err != nil || thumb.URL == "" {
		return nil, nil
	}
	resp, err := f.srv.Call(ctx, &rest.Opts{Method: "GET", RootURL: thumb.URL})
	if err != nil {
		return nil, nil
	}
	body, err := rest.ReadBody(resp)
	if err != nil {
		return nil, nil
	}
	return body, nil
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
