// Package quark provides an adapter over the Quark cloud drive using
// its cookie authenticated web API.
package quark

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/backend/quark/api"
	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/lib/pacer"
	"github.com/qihaolou/Foxel/lib/rest"
)

const (
	minSleep = 10 * time.Millisecond
	maxSleep = 2 * time.Second

	apiBase    = "https://drive.quark.cn/1/clouddrive"
	refererURL = "https://pan.quark.cn"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) quark-cloud-drive/2.5.20 Chrome/100.0.4896.160 " +
		"Electron/18.3.5.4-b478491100 Safari/537.36 Channel/pckk_other_ch"
	ossUserAgent = "aliyun-sdk-js/6.6.1 Chrome 98.0.4758.80 on Windows 10 64-bit"

	// defaultRootFID addresses the top of the drive.
	defaultRootFID = "0"

	// listChunk is the page size asked for from /file/sort.
	listChunk = 100

	// categoryVideo marks video files in listings.
	categoryVideo = 1

	// defaultSettleMs is how long a finished upload is given to become
	// visible before the parent listing refreshes.
	defaultSettleMs = 1000

	// Fid lookups stay valid for a long time, listings only briefly.
	// Mutations through this adapter invalidate eagerly; the TTLs bound
	// staleness from changes made elsewhere.
	fidCacheTTL      = time.Hour
	childrenCacheTTL = 30 * time.Second
	cacheCleanup     = 5 * time.Minute
)

func init() {
	// The stock extension table lacks the video types the transcoding
	// check and upload format hints rely on.
	for ext, typ := range map[string]string{
		".avi":  "video/x-msvideo",
		".flv":  "video/x-flv",
		".m4v":  "video/x-m4v",
		".mkv":  "video/x-matroska",
		".mov":  "video/quicktime",
		".mp4":  "video/mp4",
		".ts":   "video/mp2t",
		".webm": "video/webm",
		".wmv":  "video/x-ms-wmv",
	} {
		_ = mime.AddExtensionType(ext, typ)
	}
	fs.Register(&fs.RegInfo{
		Name:        "Quark",
		Description: "Quark cloud drive (cookie mode)",
		NewAdapter:  NewAdapter,
		Options: fs.Options{{
			Key:         "cookie",
			Label:       "Cookie",
			Type:        fs.TypePassword,
			Required:    true,
			Placeholder: "copied from a signed in pan.quark.cn session",
		}, {
			Key:     "root_fid",
			Label:   "Root FID",
			Type:    fs.TypeString,
			Default: defaultRootFID,
		}, {
			Key:   "use_transcoding_address",
			Label: "Stream videos from transcoded addresses",
			Type:  fs.TypeCheckbox,
		}, {
			Key:   "only_list_video_file",
			Label: "Only list video files",
			Type:  fs.TypeCheckbox,
		}, {
			Key:     "settle_ms",
			Label:   "Upload settle delay (ms)",
			Type:    fs.TypeNumber,
			Default: defaultSettleMs,
		}, {
			Key:         "upload_endpoint",
			Label:       "Upload endpoint override",
			Type:        fs.TypeString,
			Placeholder: "defaults to the object store address the drive issues",
		}},
	})
}

// child pairs a listing entry with the fid addressing it.
type child struct {
	fid   string
	entry fs.Entry
}

// Fs talks to one Quark drive account. Paths are resolved to fids by
// walking cached directory listings, the way the web client does it.
type Fs struct {
	name           string
	rootFID        string
	transcode      bool
	onlyVideo      bool
	settle         time.Duration
	uploadEndpoint string
	srv            *rest.Client
	pacer          *pacer.Pacer

	cookieMu sync.RWMutex
	cookie   string

	dirFIDs  *cache.Cache // "{base}:{rel}" -> fid
	children *cache.Cache // parent fid -> []child
}

// NewAdapter constructs the adapter from a validated config.
func NewAdapter(ctx context.Context, name string, config fs.ConfigMap) (fs.Adapter, error) {
	cookie := config.String("cookie")
	if cookie == "" {
		cookie = config.String("Cookie")
	}
	cookie = sanitizeCookie(cookie)
	if cookie == "" {
		return nil, errors.Wrap(fs.ErrorInvalidArgument, "quark: cookie is required")
	}
	rootFID := config.String("root_fid")
	if rootFID == "" {
		rootFID = defaultRootFID
	}
	f := &Fs{
		name:           name,
		rootFID:        rootFID,
		transcode:      config.Bool("use_transcoding_address"),
		onlyVideo:      config.Bool("only_list_video_file"),
		settle:         time.Duration(config.Int("settle_ms", defaultSettleMs)) * time.Millisecond,
		uploadEndpoint: strings.TrimSuffix(config.String("upload_endpoint"), "/"),
		srv:            rest.NewClient(&http.Client{}).SetRoot(apiBase),
		pacer:          pacer.New().SetMinSleep(minSleep).SetMaxSleep(maxSleep),
		cookie:         cookie,
		dirFIDs:        cache.New(fidCacheTTL, cacheCleanup),
		children:       cache.New(childrenCacheTTL, cacheCleanup),
	}
	f.dirFIDs.Set(rootFID+":", rootFID, cache.DefaultExpiration)
	return f, nil
}

// Name returns the configured instance name.
func (f *Fs) Name() string { return f.name }

// Type returns the backend type tag.
func (f *Fs) Type() string { return "Quark" }

// String converts this Fs to a string for logging.
func (f *Fs) String() string {
	return fmt.Sprintf("Quark root fid %q", f.rootFID)
}

// ResolveRoot returns the fid operations start from. The drive is
// addressed by fid rather than path, so a mount sub path cannot narrow
// it and is ignored.
func (f *Fs) ResolveRoot(subPath string) string {
	return f.rootFID
}

// baseFID falls back to the configured root when no resolved root was
// passed.
func (f *Fs) baseFID(root string) string {
	if root == "" {
		return f.rootFID
	}
	return root
}

// sanitizeCookie flattens a pasted browser cookie into one printable
// ASCII header value.
func sanitizeCookie(raw string) string {
	raw = strings.NewReplacer("\r", "", "\n", "").Replace(raw)
	var parts []string
	for _, p := range strings.Split(raw, ";") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	joined := strings.Join(parts, "; ")
	var b strings.Builder
	b.Grow(len(joined))
	for i := 0; i < len(joined); i++ {
		if joined[i] >= 0x20 && joined[i] <= 0x7e {
			b.WriteByte(joined[i])
		}
	}
	return b.String()
}

// cookieHeader returns the current cookie header value.
func (f *Fs) cookieHeader() string {
	f.cookieMu.RLock()
	defer f.cookieMu.RUnlock()
	return f.cookie
}

// setCookie replaces or appends one key in the stored cookie.
func (f *Fs) setCookie(key, value string) {
	f.cookieMu.Lock()
	defer f.cookieMu.Unlock()
	parts := strings.Split(f.cookie, "; ")
	for i, p := range parts {
		if strings.HasPrefix(p, key+"=") {
			parts[i] = key + "=" + value
			f.cookie = strings.Join(parts, "; ")
			return
		}
	}
	f.cookie += "; " + key + "=" + value
}

// captureCookies picks rotated session cookies out of a reply. The
// service rotates __puus and __pus on most calls and expects the
// client to send the fresh values back.
func (f *Fs) captureCookies(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if (c.Name == "__puus" || c.Name == "__pus") && c.Value != "" {
			f.setCookie(c.Name, c.Value)
		}
	}
}

// apiHeaders builds the headers every drive API call carries.
func (f *Fs) apiHeaders() map[string]string {
	return map[string]string{
		"Cookie":     f.cookieHeader(),
		"Accept":     "application/json, text/plain, */*",
		"Referer":    refererURL,
		"User-Agent": userAgent,
	}
}

// downloadHeaders builds the headers for direct link fetches, which
// are cookie authenticated like the API itself.
func (f *Fs) downloadHeaders() map[string]string {
	return map[string]string{
		"Cookie":     f.cookieHeader(),
		"Referer":    refererURL,
		"User-Agent": userAgent,
	}
}

// shouldRetry returns a boolean as to whether this resp and err deserve
// to be retried. It returns the err as a convenience.
func (f *Fs) shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	return pacer.ShouldRetryHTTP(ctx, resp, err)
}

// call invokes one drive endpoint and decodes the envelope reply. The
// service reports failures inside a 200 body as often as with an HTTP
// status, so both map onto an upstream error.
func (f *Fs) call(ctx context.Context, method, apiPath string, params url.Values, request, response interface{}) error {
	query := url.Values{"pr": {"ucpro"}, "fr": {"pc"}}
	for k, v := range params {
		query[k] = v
	}
	var reqBody []byte
	if request != nil {
		b, err := json.Marshal(request)
		if err != nil {
			return err
		}
		reqBody = b
	}
	var status int
	var body []byte
	err := f.pacer.Call(func() (bool, error) {
		opts := rest.Opts{
			Method:       method,
			Path:         apiPath,
			Parameters:   query,
			ExtraHeaders: f.apiHeaders(),
			IgnoreStatus: true,
		}
		if reqBody != nil {
			opts.Body = bytes.NewReader(reqBody)
			opts.ContentType = "application/json"
		}
		resp, err := f.srv.Call(ctx, &opts)
		if err != nil {
			return f.shouldRetry(ctx, resp, err)
		}
		f.captureCookies(resp)
		if retry, _ := f.shouldRetry(ctx, resp, nil); retry {
			_ = resp.Body.Close()
			return true, fs.Upstreamf(resp.StatusCode, "quark: HTTP %d for %s", resp.StatusCode, apiPath)
		}
		status = resp.StatusCode
		body, err = rest.ReadBody(resp)
		return false, err
	})
	if err != nil {
		return err
	}
	var envelope api.Response
	if jsonErr := json.Unmarshal(body, &envelope); jsonErr != nil {
		if status >= 400 {
			return fs.Upstreamf(http.StatusBadGateway, "quark: HTTP %d for %s", status, apiPath)
		}
		return errors.Wrapf(jsonErr, "quark: decode reply from %s", apiPath)
	}
	if status >= 400 || envelope.Status >= 400 || envelope.Code != 0 {
		return fs.Upstreamf(http.StatusBadGateway, "quark: status=%d code=%d msg=%q", envelope.Status, envelope.Code, envelope.Message)
	}
	if response != nil {
		if err := json.Unmarshal(body, response); err != nil {
			return errors.Wrapf(err, "quark: decode reply from %s", apiPath)
		}
	}
	return nil
}

// entryFromItem converts one listing item into a directory entry. The
// fid rides along in Extra the way the service reports it.
func entryFromItem(it *api.Item) fs.Entry {
	entry := fs.Entry{Name: it.DisplayName(), Kind: fs.KindFile}
	if it.IsDir() {
		entry.IsDir = true
		entry.Kind = fs.KindDir
	} else {
		entry.Size = it.Size
	}
	if it.UpdatedAt > 0 {
		entry.Mtime = it.UpdatedAt / 1000
	}
	if it.FID != "" {
		entry.Extra = map[string]interface{}{"fid": it.FID}
	}
	return entry
}

// listChildren returns the children of a directory fid, fully
// depaginated, from the cache when it has them.
func (f *Fs) listChildren(ctx context.Context, parentFID string) ([]child, error) {
	if v, ok := f.children.Get(parentFID); ok {
		return v.([]child), nil
	}
	var items []api.Item
	total := -1
	for page := 1; ; page++ {
		params := url.Values{
			"pdir_fid":     {parentFID},
			"_page":        {strconv.Itoa(page)},
			"_size":        {strconv.Itoa(listChunk)},
			"_fetch_total": {"1"},
		}
		var result api.SortResponse
		if err := f.call(ctx, "GET", "/file/sort", params, nil, &result); err != nil {
			return nil, errors.Wrapf(err, "list children of fid %q", parentFID)
		}
		items = append(items, result.Data.List...)
		if total < 0 {
			total = result.Metadata.Count()
		}
		if page*listChunk >= total {
			break
		}
	}
	children := make([]child, 0, len(items))
	for i := range items {
		it := &items[i]
		if f.onlyVideo && !it.IsDir() && it.Category != categoryVideo {
			continue
		}
		children = append(children, child{fid: it.FID, entry: entryFromItem(it)})
	}
	f.children.Set(parentFID, children, cache.DefaultExpiration)
	return children, nil
}

// invalidateChildren drops a cached listing after a mutation under it.
func (f *Fs) invalidateChildren(parentFID string) {
	f.children.Delete(parentFID)
}

// resolveDir walks rel segment by segment from base, turning directory
// names into fids via cached listings.
func (f *Fs) resolveDir(ctx context.Context, base, rel string) (string, error) {
	rel = strings.Trim(rel, "/")
	key := base + ":" + rel
	if v, ok := f.dirFIDs.Get(key); ok {
		return v.(string), nil
	}
	if rel == "" {
		f.dirFIDs.Set(key, base, cache.DefaultExpiration)
		return base, nil
	}
	parent := base
	var walked []string
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" {
			continue
		}
		walked = append(walked, seg)
		segKey := base + ":" + strings.Join(walked, "/")
		if v, ok := f.dirFIDs.Get(segKey); ok {
			parent = v.(string)
			continue
		}
		children, err := f.listChildren(ctx, parent)
		if err != nil {
			return "", err
		}
		fid := ""
		for i := range children {
			if children[i].entry.IsDir && children[i].entry.Name == seg {
				fid = children[i].fid
				break
			}
		}
		if fid == "" {
			return "", errors.Wrapf(fs.ErrorNotFound, "directory %q", seg)
		}
		parent = fid
		f.dirFIDs.Set(segKey, fid, cache.DefaultExpiration)
	}
	return parent, nil
}

// resolveParent splits rel and resolves its parent directory to a fid.
func (f *Fs) resolveParent(ctx context.Context, root, rel string) (string, string, error) {
	dir, leaf := path.Split(strings.Trim(rel, "/"))
	parentFID, err := f.resolveDir(ctx, f.baseFID(root), dir)
	return parentFID, leaf, err
}

// findChild looks a parent listing up for an entry named name. A miss
// returns nil with no error.
func (f *Fs) findChild(ctx context.Context, parentFID, name string) (*child, error) {
	children, err := f.listChildren(ctx, parentFID)
	if err != nil {
		return nil, err
	}
	for i := range children {
		if children[i].entry.Name == name {
			return &children[i], nil
		}
	}
	return nil, nil
}

// findFile resolves rel to a file child. Directories and misses both
// report not found, matching how the download endpoints behave.
func (f *Fs) findFile(ctx context.Context, root, rel string) (*child, error) {
	parentFID, leaf, err := f.resolveParent(ctx, root, rel)
	if err != nil {
		return nil, err
	}
	c, err := f.findChild(ctx, parentFID, leaf)
	if err != nil {
		return nil, err
	}
	if c == nil || c.entry.IsDir {
		return nil, errors.Wrapf(fs.ErrorNotFound, "file %q", rel)
	}
	return c, nil
}

// List enumerates the children of rel. The full listing is pulled from
// the service (or the cache) and sorted and paged locally.
func (f *Fs) List(ctx context.Context, root, rel string, opt fs.ListOptions) ([]fs.Entry, int, error) {
	fid, err := f.resolveDir(ctx, f.baseFID(root), rel)
	if err != nil {
		return nil, 0, err
	}
	children, err := f.listChildren(ctx, fid)
	if err != nil {
		return nil, 0, err
	}
	entries := make([]fs.Entry, 0, len(children))
	for i := range children {
		entries = append(entries, children[i].entry)
	}
	fs.SortEntries(entries)
	total := len(entries)
	return fs.PageEntries(entries, opt.Page, opt.PageSize), total, nil
}

// downloadURL asks for a direct link to a file fid.
func (f *Fs) downloadURL(ctx context.Context, fid string) (string, error) {
	var result api.DownloadResponse
	err := f.call(ctx, "POST", "/file/download", nil, &api.DownloadRequest{FIDs: []string{fid}}, &result)
	if err != nil {
		return "", err
	}
	if len(result.Data) == 0 || result.Data[0].URL() == "" {
		return "", fs.Upstreamf(http.StatusBadGateway, "quark: no download url for fid %q", fid)
	}
	return result.Data[0].URL(), nil
}

// transcodeURL asks for a transcoded playback address, returning ""
// when the service has none to offer.
func (f *Fs) transcodeURL(ctx context.Context, fid string) string {
	request := api.PlayRequest{
		FID:         fid,
		Resolutions: "low,normal,high,super,2k,4k",
		Supports:    "fmp4_av,m3u8,dolby_vision",
	}
	var result api.PlayResponse
	if err := f.call(ctx, "POST", "/file/v2/play/project", nil, &request, &result); err != nil {
		fs.Debugf(f, "transcoding lookup failed: %v", err)
		return ""
	}
	for _, v := range result.Data.VideoList {
		if v.VideoInfo.URL != "" {
			return v.VideoInfo.URL
		}
	}
	return ""
}

// fetch GETs a direct link with the drive's download headers.
func (f *Fs) fetch(ctx context.Context, u string, extra map[string]string) (*http.Response, error) {
	headers := f.downloadHeaders()
	for k, v := range extra {
		headers[k] = v
	}
	var resp *http.Response
	err := f.pacer.Call(func() (bool, error) {
		var err error
		resp, err = f.srv.Call(ctx, &rest.Opts{
			Method:       "GET",
			RootURL:      u,
			ExtraHeaders: headers,
		})
		return f.shouldRetry(ctx, resp, err)
	})
	return resp, err
}

// Read fetches the whole of rel into memory via a direct link.
func (f *Fs) Read(ctx context.Context, root, rel string) ([]byte, error) {
	if strings.Trim(rel, "/") == "" {
		return nil, errors.Wrap(fs.ErrorIsDirectory, "read")
	}
	c, err := f.findFile(ctx, root, rel)
	if err != nil {
		return nil, err
	}
	u, err := f.downloadURL(ctx, c.fid)
	if err != nil {
		return nil, err
	}
	resp, err := f.fetch(ctx, u, nil)
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

// probeSize HEADs a direct link for its size, -1 when the link does
// not say.
func (f *Fs) probeSize(ctx context.Context, u string) int64 {
	resp, err := f.srv.Call(ctx, &rest.Opts{
		Method:       "HEAD",
		RootURL:      u,
		ExtraHeaders: f.downloadHeaders(),
		NoResponse:   true,
		IgnoreStatus: true,
	})
	if err != nil {
		fs.Debugf(f, "HEAD failed for direct link: %v", err)
		return -1
	}
	if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	return -1
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

// Stream opens rel for (possibly ranged) reading through a direct
// link. The total size comes from a HEAD probe of the link; when the
// probe fails the reply omits the length headers and serves what the
// link returns.
func (f *Fs) Stream(ctx context.Context, root, rel, rangeHeader string) (*fs.StreamResponse, error) {
	if strings.Trim(rel, "/") == "" {
		return nil, errors.Wrap(fs.ErrorIsDirectory, "stream")
	}
	c, err := f.findFile(ctx, root, rel)
	if err != nil {
		return nil, err
	}
	u, err := f.downloadURL(ctx, c.fid)
	if err != nil {
		return nil, err
	}
	if f.transcode && strings.HasPrefix(mimeByName(rel), "video/") {
		if tr := f.transcodeURL(ctx, c.fid); tr != "" {
			u = tr
		}
	}
	size := f.probeSize(ctx, u)

	status := http.StatusOK
	var start, end int64 = 0, -1
	if strings.HasPrefix(rangeHeader, "bytes=") {
		status = http.StatusPartialContent
		if start, end, err = parseClientRange(rangeHeader); err != nil {
			return nil, err
		}
	}
	if size >= 0 {
		if start >= size {
			return nil, errors.Wrapf(fs.ErrorRangeNotSatisfiable, "start %d beyond size %d", start, size)
		}
		if status == http.StatusPartialContent && (end < 0 || end >= size) {
			end = size - 1
		}
	}

	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Type", mimeByName(rel))
	if status == http.StatusPartialContent && size >= 0 && end >= 0 {
		header.Set("Content-Range", fs.ContentRange(start, end, size))
		header.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	} else if size >= 0 {
		header.Set("Content-Length", strconv.FormatInt(size, 10))
	}

	var extra map[string]string
	if status == http.StatusPartialContent && end >= 0 {
		extra = map[string]string{"Range": fmt.Sprintf("bytes=%d-%d", start, end)}
	}
	resp, err := f.fetch(ctx, u, extra)
	if err != nil {
		if fs.UpstreamStatus(err) == http.StatusNotFound {
			return nil, errors.Wrapf(fs.ErrorNotFound, "stream %q", rel)
		}
		return nil, errors.Wrap(err, "stream failed")
	}
	return &fs.StreamResponse{Status: status, Header: header, Body: resp.Body}, nil
}

// Write stores data at rel.
func (f *Fs) Write(ctx context.Context, root, rel string, data []byte) error {
	_, err := f.WriteStream(ctx, root, rel, bytes.NewReader(data))
	return err
}

// WriteStream uploads rel from a reader. The service wants the file
// hashes before any bytes move, so the body is spooled to a temp file
// first: either the hashes match a file the service already stores and
// the upload finishes instantly, or the spool is shipped part by part
// to the object store fronting the drive.
func (f *Fs) WriteStream(ctx context.Context, root, rel string, in io.Reader) (int64, error) {
	if strings.Trim(rel, "/") == "" {
		return 0, errors.Wrap(fs.ErrorInvalidArgument, "write: missing file name")
	}
	parentFID, leaf, err := f.resolveParent(ctx, root, rel)
	if err != nil {
		return 0, err
	}

	spool, err := os.CreateTemp("", "quark-upload-")
	if err != nil {
		return 0, errors.Wrap(err, "create upload spool")
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()
	md5Sum := md5.New()
	sha1Sum := sha1.New()
	size, err := io.Copy(io.MultiWriter(spool, md5Sum, sha1Sum), in)
	if err != nil {
		return 0, errors.Wrap(err, "spool upload")
	}

	pre, err := f.uploadPre(ctx, leaf, size, parentFID)
	if err != nil {
		return 0, err
	}
	finished, err := f.uploadHash(ctx, pre, hex.EncodeToString(md5Sum.Sum(nil)), hex.EncodeToString(sha1Sum.Sum(nil)))
	if err != nil {
		return 0, err
	}
	if finished {
		f.invalidateChildren(parentFID)
		fs.Infof(f, "wrote %q (%d bytes, hash matched)", rel, size)
		return size, nil
	}

	if err := f.uploadParts(ctx, pre, spool, size, mimeByName(leaf)); err != nil {
		return 0, err
	}
	finish := api.UploadFinishRequest{ObjKey: pre.Data.ObjKey, TaskID: pre.Data.TaskID}
	if err := f.call(ctx, "POST", "/file/upload/finish", nil, &finish, nil); err != nil {
		return 0, err
	}
	// The drive merges the parts asynchronously; give it a moment
	// before the listing cache refreshes.
	if f.settle > 0 {
		select {
		case <-time.After(f.settle):
		case <-ctx.Done():
		}
	}
	f.invalidateChildren(parentFID)
	fs.Infof(f, "wrote %q (%d bytes)", rel, size)
	return size, nil
}

// uploadPre opens an upload task for a new file under parentFID.
func (f *Fs) uploadPre(ctx context.Context, leaf string, size int64, parentFID string) (*api.UploadPreResponse, error) {
	now := time.Now().UnixMilli()
	request := api.UploadPreRequest{
		CCPHashUpdate: true,
		FileName:      leaf,
		FormatType:    mimeByName(leaf),
		CreatedAt:     now,
		UpdatedAt:     now,
		ParentFID:     parentFID,
		Size:          size,
	}
	var result api.UploadPreResponse
	if err := f.call(ctx, "POST", "/file/upload/pre", nil, &request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// uploadHash offers the spool hashes for server side dedup. finished
// reports whether the service already had the bytes.
func (f *Fs) uploadHash(ctx context.Context, pre *api.UploadPreResponse, md5Hex, sha1Hex string) (bool, error) {
	request := api.UpdateHashRequest{MD5: md5Hex, SHA1: sha1Hex, TaskID: pre.Data.TaskID}
	var result api.UpdateHashResponse
	if err := f.call(ctx, "POST", "/file/update/hash", nil, &request, &result); err != nil {
		return false, err
	}
	return result.Data.Finish, nil
}

// objectURL builds the store address for an upload task. The endpoint
// arrives as a bare host which the bucket name prefixes, vhost style.
func (f *Fs) objectURL(pre *api.UploadPre) string {
	if f.uploadEndpoint != "" {
		return f.uploadEndpoint + "/" + pre.ObjKey
	}
	host := pre.UploadURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return "https://" + pre.Bucket + "." + host + "/" + pre.ObjKey
}

// uploadParts ships the spooled bytes to the object store in part_size
// chunks, then commits the multipart upload.
func (f *Fs) uploadParts(ctx context.Context, pre *api.UploadPreResponse, spool *os.File, size int64, contentType string) error {
	partSize := pre.Metadata.PartSize
	if partSize <= 0 {
		return fs.Upstreamf(http.StatusBadGateway, "quark: invalid part size %d", partSize)
	}
	if pre.Data.Bucket == "" || pre.Data.ObjKey == "" || pre.Data.UploadID == "" || pre.Data.UploadURL == "" {
		return fs.Upstreamf(http.StatusBadGateway, "quark: upload task missing storage fields")
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "rewind upload spool")
	}
	objURL := f.objectURL(&pre.Data)
	buf := make([]byte, partSize)
	var etags []string
	for part, left := 1, size; left > 0; part++ {
		n := partSize
		if left < n {
			n = left
		}
		if _, err := io.ReadFull(spool, buf[:n]); err != nil {
			return errors.Wrap(err, "read upload spool")
		}
		etag, err := f.uploadPart(ctx, pre, objURL, contentType, part, buf[:n])
		if err != nil {
			return err
		}
		etags = append(etags, etag)
		left -= n
	}
	return f.commitUpload(ctx, pre, objURL, etags)
}

// uploadAuth has the drive sign one object store request.
func (f *Fs) uploadAuth(ctx context.Context, pre *api.UploadPreResponse, authMeta string) (string, error) {
	request := api.UploadAuthRequest{AuthInfo: pre.Data.AuthInfo, AuthMeta: authMeta, TaskID: pre.Data.TaskID}
	var result api.UploadAuthResponse
	if err := f.call(ctx, "POST", "/file/upload/auth", nil, &request, &result); err != nil {
		return "", err
	}
	if result.Data.AuthKey == "" {
		return "", fs.Upstreamf(http.StatusBadGateway, "quark: upload auth returned no key")
	}
	return result.Data.AuthKey, nil
}

// uploadPart signs and PUTs one part, returning the store's etag for
// the commit.
func (f *Fs) uploadPart(ctx context.Context, pre *api.UploadPreResponse, objURL, contentType string, part int, data []byte) (string, error) {
	date := time.Now().UTC().Format(http.TimeFormat)
	authMeta := fmt.Sprintf("PUT\n\n%s\n%s\nx-oss-date:%s\nx-oss-user-agent:%s\n/%s/%s?partNumber=%d&uploadId=%s",
		contentType, date, date, ossUserAgent,
		pre.Data.Bucket, pre.Data.ObjKey, part, pre.Data.UploadID)
	authKey, err := f.uploadAuth(ctx, pre, authMeta)
	if err != nil {
		return "", err
	}
	resp, err := f.srv.Call(ctx, &rest.Opts{
		Method:  "PUT",
		RootURL: objURL,
		Parameters: url.Values{
			"partNumber": {strconv.Itoa(part)},
			"uploadId":   {pre.Data.UploadID},
		},
		Body:        bytes.NewReader(data),
		ContentType: contentType,
		ExtraHeaders: map[string]string{
			"Authorization":    authKey,
			"Referer":          refererURL + "/",
			"x-oss-date":       date,
			"x-oss-user-agent": ossUserAgent,
		},
		NoResponse: true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "upload part %d", part)
	}
	return resp.Header.Get("Etag"), nil
}

// commitUpload completes the multipart upload. The store checks the
// body hash and forwards the drive's callback so the file lands in the
// account.
func (f *Fs) commitUpload(ctx context.Context, pre *api.UploadPreResponse, objURL string, etags []string) error {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<CompleteMultipartUpload>\n")
	for i, etag := range etags {
		fmt.Fprintf(&b, "<Part>\n<PartNumber>%d</PartNumber>\n<ETag>%s</ETag>\n</Part>\n", i+1, etag)
	}
	b.WriteString("</CompleteMultipartUpload>")
	body := []byte(b.String())
	sum := md5.Sum(body)
	contentMD5 := base64.StdEncoding.EncodeToString(sum[:])

	callback := pre.Data.Callback
	if len(callback) == 0 {
		callback = json.RawMessage("{}")
	}
	callbackB64 := base64.StdEncoding.EncodeToString(callback)

	date := time.Now().UTC().Format(http.TimeFormat)
	authMeta := fmt.Sprintf("POST\n%s\napplication/xml\n%s\nx-oss-callback:%s\nx-oss-date:%s\nx-oss-user-agent:%s\n/%s/%s?uploadId=%s",
		contentMD5, date, callbackB64, date, ossUserAgent,
		pre.Data.Bucket, pre.Data.ObjKey, pre.Data.UploadID)
	authKey, err := f.uploadAuth(ctx, pre, authMeta)
	if err != nil {
		return err
	}
	_, err = f.srv.Call(ctx, &rest.Opts{
		Method:      "POST",
		RootURL:     objURL,
		Parameters:  url.Values{"uploadId": {pre.Data.UploadID}},
		Body:        bytes.NewReader(body),
		ContentType: "application/xml",
		ExtraHeaders: map[string]string{
			"Authorization":    authKey,
			"Content-MD5":      contentMD5,
			"Referer":          refererURL + "/",
			"x-oss-callback":   callbackB64,
			"x-oss-date":       date,
			"x-oss-user-agent": ossUserAgent,
		},
		NoResponse: true,
	})
	if err != nil {
		return errors.Wrap(err, "commit multipart upload")
	}
	return nil
}

// Mkdir creates the directory at rel. The parent must already exist.
func (f *Fs) Mkdir(ctx context.Context, root, rel string) error {
	if strings.Trim(rel, "/") == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "mkdir: refusing to create the mount root")
	}
	parentFID, leaf, err := f.resolveParent(ctx, root, rel)
	if err != nil {
		return err
	}
	request := api.CreateDirRequest{FileName: leaf, ParentFID: parentFID}
	if err := f.call(ctx, "POST", "/file", nil, &request, nil); err != nil {
		return errors.Wrapf(err, "mkdir %q", rel)
	}
	f.invalidateChildren(parentFID)
	fs.Infof(f, "created directory %q", rel)
	return nil
}

// Delete removes the file or directory at rel. A missing target is a
// no-op.
func (f *Fs) Delete(ctx context.Context, root, rel string) error {
	if strings.Trim(rel, "/") == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "delete: refusing to remove the mount root")
	}
	parentFID, leaf, err := f.resolveParent(ctx, root, rel)
	if err != nil {
		return err
	}
	c, err := f.findChild(ctx, parentFID, leaf)
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	request := api.FileActionRequest{ActionType: 1, ExcludeFIDs: []string{}, FileList: []string{c.fid}}
	if err := f.call(ctx, "POST", "/file/delete", nil, &request, nil); err != nil {
		return errors.Wrapf(err, "delete %q", rel)
	}
	f.invalidateChildren(parentFID)
	fs.Infof(f, "deleted %q", rel)
	return nil
}

// renameFID renames a file in place.
func (f *Fs) renameFID(ctx context.Context, fid, name string) error {
	request := api.RenameRequest{FID: fid, FileName: name}
	return f.call(ctx, "POST", "/file/rename", nil, &request, nil)
}

// Move relocates src into dst's parent and renames it when the leaf
// changes. The service splits the two into separate calls.
func (f *Fs) Move(ctx context.Context, root, src, dst string) error {
	srcParent, srcLeaf, err := f.resolveParent(ctx, root, src)
	if err != nil {
		return err
	}
	obj, err := f.findChild(ctx, srcParent, srcLeaf)
	if err != nil {
		return err
	}
	if obj == nil {
		return errors.Wrapf(fs.ErrorNotFound, "move %q", src)
	}
	dstParent, dstLeaf, err := f.resolveParent(ctx, root, dst)
	if err != nil {
		return err
	}
	if dstLeaf == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "move: missing destination name")
	}
	if srcParent != dstParent {
		request := api.FileActionRequest{
			ActionType:  1,
			ExcludeFIDs: []string{},
			FileList:    []string{obj.fid},
			ToParentFID: dstParent,
		}
		if err := f.call(ctx, "POST", "/file/move", nil, &request, nil); err != nil {
			return errors.Wrapf(err, "move %q", src)
		}
		f.invalidateChildren(srcParent)
		f.invalidateChildren(dstParent)
	}
	if obj.entry.Name != dstLeaf {
		if err := f.renameFID(ctx, obj.fid, dstLeaf); err != nil {
			return errors.Wrapf(err, "move %q", src)
		}
		f.invalidateChildren(dstParent)
	}
	fs.Infof(f, "moved %q to %q", src, dst)
	return nil
}

// Rename changes the leaf name of src in place, staying in its parent.
func (f *Fs) Rename(ctx context.Context, root, src, dst string) error {
	srcParent, srcLeaf, err := f.resolveParent(ctx, root, src)
	if err != nil {
		return err
	}
	obj, err := f.findChild(ctx, srcParent, srcLeaf)
	if err != nil {
		return err
	}
	if obj == nil {
		return errors.Wrapf(fs.ErrorNotFound, "rename %q", src)
	}
	dstLeaf := fs.BaseName("/" + strings.Trim(dst, "/"))
	if dstLeaf == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "rename: missing destination name")
	}
	if err := f.renameFID(ctx, obj.fid, dstLeaf); err != nil {
		return errors.Wrapf(err, "rename %q", src)
	}
	f.invalidateChildren(srcParent)
	fs.Infof(f, "renamed %q to %q", src, dstLeaf)
	return nil
}

// Copy is not available over this interface.
func (f *Fs) Copy(ctx context.Context, root, src, dst string, overwrite bool) error {
	return errors.Wrap(fs.ErrorNotImplemented, "quark: copy is not supported")
}

// Stat describes rel out of its parent's listing.
func (f *Fs) Stat(ctx context.Context, root, rel string) (*fs.Entry, error) {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return &fs.Entry{IsDir: true, Kind: fs.KindDir}, nil
	}
	parentFID, leaf, err := f.resolveParent(ctx, root, rel)
	if err != nil {
		return nil, err
	}
	c, err := f.findChild(ctx, parentFID, leaf)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.Wrapf(fs.ErrorNotFound, "stat %q", rel)
	}
	entry := c.entry
	return &entry, nil
}

// Exists reports whether rel resolves at all.
func (f *Fs) Exists(ctx context.Context, root, rel string) (bool, error) {
	_, err := f.Stat(ctx, root, rel)
	if err != nil {
		if errors.Is(err, fs.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Probe is the debug stat: existence and kind without an error on a
// miss.
func (f *Fs) Probe(ctx context.Context, root, rel string) (*fs.Probe, error) {
	entry, err := f.Stat(ctx, root, rel)
	if err != nil {
		if errors.Is(err, fs.ErrorNotFound) {
			return &fs.Probe{}, nil
		}
		return nil, err
	}
	probe := &fs.Probe{Exists: true, IsDir: entry.IsDir, IsFile: !entry.IsDir}
	if !entry.IsDir {
		probe.Size = entry.Size
	}
	return probe, nil
}
