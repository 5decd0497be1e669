// Package telegram provides a read-only adapter over the file
// attachments of one Telegram chat, using the Bot API.
//
// A bot in the chat sees uploads as updates; the adapter presents the
// recent ones as a flat directory of "<message id>_<name>" entries and
// downloads them by message id. Bots cannot rewrite chat history, so
// every mutating operation reports ErrorNotImplemented.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/backend/telegram/api"
	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/lib/pacer"
	"github.com/qihaolou/Foxel/lib/rest"
)

const (
	minSleep = 100 * time.Millisecond
	maxSleep = 2 * time.Second

	apiBase = "https://api.telegram.org"

	// listLimit bounds one refresh; the Bot API serves at most 100
	// updates per getUpdates call.
	listLimit = 100

	// File ids stay valid far longer than listings stay fresh.
	fileCacheTTL    = time.Hour
	listingCacheTTL = 30 * time.Second
	cacheCleanup    = 5 * time.Minute

	listingKey = "entries"
)

func init() {
	fs.Register(&fs.RegInfo{
		Name:        "Telegram",
		Description: "Telegram chat attachments (bot mode, read only)",
		NewAdapter:  NewAdapter,
		Options: fs.Options{{
			Key:         "bot_token",
			Label:       "Bot token",
			Type:        fs.TypePassword,
			Required:    true,
			Placeholder: "123456:ABC-DEF...",
		}, {
			Key:         "chat_id",
			Label:       "Chat ID",
			Type:        fs.TypeString,
			Required:    true,
			Placeholder: "-100123456789 or channel_username",
		}},
	})
}

// Fs lists and downloads the attachments a bot can see in one chat.
type Fs struct {
	fs.Unimplemented
	name   string
	token  string
	chatID string
	srv    *rest.Client
	pacer  *pacer.Pacer

	files   *cache.Cache // message id -> *api.Attachment
	listing *cache.Cache // listingKey -> []fs.Entry
}

// NewAdapter constructs the adapter from a validated config.
func NewAdapter(ctx context.Context, name string, config fs.ConfigMap) (fs.Adapter, error) {
	token := strings.TrimSpace(config.String("bot_token"))
	if token == "" {
		return nil, errors.Wrap(fs.ErrorInvalidArgument, "telegram: bot_token is required")
	}
	chatID := strings.TrimSpace(config.String("chat_id"))
	if chatID == "" {
		return nil, errors.Wrap(fs.ErrorInvalidArgument, "telegram: chat_id is required")
	}
	return &Fs{
		name:    name,
		token:   token,
		chatID:  chatID,
		srv:     rest.NewClient(&http.Client{}).SetRoot(apiBase),
		pacer:   pacer.New().SetMinSleep(minSleep).SetMaxSleep(maxSleep),
		files:   cache.New(fileCacheTTL, cacheCleanup),
		listing: cache.New(listingCacheTTL, cacheCleanup),
	}, nil
}

// Name returns the configured instance name.
func (f *Fs) Name() string { return f.name }

// Type returns the backend type tag.
func (f *Fs) Type() string { return "Telegram" }

// String converts this Fs to a string for logging.
func (f *Fs) String() string {
	return fmt.Sprintf("Telegram chat %s", f.chatID)
}

// ResolveRoot ignores the sub path: a chat has no directories to
// narrow into.
func (f *Fs) ResolveRoot(subPath string) string { return "" }

func (f *Fs) botPath(method string) string {
	return "/bot" + f.token + "/" + method
}

func (f *Fs) downloadPath(filePath string) string {
	return "/file/bot" + f.token + "/" + rest.URLPathEscape(filePath)
}

// matchChat reports whether a message belongs to the configured chat.
// chat_id holds either the numeric id or a channel username.
func (f *Fs) matchChat(c api.Chat) bool {
	if id, err := strconv.ParseInt(f.chatID, 10, 64); err == nil {
		return c.ID == id
	}
	return strings.EqualFold(c.Username, strings.TrimPrefix(f.chatID, "@"))
}

// attachmentName picks the display name: the attachment's own name,
// else a message text that plausibly is one, else "Unknown".
func attachmentName(m *api.Message, att *api.Attachment) string {
	if att.FileName != "" {
		return att.FileName
	}
	if m.Text != "" && len(m.Text) < 256 &&
		strings.Contains(m.Text, ".") && !strings.Contains(m.Text, "\n") {
		return m.Text
	}
	return "Unknown"
}

func upstreamStatus(code int) int {
	if code == 0 {
		return http.StatusBadGateway
	}
	return code
}

// shouldRetry returns a boolean as to whether this resp and err deserve
// to be retried. It returns the err as a convenience.
func (f *Fs) shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	return pacer.ShouldRetryHTTP(ctx, resp, err)
}

// refresh pulls the recent updates and rebuilds the listing and the
// file cache.
func (f *Fs) refresh(ctx context.Context) ([]fs.Entry, error) {
	var result api.UpdatesResponse
	opts := rest.Opts{
		Method: "GET",
		Path:   f.botPath("getUpdates"),
		Parameters: url.Values{
			"limit":  {strconv.Itoa(listLimit)},
			"offset": {strconv.Itoa(-listLimit)},
		},
	}
	err := f.pacer.Call(func() (bool, error) {
		resp, err := f.srv.CallJSON(ctx, &opts, nil, &result)
		return f.shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't list chat attachments")
	}
	if !result.OK {
		return nil, fs.Upstreamf(upstreamStatus(result.ErrorCode), "getUpdates: %s", result.Description)
	}
	// An edited message shows up twice; the later update wins.
	byID := map[int64]fs.Entry{}
	for i := range result.Result {
		m := result.Result[i].Msg()
		if m == nil || !f.matchChat(m.Chat) {
			continue
		}
		att := m.Attachment()
		if att == nil {
			continue
		}
		id := strconv.FormatInt(m.MessageID, 10)
		f.files.Set(id, att, cache.DefaultExpiration)
		byID[m.MessageID] = fs.Entry{
			Name:  id + "_" + attachmentName(m, att),
			Size:  att.FileSize,
			Mtime: m.Date,
			Kind:  fs.KindFile,
		}
	}
	entries := make([]fs.Entry, 0, len(byID))
	for _, entry := range byID {
		entries = append(entries, entry)
	}
	fs.SortEntries(entries)
	f.listing.Set(listingKey, entries, cache.DefaultExpiration)
	fs.Debugf(f, "refreshed listing: %d attachment(s)", len(entries))
	return entries, nil
}

func (f *Fs) entries(ctx context.Context) ([]fs.Entry, error) {
	if cached, ok := f.listing.Get(listingKey); ok {
		return cached.([]fs.Entry), nil
	}
	return f.refresh(ctx)
}

// List enumerates the chat attachments. The chat is flat: any rel
// below it has no children.
func (f *Fs) List(ctx context.Context, root, rel string, opt fs.ListOptions) ([]fs.Entry, int, error) {
	if rel != "" {
		return []fs.Entry{}, 0, nil
	}
	entries, err := f.entries(ctx)
	if err != nil {
		return nil, 0, err
	}
	return fs.PageEntries(entries, opt.Page, opt.PageSize), len(entries), nil
}

// parseRel extracts the message id out of "<message id>_<name>".
func parseRel(rel string) (int64, error) {
	idx := strings.IndexByte(rel, '_')
	if idx <= 0 {
		return 0, errors.Wrapf(fs.ErrorNotFound, "malformed attachment path %q", rel)
	}
	id, err := strconv.ParseInt(rel[:idx], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(fs.ErrorNotFound, "malformed attachment path %q", rel)
	}
	return id, nil
}

// attachment finds the file behind rel, refreshing the listing once
// for messages newer than the cache.
func (f *Fs) attachment(ctx context.Context, rel string) (*api.Attachment, error) {
	id, err := parseRel(rel)
	if err != nil {
		return nil, err
	}
	key := strconv.FormatInt(id, 10)
	if att, ok := f.files.Get(key); ok {
		return att.(*api.Attachment), nil
	}
	if _, err := f.refresh(ctx); err != nil {
		return nil, err
	}
	if att, ok := f.files.Get(key); ok {
		return att.(*api.Attachment), nil
	}
	return nil, errors.Wrapf(fs.ErrorNotFound, "message %d has no attachment", id)
}

// resolveFile asks getFile for the static download path of att.
func (f *Fs) resolveFile(ctx context.Context, att *api.Attachment) (string, error) {
	var result api.FileResponse
	opts := rest.Opts{
		Method:     "GET",
		Path:       f.botPath("getFile"),
		Parameters: url.Values{"file_id": {att.FileID}},
	}
	err := f.pacer.Call(func() (bool, error) {
		resp, err := f.srv.CallJSON(ctx, &opts, nil, &result)
		return f.shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return "", errors.Wrap(err, "couldn't resolve attachment")
	}
	if !result.OK || result.Result.FilePath == "" {
		return "", fs.Upstreamf(upstreamStatus(result.ErrorCode), "getFile: %s", result.Description)
	}
	return result.Result.FilePath, nil
}

// Read fetches the whole attachment into memory.
func (f *Fs) Read(ctx context.Context, root, rel string) ([]byte, error) {
	att, err := f.attachment(ctx, rel)
	if err != nil {
		return nil, err
	}
	filePath, err := f.resolveFile(ctx, att)
	if err != nil {
		return nil, err
	}
	var body []byte
	err = f.pacer.Call(func() (bool, error) {
		resp, err := f.srv.Call(ctx, &rest.Opts{Method: "GET", Path: f.downloadPath(filePath)})
		if err != nil {
			return f.shouldRetry(ctx, resp, err)
		}
		body, err = rest.ReadBody(resp)
		return f.shouldRetry(ctx, resp, err)
	})
	if err != nil {
		if fs.UpstreamStatus(err) == http.StatusNotFound {
			return nil, errors.Wrapf(fs.ErrorNotFound, "read %q", rel)
		}
		return nil, errors.Wrap(err, "read failed")
	}
	return body, nil
}

// Stream proxies the static file endpoint, passing the byte range
// through.
func (f *Fs) Stream(ctx context.Context, root, rel, rangeHeader string) (*fs.StreamResponse, error) {
	att, err := f.attachment(ctx, rel)
	if err != nil {
		return nil, err
	}
	filePath, err := f.resolveFile(ctx, att)
	if err != nil {
		return nil, err
	}
	opts := rest.Opts{Method: "GET", Path: f.downloadPath(filePath)}
	if rangeHeader != "" {
		opts.ExtraHeaders = map[string]string{"Range": rangeHeader}
	}
	resp, err := f.srv.Call(ctx, &opts)
	if err != nil {
		switch fs.UpstreamStatus(err) {
		case http.StatusNotFound:
			return nil, errors.Wrapf(fs.ErrorNotFound, "stream %q", rel)
		case http.StatusRequestedRangeNotSatisfiable:
			return nil, errors.Wrapf(fs.ErrorRangeNotSatisfiable, "range %q", rangeHeader)
		}
		return nil, errors.Wrap(err, "stream failed")
	}
	header := http.Header{}
	for _, k := range []string{"Content-Type", "Content-Length", "Content-Range"} {
		if v := resp.Header.Get(k); v != "" {
			header.Set(k, v)
		}
	}
	if header.Get("Content-Type") == "" {
		if att.MimeType != "" {
			header.Set("Content-Type", att.MimeType)
		} else {
			header.Set("Content-Type", "application/octet-stream")
		}
	}
	header.Set("Accept-Ranges", "bytes")
	return &fs.StreamResponse{Status: resp.StatusCode, Header: header, Body: resp.Body}, nil
}

func findEntry(entries []fs.Entry, name string) *fs.Entry {
	for i := range entries {
		if entries[i].Name == name {
			entry := entries[i]
			return &entry
		}
	}
	return nil
}

// Stat finds rel in the listing, refreshing once for fresh uploads.
func (f *Fs) Stat(ctx context.Context, root, rel string) (*fs.Entry, error) {
	if rel == "" {
		return &fs.Entry{IsDir: true, Kind: fs.KindDir}, nil
	}
	entries, err := f.entries(ctx)
	if err != nil {
		return nil, err
	}
	if entry := findEntry(entries, rel); entry != nil {
		return entry, nil
	}
	if entries, err = f.refresh(ctx); err != nil {
		return nil, err
	}
	if entry := findEntry(entries, rel); entry != nil {
		return entry, nil
	}
	return nil, errors.Wrapf(fs.ErrorNotFound, "stat %q", rel)
}

// Exists reports whether rel is in the listing.
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

// Probe reports existence and kind without failing on a miss.
func (f *Fs) Probe(ctx context.Context, root, rel string) (*fs.Probe, error) {
	entry, err := f.Stat(ctx, root, rel)
	if err != nil {
		if errors.Is(err, fs.ErrorNotFound) {
			return &fs.Probe{}, nil
		}
		return nil, err
	}
	return &fs.Probe{
		Exists: true,
		IsDir:  entry.IsDir,
		IsFile: !entry.IsDir,
		Size:   entry.Size,
	}, nil
}

// Check the interfaces are satisfied
var _ fs.Adapter = (*Fs)(nil)
