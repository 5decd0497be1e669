package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qihaolou/Foxel/backend/telegram/api"
	"github.com/qihaolou/Foxel/fs"
)

// newTestAdapter points the adapter at one server playing both the Bot
// API and its static file host.
func newTestAdapter(t *testing.T, chatID string, handler http.HandlerFunc) *Fs {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := NewAdapter(context.Background(), "tg", fs.ConfigMap{
		"bot_token": "42:TESTTOKEN",
		"chat_id":   chatID,
	})
	require.NoError(t, err)
	f := a.(*Fs)
	f.srv.SetRoot(srv.URL)
	return f
}

func replyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func docUpdate(updateID, messageID int64, name string, size int64) map[string]interface{} {
	return map[string]interface{}{
		"update_id": updateID,
		"message": map[string]interface{}{
			"message_id": messageID,
			"date":       1714650000 + messageID,
			"chat":       map[string]interface{}{"id": -100555},
			"document": map[string]interface{}{
				"file_id":   fmt.Sprintf("doc-%d", messageID),
				"file_name": name,
				"file_size": size,
				"mime_type": "application/pdf",
			},
		},
	}
}

func updatesReply(updates ...map[string]interface{}) map[string]interface{} {
	if updates == nil {
		updates = []map[string]interface{}{}
	}
	return map[string]interface{}{"ok": true, "result": updates}
}

func TestNewAdapterRequiresConfig(t *testing.T) {
	_, err := NewAdapter(context.Background(), "tg", fs.ConfigMap{"chat_id": "-1"})
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))
	_, err = NewAdapter(context.Background(), "tg", fs.ConfigMap{"bot_token": "42:T"})
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))

	a, err := NewAdapter(context.Background(), "tg", fs.ConfigMap{"bot_token": " 42:T ", "chat_id": "-100555"})
	require.NoError(t, err)
	f := a.(*Fs)
	assert.Equal(t, "tg", f.Name())
	assert.Equal(t, "Telegram", f.Type())
	assert.Equal(t, "42:T", f.token)
	assert.Equal(t, "", f.ResolveRoot("ignored/sub/path"))
}

func TestMatchChat(t *testing.T) {
	f := &Fs{chatID: "-100555"}
	assert.True(t, f.matchChat(api.Chat{ID: -100555}))
	assert.False(t, f.matchChat(api.Chat{ID: -100556}))

	f = &Fs{chatID: "@MyChannel"}
	assert.True(t, f.matchChat(api.Chat{ID: 7, Username: "mychannel"}))
	assert.False(t, f.matchChat(api.Chat{ID: 7, Username: "otherchannel"}))

	f = &Fs{chatID: "mychannel"}
	assert.True(t, f.matchChat(api.Chat{Username: "mychannel"}))
}

func TestAttachmentName(t *testing.T) {
	att := &api.Attachment{FileName: "report.pdf"}
	assert.Equal(t, "report.pdf", attachmentName(&api.Message{Text: "x.bin"}, att))

	att = &api.Attachment{}
	assert.Equal(t, "movie night.mp4", attachmentName(&api.Message{Text: "movie night.mp4"}, att))
	assert.Equal(t, "Unknown", attachmentName(&api.Message{Text: "no extension here"}, att))
	assert.Equal(t, "Unknown", attachmentName(&api.Message{Text: "two.lines\nof caption"}, att))
	assert.Equal(t, "Unknown", attachmentName(&api.Message{}, att))
}

func TestListFlattensChat(t *testing.T) {
	calls := 0
	var paths, limits, offsets []string
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		calls++
		paths = append(paths, r.URL.Path)
		limits = append(limits, r.URL.Query().Get("limit"))
		offsets = append(offsets, r.URL.Query().Get("offset"))
		wrongChat := docUpdate(4, 40, "other.txt", 1)
		wrongChat["message"].(map[string]interface{})["chat"] = map[string]interface{}{"id": -9}
		textOnly := map[string]interface{}{
			"update_id": 5,
			"message": map[string]interface{}{
				"message_id": 50,
				"date":       1714650000,
				"chat":       map[string]interface{}{"id": -100555},
				"text":       "just chatting",
			},
		}
		post := map[string]interface{}{
			"update_id": 6,
			"channel_post": map[string]interface{}{
				"message_id": 60,
				"date":       1714650100,
				"chat":       map[string]interface{}{"id": -100555},
				"video": map[string]interface{}{
					"file_id":   "vid-60",
					"file_size": 900,
					"mime_type": "video/mp4",
				},
				"text": "clip.mp4",
			},
		}
		replyJSON(w, updatesReply(
			docUpdate(1, 10, "zebra.txt", 5),
			docUpdate(2, 12, "apple.txt", 11),
			wrongChat,
			textOnly,
			post,
		))
	})
	ctx := context.Background()

	entries, total, err := f.List(ctx, "", "", fs.ListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bot42:TESTTOKEN/getUpdates"}, paths)
	assert.Equal(t, []string{"100"}, limits)
	assert.Equal(t, []string{"-100"}, offsets)
	assert.Equal(t, 3, total)
	require.Len(t, entries, 3)
	assert.Equal(t, "10_zebra.txt", entries[0].Name)
	assert.Equal(t, int64(5), entries[0].Size)
	assert.Equal(t, int64(1714650010), entries[0].Mtime)
	assert.Equal(t, fs.KindFile, entries[0].Kind)
	assert.False(t, entries[0].IsDir)
	assert.Equal(t, "12_apple.txt", entries[1].Name)
	assert.Equal(t, "60_clip.mp4", entries[2].Name)
	assert.Equal(t, int64(900), entries[2].Size)

	// The listing is cached and the chat is flat below the root.
	_, _, err = f.List(ctx, "", "", fs.ListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	entries, total, err = f.List(ctx, "", "10_zebra.txt", fs.ListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, total)
	assert.Equal(t, 1, calls)
}

func TestListPaginates(t *testing.T) {
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		replyJSON(w, updatesReply(
			docUpdate(1, 10, "a.txt", 1),
			docUpdate(2, 11, "b.txt", 2),
			docUpdate(3, 12, "c.txt", 3),
		))
	})

	entries, total, err := f.List(context.Background(), "", "", fs.ListOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "12_c.txt", entries[0].Name)
}

func TestRead(t *testing.T) {
	var fileIDs []string
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bot42:TESTTOKEN/getUpdates":
			replyJSON(w, updatesReply(docUpdate(1, 10, "report.pdf", 12)))
		case "/bot42:TESTTOKEN/getFile":
			fileIDs = append(fileIDs, r.URL.Query().Get("file_id"))
			replyJSON(w, map[string]interface{}{
				"ok":     true,
				"result": map[string]interface{}{"file_id": "doc-10", "file_size": 12, "file_path": "documents/file_10.pdf"},
			})
		case "/file/bot42:TESTTOKEN/documents/file_10.pdf":
			_, _ = w.Write([]byte("file content"))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})

	data, err := f.Read(context.Background(), "", "10_report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "file content", string(data))
	assert.Equal(t, []string{"doc-10"}, fileIDs)

	// The message id governs; the name part is display only.
	data, err = f.Read(context.Background(), "", "10_renamed.pdf")
	require.NoError(t, err)
	assert.Equal(t, "file content", string(data))
}

func TestReadMisses(t *testing.T) {
	refreshes := 0
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot42:TESTTOKEN/getUpdates" {
			t.Errorf("unexpected path %q", r.URL.Path)
			return
		}
		refreshes++
		replyJSON(w, updatesReply(docUpdate(1, 10, "a.txt", 1)))
	})
	ctx := context.Background()

	_, err := f.Read(ctx, "", "no-underscore")
	assert.True(t, errors.Is(err, fs.ErrorNotFound))
	_, err = f.Read(ctx, "", "_leading.txt")
	assert.True(t, errors.Is(err, fs.ErrorNotFound))
	_, err = f.Read(ctx, "", "xyz_name.txt")
	assert.True(t, errors.Is(err, fs.ErrorNotFound))
	assert.Equal(t, 0, refreshes)

	// An unknown id refreshes once before giving up.
	_, err = f.Read(ctx, "", "99_gone.txt")
	assert.True(t, errors.Is(err, fs.ErrorNotFound))
	assert.Equal(t, 1, refreshes)
}

func TestStreamRanges(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	var dlRanges []string
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bot42:TESTTOKEN/getUpdates":
			replyJSON(w, updatesReply(docUpdate(1, 10, "clip.bin", 100)))
		case "/bot42:TESTTOKEN/getFile":
			replyJSON(w, map[string]interface{}{
				"ok":     true,
				"result": map[string]interface{}{"file_id": "doc-10", "file_path": "documents/clip.bin"},
			})
		case "/file/bot42:TESTTOKEN/documents/clip.bin":
			rng := r.Header.Get("Range")
			dlRanges = append(dlRanges, rng)
			if rng == "" {
				_, _ = w.Write(data)
				return
			}
			var s, e int
			if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &s, &e); err != nil {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			if s >= len(data) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			if e >= len(data) {
				e = len(data) - 1
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", s, e, len(data)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data[s : e+1])
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})
	ctx := context.Background()

	resp, err := f.Stream(ctx, "", "10_clip.bin", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, data, got)

	resp, err = f.Stream(ctx, "", "10_clip.bin", "bytes=90-99")
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.Equal(t, "bytes 90-99/100", resp.Header.Get("Content-Range"))
	got, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, data[90:], got)

	_, err = f.Stream(ctx, "", "10_clip.bin", "bytes=200-300")
	assert.True(t, errors.Is(err, fs.ErrorRangeNotSatisfiable))

	assert.Equal(t, []string{"", "bytes=90-99", "bytes=200-300"}, dlRanges)
}

func TestStreamContentTypeFallback(t *testing.T) {
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bot42:TESTTOKEN/getUpdates":
			replyJSON(w, updatesReply(docUpdate(1, 10, "report.pdf", 2)))
		case "/bot42:TESTTOKEN/getFile":
			replyJSON(w, map[string]interface{}{
				"ok":     true,
				"result": map[string]interface{}{"file_id": "doc-10", "file_path": "documents/r.pdf"},
			})
		case "/file/bot42:TESTTOKEN/documents/r.pdf":
			// No Content-Type from the file host.
			w.Header()["Content-Type"] = nil
			_, _ = w.Write([]byte("%P"))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})

	resp, err := f.Stream(context.Background(), "", "10_report.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	_ = resp.Body.Close()
}

func TestBotErrorMapsToUpstream(t *testing.T) {
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		replyJSON(w, map[string]interface{}{"ok": false, "error_code": 401, "description": "Unauthorized"})
	})
	_, _, err := f.List(context.Background(), "", "", fs.ListOptions{Page: 1, PageSize: 10})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, fs.UpstreamStatus(err))
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestRetriesTransientStatus(t *testing.T) {
	calls := 0
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		replyJSON(w, updatesReply(docUpdate(1, 10, "a.txt", 1)))
	})
	entries, _, err := f.List(context.Background(), "", "", fs.ListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, entries, 1)
}

func TestStatExistsProbe(t *testing.T) {
	refreshes := 0
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		updates := []map[string]interface{}{docUpdate(1, 10, "a.txt", 7)}
		if refreshes > 1 {
			updates = append(updates, docUpdate(2, 11, "late.txt", 3))
		}
		replyJSON(w, updatesReply(updates...))
	})
	ctx := context.Background()

	entry, err := f.Stat(ctx, "", "10_a.txt")
	require.NoError(t, err)
	assert.False(t, entry.IsDir)
	assert.Equal(t, int64(7), entry.Size)

	entry, err = f.Stat(ctx, "", "")
	require.NoError(t, err)
	assert.True(t, entry.IsDir)

	// A fresh upload is found on the second look.
	entry, err = f.Stat(ctx, "", "11_late.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Size)
	assert.Equal(t, 2, refreshes)

	ok, err := f.Exists(ctx, "", "10_a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.Exists(ctx, "", "99_nope.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	probe, err := f.Probe(ctx, "", "10_a.txt")
	require.NoError(t, err)
	assert.Equal(t, &fs.Probe{Exists: true, IsFile: true, Size: 7}, probe)
	probe, err = f.Probe(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, &fs.Probe{Exists: true, IsDir: true}, probe)
}

func TestWritesNotImplemented(t *testing.T) {
	f := newTestAdapter(t, "-100555", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	ctx := context.Background()

	assert.True(t, errors.Is(f.Write(ctx, "", "10_a.txt", []byte("x")), fs.ErrorNotImplemented))
	_, err := f.WriteStream(ctx, "", "10_a.txt", nil)
	assert.True(t, errors.Is(err, fs.ErrorNotImplemented))
	assert.True(t, errors.Is(f.Mkdir(ctx, "", "sub"), fs.ErrorNotImplemented))
	assert.True(t, errors.Is(f.Delete(ctx, "", "10_a.txt"), fs.ErrorNotImplemented))
	assert.True(t, errors.Is(f.Move(ctx, "", "10_a.txt", "b.txt"), fs.ErrorNotImplemented))
	assert.True(t, errors.Is(f.Rename(ctx, "", "10_a.txt", "b.txt"), fs.ErrorNotImplemented))
	assert.True(t, errors.Is(f.Copy(ctx, "", "10_a.txt", "b.txt", false), fs.ErrorNotImplemented))
}
