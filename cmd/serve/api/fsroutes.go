package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/thumb"
	"github.com/qihaolou/Foxel/vfs"
)

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	vpath := wildcardPath(r)
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "page_size", 50)
	if page < 1 {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "page must be >= 1"))
		return
	}
	if pageSize < 1 || pageSize > 500 {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "page_size must be between 1 and 500"))
		return
	}
	norm := fs.NormalizePath(vpath)
	entries, total, err := s.vfs.List(r.Context(), norm, page, pageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []fs.Entry{}
	}
	pages := (total + pageSize - 1) / pageSize
	s.reply(w, r, map[string]interface{}{
		"path":    norm,
		"entries": entries,
		"pagination": map[string]interface{}{
			"total":     total,
			"page":      page,
			"page_size": pageSize,
			"pages":     pages,
		},
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	norm := fs.NormalizePath(wildcardPath(r))
	if err := s.vfs.Delete(r.Context(), norm); err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]interface{}{"deleted": true, "path": norm})
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	norm := fs.NormalizePath(req.Path)
	if fs.IsRoot(norm) {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "invalid path"))
		return
	}
	if err := s.vfs.Mkdir(r.Context(), norm); err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]interface{}{"created": true, "path": norm})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	norm := fs.NormalizePath(wildcardPath(r))
	entry, m, err := s.vfs.Stat(r.Context(), norm)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]interface{}{
		"path":  norm,
		"entry": entry,
		"adapter": map[string]interface{}{
			"id":   m.Record.ID,
			"name": m.Record.Name,
			"type": m.Record.Type,
			"path": m.Record.Path,
		},
	})
}

// transferDone names the response flag each transfer op sets.
var transferDone = map[string]string{
	"move":   "moved",
	"rename": "renamed",
	"copy":   "copied",
}

// handleTransfer serves move, rename and copy: JSON {src, dst,
// overwrite} plus an optional ?debug= query returning the step trace,
// also on failure.
func (s *Server) handleTransfer(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Src       string `json:"src"`
			Dst       string `json:"dst"`
			Overwrite bool   `json:"overwrite"`
		}
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		if req.Src == "" || req.Dst == "" {
			s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "src and dst are required"))
			return
		}
		var trace vfs.Trace
		if boolQuery(r, "debug", false) {
			trace = vfs.Trace{}
		}
		var err error
		switch op {
		case "move":
			err = s.vfs.Move(r.Context(), req.Src, req.Dst, req.Overwrite, trace)
		case "rename":
			err = s.vfs.Rename(r.Context(), req.Src, req.Dst, req.Overwrite, trace)
		case "copy":
			err = s.vfs.Copy(r.Context(), req.Src, req.Dst, req.Overwrite, trace)
		}
		if err != nil {
			if trace == nil {
				s.fail(w, r, err)
				return
			}
			s.failData(w, r, err, map[string]interface{}{"debug": trace})
			return
		}
		data := map[string]interface{}{
			transferDone[op]: true,
			"src":            fs.NormalizePath(req.Src),
			"dst":            fs.NormalizePath(req.Dst),
			"overwrite":      req.Overwrite,
		}
		if trace != nil {
			data["debug"] = trace
		}
		s.reply(w, r, data)
	}
}

// bytesRange is the single-range form the buffered download route
// honors.
var bytesRange = regexp.MustCompile(`^bytes=(\d+)-(\d*)`)

// parseRange interprets a Range header over a buffer of the given size,
// clamping both ends into the buffer like the download route always
// has. ok is false when the header is absent or not a simple range.
func parseRange(header string, size int) (start, end int, ok bool) {
	m := bytesRange.FindStringSubmatch(header)
	if m == nil || size == 0 {
		return 0, 0, false
	}
	start, _ = strconv.Atoi(m[1])
	end = size - 1
	if m[2] != "" {
		end, _ = strconv.Atoi(m[2])
	}
	if start > size-1 {
		start = size - 1
	}
	if end > size-1 {
		end = size - 1
	}
	if end < start {
		end = start
	}
	return start, end, true
}

// serveBytes writes a whole-file buffer, honoring a simple Range
// header. The Content-Type is guessed from the name.
func serveBytes(w http.ResponseWriter, r *http.Request, name string, data []byte) {
	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	if start, end, ok := parseRange(r.Header.Get("Range"), len(data)); ok {
		chunk := data[start : end+1]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(chunk)))
		w.Header().Set("Content-Type", ctype)
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(chunk)
		return
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", ctype)
	if strings.HasPrefix(ctype, "video/") {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
	_, _ = w.Write(data)
}

// handleFileGet downloads a file. Camera RAW files are converted to
// their embedded JPEG preview so browsers can show them.
func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	norm := fs.NormalizePath(wildcardPath(r))
	data, err := s.vfs.Read(r.Context(), norm)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if thumb.IsRawName(norm) {
		preview, err := thumb.RawPreviewJPEG(data)
		if err != nil {
			s.fail(w, r, errors.Wrapf(err, "RAW preview of %q", norm))
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(preview)))
		_, _ = w.Write(preview)
		return
	}
	serveBytes(w, r, norm, data)
}

// handleFilePost stores a multipart upload at the full destination
// path.
func (s *Server) handleFilePost(w http.ResponseWriter, r *http.Request) {
	norm := fs.NormalizePath(wildcardPath(r))
	file, _, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, errors.Wrapf(fs.ErrorInvalidArgument, "multipart field \"file\": %v", err))
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, errors.Wrap(err, "reading upload"))
		return
	}
	if err := s.vfs.Write(r.Context(), norm, data); err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]interface{}{"written": true, "path": norm, "size": len(data)})
}

// handleUpload streams the raw request body to the destination without
// buffering it whole. overwrite defaults to true.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	norm := fs.NormalizePath(wildcardPath(r))
	overwrite := boolQuery(r, "overwrite", true)
	n, err := s.vfs.WriteStream(r.Context(), norm, r.Body, overwrite)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]interface{}{
		"uploaded":  true,
		"path":      norm,
		"size":      n,
		"overwrite": overwrite,
	})
}

// copyStream relays an adapter stream response to the client. Errors
// past the first byte only truncate the stream; the status is already
// on the wire.
func copyStream(w http.ResponseWriter, r *http.Request, resp *fs.StreamResponse) {
	defer func() { _ = resp.Body.Close() }()
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		fs.Errorf(r.URL.Path, "stream interrupted: %v", err)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	norm := fs.NormalizePath(wildcardPath(r))
	resp, err := s.vfs.Stream(r.Context(), norm, r.Header.Get("Range"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	copyStream(w, r, resp)
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	norm := fs.NormalizePath(wildcardPath(r))
	width := clampInt(intQuery(r, "w", 256), 8, 1024)
	height := clampInt(intQuery(r, "h", 256), 8, 1024)
	fit := r.URL.Query().Get("fit")
	if fit == "" {
		fit = thumb.FitCover
	}
	if fit != thumb.FitCover && fit != thumb.FitContain {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "fit must be cover|contain"))
		return
	}
	entry, m, err := s.vfs.Stat(r.Context(), norm)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entry.IsDir {
		s.fail(w, r, errors.Wrapf(fs.ErrorIsDirectory, "thumb %q", norm))
		return
	}
	if !thumb.IsImageName(entry.Name) {
		s.fail(w, r, errors.Wrapf(fs.ErrorNotFound, "%q is not an image", norm))
		return
	}
	t, err := s.thumbs.GetOrCreate(r.Context(), m.Adapter, m.Record.ID, m.Root, m.Rel, width, height, fit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	etag := `"` + t.Key + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", t.Mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(t.Data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(t.Data)
}

func (s *Server) handleTempLink(w http.ResponseWriter, r *http.Request) {
	norm := fs.NormalizePath(wildcardPath(r))
	expiresIn := int64(intQuery(r, "expires_in", 3600))
	token, err := s.links.Generate(norm, expiresIn)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]interface{}{
		"token": token,
		"path":  norm,
		"url":   "/api/fs/public/" + token,
	})
}

// handlePublic streams a file through a share token, no auth attached.
func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	vpath, err := s.links.Verify(token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.vfs.Stream(r.Context(), vpath, r.Header.Get("Range"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	copyStream(w, r, resp)
}
