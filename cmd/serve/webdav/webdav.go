// Package webdav serves the virtual filesystem over WebDAV.
//
// The handler speaks DAV class 1 only and dispatches the verbs by
// hand: the facade's streaming contract (upstream status passthrough,
// range windows, buffered fallbacks) does not fit behind an os-like
// FileSystem abstraction. LOCK and UNLOCK are not supported.
package webdav

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/auth"
	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/vfs"
)

// Prefix is the URL prefix the handler is mounted at. It is stripped
// from incoming paths and Destination headers and prepended to every
// multistatus href.
const Prefix = "/webdav"

const allowedVerbs = "OPTIONS, PROPFIND, GET, HEAD, PUT, DELETE, MKCOL, MOVE, COPY"

// propfindPageSize caps how many children one PROPFIND reports.
const propfindPageSize = 1000

// Handler maps the DAV verbs onto one VFS.
type Handler struct {
	vfs  *vfs.VFS
	auth *auth.Service
}

// New creates a DAV handler over v, authenticated through authSvc.
func New(v *vfs.VFS, authSvc *auth.Service) *Handler {
	return &Handler{vfs: v, auth: authSvc}
}

// Routes returns the handler ready to mount at Prefix. Everything but
// OPTIONS sits behind Basic auth; clients probe OPTIONS before they
// are willing to send credentials.
func (h *Handler) Routes() http.Handler {
	authed := h.auth.BasicAuth("webdav")(http.HandlerFunc(h.dispatch))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			h.davHeaders(w)
			w.WriteHeader(http.StatusOK)
			return
		}
		authed.ServeHTTP(w, r)
	})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	p := davPath(r)
	fs.Debugf(p, "webdav %s from %s", r.Method, r.RemoteAddr)
	switch r.Method {
	case "PROPFIND":
		h.handlePropfind(w, r, p)
	case http.MethodGet:
		h.handleGet(w, r, p)
	case http.MethodHead:
		h.handleHead(w, r, p)
	case http.MethodPut:
		h.handlePut(w, r, p)
	case http.MethodDelete:
		h.handleDelete(w, r, p)
	case "MKCOL":
		h.handleMkcol(w, r, p)
	case "MOVE":
		h.handleMove(w, r, p)
	case "COPY":
		h.handleCopy(w, r, p)
	case "LOCK", "UNLOCK":
		h.error(w, r, errors.Wrap(fs.ErrorNotImplemented, "locking"))
	default:
		w.Header().Set("Allow", allowedVerbs)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// davPath maps the request URL onto a virtual path. The URL path
// arrives percent-decoded from net/http.
func davPath(r *http.Request) string {
	return fs.NormalizePath(strings.TrimPrefix(r.URL.Path, Prefix))
}

func (h *Handler) davHeaders(w http.ResponseWriter) {
	header := w.Header()
	header.Set("DAV", "1")
	header.Set("MS-Author-Via", "DAV")
	header.Set("Accept-Ranges", "bytes")
	header.Set("Allow", allowedVerbs)
}

func (h *Handler) error(w http.ResponseWriter, r *http.Request, err error) {
	status := fs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		fs.Errorf(r.URL.Path, "webdav %s: %v", r.Method, err)
	} else {
		fs.Debugf(r.URL.Path, "webdav %s: %v", r.Method, err)
	}
	http.Error(w, err.Error(), status)
}

// stat describes p for PROPFIND and HEAD. Directories that exist only
// as parents of mounts stat as plain collections, the same way the
// browse listing treats them.
func (h *Handler) stat(ctx context.Context, p string) (*fs.Entry, error) {
	entry, _, err := h.vfs.Stat(ctx, p)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, fs.ErrorNotFound) {
		return nil, err
	}
	ok, eerr := h.vfs.Exists(ctx, p)
	if eerr != nil || !ok {
		return nil, err
	}
	name := fs.BaseName(p)
	if name == "" {
		name = "/"
	}
	return &fs.Entry{Name: name, IsDir: true, Kind: fs.KindDir}, nil
}

// Multistatus XML shapes. The D prefix is declared once on the
// envelope; encoding/xml emits the tags verbatim.

type multistatus struct {
	XMLName   xml.Name      `xml:"D:multistatus"`
	Namespace string        `xml:"xmlns:D,attr"`
	Responses []davResponse `xml:"D:response"`
}

type davResponse struct {
	Href     string   `xml:"D:href"`
	Propstat propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   davProp `xml:"D:prop"`
	Status string  `xml:"D:status"`
}

type davProp struct {
	DisplayName   string       `xml:"D:displayname"`
	ResourceType  resourceType `xml:"D:resourcetype"`
	ContentLength *int64       `xml:"D:getcontentlength,omitempty"`
	ContentType   string       `xml:"D:getcontenttype,omitempty"`
	LastModified  string       `xml:"D:getlastmodified,omitempty"`
	ETag          string       `xml:"D:getetag"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection,omitempty"`
}

// href builds the percent-escaped multistatus href for p. Collection
// hrefs carry a trailing slash.
func href(p string, isDir bool) string {
	full := Prefix + fs.NormalizePath(p)
	if isDir && !strings.HasSuffix(full, "/") {
		full += "/"
	}
	return (&url.URL{Path: full}).EscapedPath()
}

// etag derives the resource ETag from path, size and mtime, quoted as
// HTTP wants it. Collections count as size zero.
func etag(p string, entry *fs.Entry) string {
	size := entry.Size
	if entry.IsDir {
		size = 0
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%d|%d", p, size, entry.Mtime)))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func typeByName(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// propResponse renders one multistatus response element for entry at
// the virtual path p.
func propResponse(p string, entry *fs.Entry) davResponse {
	prop := davProp{
		DisplayName: entry.Name,
		ETag:        etag(p, entry),
	}
	if entry.IsDir {
		prop.ResourceType.Collection = &struct{}{}
	} else {
		size := entry.Size
		prop.ContentLength = &size
		prop.ContentType = typeByName(entry.Name)
	}
	if entry.Mtime > 0 {
		prop.LastModified = time.Unix(entry.Mtime, 0).UTC().Format(http.TimeFormat)
	}
	return davResponse{
		Href: href(p, entry.IsDir),
		Propstat: propstat{
			Prop:   prop,
			Status: "HTTP/1.1 200 OK",
		},
	}
}

// handlePropfind answers PROPFIND with an allprop multistatus. Depth 0
// describes the resource itself; 1 adds the children. Depth infinity
// downgrades to 1 so one request cannot walk a whole remote.
func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request, p string) {
	depth := strings.ToLower(r.Header.Get("Depth"))
	switch depth {
	case "0", "1", "infinity":
	default:
		depth = "1"
	}

	entry, err := h.stat(r.Context(), p)
	if err != nil {
		h.error(w, r, err)
		return
	}
	responses := []davResponse{propResponse(p, entry)}

	if depth != "0" && entry.IsDir {
		entries, _, lerr := h.vfs.List(r.Context(), p, 1, propfindPageSize)
		if lerr != nil && fs.HTTPStatus(lerr) != http.StatusBadRequest {
			h.error(w, r, lerr)
			return
		}
		for i := range entries {
			responses = append(responses, propResponse(path.Join(p, entries[i].Name), &entries[i]))
		}
	}

	h.davHeaders(w)
	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return
	}
	ms := multistatus{Namespace: "DAV:", Responses: responses}
	if err := xml.NewEncoder(w).Encode(ms); err != nil {
		fs.Errorf(p, "webdav multistatus encode: %v", err)
	}
}

// handleGet relays the facade stream. Upstream status and headers pass
// through untouched; Accept-Ranges is defaulted for adapters that do
// not declare it. Errors past the first byte only truncate the body.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, p string) {
	resp, err := h.vfs.Stream(r.Context(), p, r.Header.Get("Range"))
	if err != nil {
		h.error(w, r, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if w.Header().Get("Accept-Ranges") == "" {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	w.WriteHeader(resp.Status)
	if _, err := io.Copy(w, resp.Body); err != nil {
		fs.Errorf(p, "webdav stream interrupted: %v", err)
	}
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request, p string) {
	entry, err := h.stat(r.Context(), p)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.davHeaders(w)
	if !entry.IsDir {
		w.Header().Set("Content-Length", fmt.Sprint(entry.Size))
		w.Header().Set("Content-Type", typeByName(entry.Name))
		w.Header().Set("ETag", etag(p, entry))
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, p string) {
	size, err := h.vfs.WriteStream(r.Context(), p, r.Body, true)
	if err != nil {
		h.error(w, r, err)
		return
	}
	fs.Debugf(p, "webdav put %d bytes", size)
	h.davHeaders(w)
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, p string) {
	if err := h.vfs.Delete(r.Context(), p); err != nil {
		h.error(w, r, err)
		return
	}
	h.davHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMkcol(w http.ResponseWriter, r *http.Request, p string) {
	if err := h.vfs.Mkdir(r.Context(), p); err != nil {
		h.error(w, r, err)
		return
	}
	h.davHeaders(w)
	w.WriteHeader(http.StatusCreated)
}

// destination resolves the Destination header to a virtual path. DAV
// clients send either an absolute URL or a server-relative path, both
// carrying the mount prefix.
func destination(r *http.Request) (string, error) {
	dest := strings.TrimSpace(r.Header.Get("Destination"))
	if dest == "" {
		return "", errors.Wrap(fs.ErrorInvalidArgument, "missing Destination header")
	}
	u, err := url.Parse(dest)
	if err != nil {
		return "", errors.Wrapf(fs.ErrorInvalidArgument, "bad Destination %q", dest)
	}
	return fs.NormalizePath(strings.TrimPrefix(u.Path, Prefix)), nil
}

// overwriteFlag reads the DAV Overwrite header. Anything but a literal
// F means overwrite, including a missing header.
func overwriteFlag(r *http.Request) bool {
	return !strings.EqualFold(r.Header.Get("Overwrite"), "F")
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request, p string) {
	dst, err := destination(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	if err := h.vfs.Move(r.Context(), p, dst, overwriteFlag(r), nil); err != nil {
		h.error(w, r, err)
		return
	}
	h.davHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request, p string) {
	dst, err := destination(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	overwrite := overwriteFlag(r)
	if err := h.vfs.Copy(r.Context(), p, dst, overwrite, nil); err != nil {
		h.error(w, r, err)
		return
	}
	h.davHeaders(w)
	if overwrite {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}
