package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
)

// envelope is the uniform response wrapper: code 0 with msg "ok" on
// success, the HTTP status code and the error text on failure.
type envelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fs.Errorf(nil, "api: failed to write JSON response: %v", err)
	}
}

// reply sends the success envelope around data.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Code: 0, Msg: "ok", Data: data})
}

// fail maps err to its HTTP status and sends the error envelope. Server
// faults are logged loudly, client errors at debug only.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.failData(w, r, err, nil)
}

// failData is fail with extra payload, used by the transfer routes to
// return the debug trace alongside the error.
func (s *Server) failData(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	status := fs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		fs.Errorf(r.URL.Path, "api: %v", err)
	} else {
		fs.Debugf(r.URL.Path, "api: %v", err)
	}
	writeJSON(w, status, envelope{Code: status, Msg: err.Error(), Data: data})
}

// pageData shapes one page of a listing.
func pageData(items interface{}, total, page, pageSize int) map[string]interface{} {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return map[string]interface{}{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"pages":     pages,
	}
}

// decodeJSON reads the request body into dst; malformed input is a
// client error.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Wrapf(fs.ErrorInvalidArgument, "decoding request body: %v", err)
	}
	return nil
}

// wildcardPath returns the virtual path addressed by a /something/*
// route, with a leading slash restored.
func wildcardPath(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	return "/" + p
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolQuery(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// idParam parses the {id} route parameter.
func idParam(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(fs.ErrorInvalidArgument, "bad id %q", raw)
	}
	return uint(n), nil
}
