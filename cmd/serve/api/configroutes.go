package api

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
)

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "key is required"))
		return
	}
	value, err := s.cfg.Get(key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]string{"key": key, "value": value})
}

func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, errors.Wrapf(fs.ErrorInvalidArgument, "parsing form: %v", err))
		return
	}
	key := r.PostForm.Get("key")
	value := r.PostForm.Get("value")
	if key == "" {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "key is required"))
		return
	}
	if err := s.cfg.Set(key, value); err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]string{"key": key, "value": value})
}

func (s *Server) handleConfigAll(w http.ResponseWriter, r *http.Request) {
	all, err := s.cfg.All()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, all)
}

// handleConfigStatus is the public bootstrap probe: the frontend asks
// it whether registration is still open.
func (s *Server) handleConfigStatus(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.auth.HasUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]interface{}{
		"version":        fs.Version,
		"title":          s.cfg.GetDefault("APP_NAME", "Foxel"),
		"logo":           s.cfg.GetDefault("APP_LOGO", "/logo.svg"),
		"is_initialized": initialized,
	})
}
