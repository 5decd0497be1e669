package api

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/auth"
	"github.com/qihaolou/Foxel/fs"
)

// handleRegister creates the initial user. Once a user exists the route
// answers 403 for good.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		FullName string `json:"full_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.auth.Register(r.Context(), req.Username, req.Password, req.Email, req.FullName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reply(w, r, map[string]interface{}{"username": user.Username})
}

// handleLogin exchanges form credentials for a bearer token. The
// response is the bare OAuth2 token object, not the envelope, so any
// standard client can consume it.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, errors.Wrapf(fs.ErrorInvalidArgument, "parsing login form: %v", err))
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	user, err := s.auth.Authenticate(r.Context(), username, password)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.fail(w, r, err)
		return
	}
	token, err := s.auth.CreateToken(user.Username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())
	if user == nil {
		s.fail(w, r, errors.Wrap(fs.ErrorUnauthorized, "no authenticated user"))
		return
	}
	s.reply(w, r, user)
}
