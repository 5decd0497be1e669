// Package auth implements the user store and both HTTP authentication
// schemes: bearer JWT for the JSON API and Basic for WebDAV.
//
// Registration is open only until the first user exists; after that the
// instance is considered initialized and further registrations are
// refused.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qihaolou/Foxel/config"
	"github.com/qihaolou/Foxel/db"
	"github.com/qihaolou/Foxel/fs"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 365 * 24 * time.Hour

// Service verifies users against the database and signs tokens with the
// config center secret.
type Service struct {
	gdb *gorm.DB
	cfg *config.Center
}

// New makes a Service over the given database and config center.
func New(gdb *gorm.DB, cfg *config.Center) *Service {
	return &Service{gdb: gdb, cfg: cfg}
}

func (s *Service) secret() ([]byte, error) {
	v, err := s.cfg.Secret(config.KeySecret)
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hashing password")
	}
	return string(hashed), nil
}

// HasUsers reports whether any user row exists.
func (s *Service) HasUsers(ctx context.Context) (bool, error) {
	var count int64
	err := s.gdb.WithContext(ctx).Model(&db.User{}).Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "counting users")
	}
	return count > 0, nil
}

// Register creates the initial user. Once any user exists registration
// is closed.
func (s *Service) Register(ctx context.Context, username, password, email, fullName string) (*db.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.Wrap(fs.ErrorInvalidArgument, "username and password are required")
	}
	has, err := s.HasUsers(ctx)
	if err != nil {
		return nil, err
	}
	if has {
		return nil, errors.Wrap(fs.ErrorForbidden, "registration is closed after the first user")
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &db.User{
		Username:       username,
		Email:          email,
		FullName:       fullName,
		HashedPassword: hashed,
	}
	if err := s.gdb.WithContext(ctx).Create(user).Error; err != nil {
		return nil, errors.Wrapf(err, "creating user %q", username)
	}
	fs.Infof(nil, "registered initial user %q", username)
	return user, nil
}

// lookup finds a user by username, falling back to email. A missing
// user returns (nil, nil).
func (s *Service) lookup(ctx context.Context, usernameOrEmail string) (*db.User, error) {
	var user db.User
	err := s.gdb.WithContext(ctx).Where("username = ?", usernameOrEmail).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.gdb.WithContext(ctx).Where("email = ?", usernameOrEmail).First(&user).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "looking up user %q", usernameOrEmail)
	}
	return &user, nil
}

// Authenticate checks a username (or email) and password pair. The
// error never reveals which of the two was wrong.
func (s *Service) Authenticate(ctx context.Context, usernameOrEmail, password string) (*db.User, error) {
	user, err := s.lookup(ctx, usernameOrEmail)
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) != nil {
		return nil, errors.Wrap(fs.ErrorUnauthorized, "incorrect username or password")
	}
	return user, nil
}

// CreateToken signs a bearer token for username.
func (s *Service) CreateToken(username string) (string, error) {
	secret, err := s.secret()
	if err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return token, nil
}

// VerifyToken checks signature and expiry and returns the subject.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	secret, err := s.secret()
	if err != nil {
		return "", err
	}
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", errors.Wrapf(fs.ErrorUnauthorized, "invalid token: %v", err)
	}
	if claims.Subject == "" {
		return "", errors.Wrap(fs.ErrorUnauthorized, "token has no subject")
	}
	return claims.Subject, nil
}

// userForToken resolves a verified token to a live user row.
func (s *Service) userForToken(ctx context.Context, tokenString string) (*db.User, error) {
	username, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := s.lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.Wrapf(fs.ErrorUnauthorized, "token user %q no longer exists", username)
	}
	if user.Disabled {
		return nil, errors.Wrapf(fs.ErrorForbidden, "user %q is disabled", username)
	}
	return user, nil
}

type ctxKeyUser struct{}

// WithUser stores the authenticated user on the context.
func WithUser(ctx context.Context, user *db.User) context.Context {
	return context.WithValue(ctx, ctxKeyUser{}, user)
}

// CurrentUser returns the authenticated user, or nil outside the
// middleware.
func CurrentUser(ctx context.Context) *db.User {
	user, _ := ctx.Value(ctxKeyUser{}).(*db.User)
	return user
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": status, "msg": msg})
}

// Middleware guards the JSON API with a bearer token.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, _ := strings.Cut(r.Header.Get("Authorization"), " ")
		if !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.userForToken(r.Context(), token)
		if err != nil {
			fs.Infof(r.URL.Path, "%s: auth failed: %v", r.RemoteAddr, err)
			writeAuthError(w, fs.HTTPStatus(err), err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// BasicAuth guards the WebDAV tree. DAV clients speak Basic; a bearer
// token is accepted too so API sessions can reuse theirs.
func (s *Service) BasicAuth(realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := s.requestUser(r)
			if err != nil {
				fs.Infof(r.URL.Path, "%s: unauthorized request: %v", r.RemoteAddr, err)
				status := fs.HTTPStatus(err)
				if status == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", realm))
				}
				w.Header().Set("Content-Type", "text/plain")
				http.Error(w, http.StatusText(status), status)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func (s *Service) requestUser(r *http.Request) (*db.User, error) {
	scheme, param, _ := strings.Cut(r.Header.Get("Authorization"), " ")
	switch strings.ToLower(scheme) {
	case "basic":
		decoded, err := base64.StdEncoding.DecodeString(param)
		if err != nil {
			return nil, errors.Wrap(fs.ErrorUnauthorized, "malformed basic credentials")
		}
		username, password, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return nil, errors.Wrap(fs.ErrorUnauthorized, "malformed basic credentials")
		}
		user, err := s.Authenticate(r.Context(), username, password)
		if err != nil {
			return nil, err
		}
		if user.Disabled {
			return nil, errors.Wrapf(fs.ErrorForbidden, "user %q is disabled", user.Username)
		}
		return user, nil
	case "bearer":
		if param == "" {
			return nil, errors.Wrap(fs.ErrorUnauthorized, "empty bearer token")
		}
		return s.userForToken(r.Context(), param)
	}
	return nil, errors.Wrap(fs.ErrorUnauthorized, "no credentials")
}
