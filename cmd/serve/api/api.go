// Package api implements the JSON management API: auth, config center,
// adapter administration, filesystem operations, the task queue and
// search, mounted under /api.
//
// Responses use a uniform envelope {code, msg, data}: code 0 for
// success, the HTTP status for failures. The exceptions are the login
// route, which answers with a bare OAuth2 token object, and the raw
// byte routes (file, stream, thumb, public).
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/qihaolou/Foxel/auth"
	"github.com/qihaolou/Foxel/config"
	"github.com/qihaolou/Foxel/processor"
	"github.com/qihaolou/Foxel/task"
	"github.com/qihaolou/Foxel/thumb"
	"github.com/qihaolou/Foxel/vfs"
)

// Options carries the services the API serves. All fields are required
// except Deps, whose members may be nil when no AI provider is
// configured.
type Options struct {
	DB     *gorm.DB
	Config *config.Center
	Auth   *auth.Service
	VFS    *vfs.VFS
	Queue  *task.Queue
	Thumbs *thumb.Cache
	Links  *vfs.TempLinks
	Deps   *processor.Deps
}

// Server dispatches the API routes.
type Server struct {
	gdb    *gorm.DB
	cfg    *config.Center
	auth   *auth.Service
	vfs    *vfs.VFS
	queue  *task.Queue
	thumbs *thumb.Cache
	links  *vfs.TempLinks
	deps   *processor.Deps
}

// New makes a Server over the given services.
func New(opt Options) *Server {
	deps := opt.Deps
	if deps == nil {
		deps = &processor.Deps{}
	}
	return &Server{
		gdb:    opt.DB,
		cfg:    opt.Config,
		auth:   opt.Auth,
		vfs:    opt.VFS,
		queue:  opt.Queue,
		thumbs: opt.Thumbs,
		links:  opt.Links,
		deps:   deps,
	}
}

// Routes builds the router, meant to be mounted at /api. Registration,
// login, the public status route and token streaming skip the bearer
// check; everything else requires it.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/config/status", s.handleConfigStatus)
		r.Get("/fs/public/{token}", s.handlePublic)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/auth/me", s.handleMe)

		r.Get("/config", s.handleConfigGet)
		r.Post("/config", s.handleConfigSet)
		r.Get("/config/all", s.handleConfigAll)

		r.Route("/adapters", func(r chi.Router) {
			r.Get("/", s.handleAdapterList)
			r.Post("/", s.handleAdapterCreate)
			r.Get("/available", s.handleAdapterTypes)
			r.Get("/{id}", s.handleAdapterGet)
			r.Put("/{id}", s.handleAdapterUpdate)
			r.Delete("/{id}", s.handleAdapterDelete)
		})

		r.Route("/fs", func(r chi.Router) {
			r.Get("/", s.handleBrowse)
			r.Post("/mkdir", s.handleMkdir)
			r.Post("/move", s.handleTransfer("move"))
			r.Post("/rename", s.handleTransfer("rename"))
			r.Post("/copy", s.handleTransfer("copy"))
			r.Get("/stat/*", s.handleStat)
			r.Get("/file/*", s.handleFileGet)
			r.Post("/file/*", s.handleFilePost)
			r.Put("/upload/*", s.handleUpload)
			r.Get("/stream/*", s.handleStream)
			r.Get("/thumb/*", s.handleThumb)
			r.Get("/temp-link/*", s.handleTempLink)
			r.Get("/*", s.handleBrowse)
			r.Delete("/*", s.handleDelete)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleTaskList)
			r.Post("/process", s.handleProcess)
			r.Get("/rules", s.handleRuleList)
			r.Post("/rules", s.handleRuleCreate)
			r.Get("/rules/{id}", s.handleRuleGet)
			r.Put("/rules/{id}", s.handleRuleUpdate)
			r.Delete("/rules/{id}", s.handleRuleDelete)
			r.Get("/{id}", s.handleTaskGet)
		})

		r.Get("/processors", s.handleProcessorList)
		r.Get("/search", s.handleSearch)
	})

	return r
}

// Handler returns the router as a plain http.Handler.
func (s *Server) Handler() http.Handler {
	return s.Routes()
}
