// Package serve provides the serve command.
package serve

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/qihaolou/Foxel/ai"
	"github.com/qihaolou/Foxel/auth"
	"github.com/qihaolou/Foxel/cmd"
	"github.com/qihaolou/Foxel/cmd/serve/api"
	"github.com/qihaolou/Foxel/cmd/serve/httpmetrics"
	"github.com/qihaolou/Foxel/cmd/serve/webdav"
	"github.com/qihaolou/Foxel/config"
	"github.com/qihaolou/Foxel/db"
	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/processor"
	"github.com/qihaolou/Foxel/task"
	"github.com/qihaolou/Foxel/thumb"
	"github.com/qihaolou/Foxel/vecdb"
	"github.com/qihaolou/Foxel/vfs"
)

const shutdownTimeout = 10 * time.Second

func init() {
	cmd.Root.AddCommand(Command)
}

// Command definition for cobra
var Command = &cobra.Command{
	Use:   "serve",
	Short: `Serve the virtual filesystem over HTTP.`,
	Long: `Start the Foxel server: the JSON management API under /api, the
WebDAV endpoint under /webdav and prometheus metrics under /metrics.

The listen address comes from --addr. Everything the server persists
(the sqlite database, the thumbnail cache and the vector store) lives
under --data. Storage adapters are managed through the API; the ones
enabled in the database are instantiated on boot.
`,
	RunE: func(command *cobra.Command, args []string) error {
		cmd.CheckArgs(0, 0, command, args)
		return run()
	},
}

func run() error {
	ctx := context.Background()

	gdb, err := db.Open(cmd.DatabasePath())
	if err != nil {
		return err
	}
	cfg := config.New(gdb)
	authSvc := auth.New(gdb, cfg)

	store, err := vecdb.Open(filepath.Join(cmd.DataDir, "db", "vectors.db"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fs.Errorf(nil, "closing vector store: %v", err)
		}
	}()

	client := ai.NewClient(cfg)
	deps := &processor.Deps{Describer: client, Embedder: client, Store: store}

	reg := vfs.NewRegistry(gdb)
	if err := reg.Refresh(ctx); err != nil {
		return err
	}
	v := vfs.New(gdb, reg, deps)

	queue := task.New()
	queue.RegisterHandler(task.NameProcessFile, task.ProcessFileHandler(v))
	queue.RegisterHandler(task.NameAutomation, task.AutomationHandler(gdb, v))
	v.OnEvent(task.NewAutomation(gdb, queue).HandleEvent)

	metrics := httpmetrics.New("foxel").MustRegister(prometheus.DefaultRegisterer)
	queue.Observe(metrics.TaskObserver)
	queue.Start()
	defer queue.Stop()

	links := vfs.NewTempLinks(func() ([]byte, error) {
		secret, err := cfg.Secret(config.KeyTempLinkSecret)
		if err != nil {
			return nil, err
		}
		return []byte(secret), nil
	})

	apiServer := api.New(api.Options{
		DB:     gdb,
		Config: cfg,
		Auth:   authSvc,
		VFS:    v,
		Queue:  queue,
		Thumbs: thumb.NewCache(filepath.Join(cmd.DataDir, ".thumb_cache")),
		Links:  links,
		Deps:   deps,
	})

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Mount("/api", apiServer.Routes())
	r.Mount(webdav.Prefix, webdav.New(v, authSvc).Routes())
	r.Handle("/metrics", httpmetrics.Handler())

	srv := &http.Server{
		Addr:           cmd.Addr,
		Handler:        r,
		MaxHeaderBytes: 1 << 20,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	fs.Infof(nil, "serving on http://%s/", cmd.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		fs.Infof(nil, "received %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fs.Errorf(nil, "server shutdown: %v", err)
	}
	return nil
}
