// Package server exposes the metric engine over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/leapstack-labs/leapmetrics/internal/engine"
	"github.com/leapstack-labs/leapmetrics/internal/server/notifier"
	"golang.org/x/sync/errgroup"
)

// DefaultRequestTimeout bounds each request when Config.RequestTimeout is unset.
const DefaultRequestTimeout = 30 * time.Second

// Server is the HTTP API server.
type Server struct {
	engine    *engine.Engine
	port      int
	watch     bool
	watchDirs []string
	timeout   time.Duration
	origins   []string
	logger    *slog.Logger
	notifier  *notifier.Notifier
}

// Config holds configuration for the API server.
type Config struct {
	Engine *engine.Engine
	Port   int
	// Watch reloads the catalog when files under WatchDirs change.
	Watch     bool
	WatchDirs []string
	// RequestTimeout bounds each request (default 30s).
	RequestTimeout time.Duration
	// AllowedOrigins enables CORS for browser clients.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Server{
		engine:    cfg.Engine,
		port:      cfg.Port,
		watch:     cfg.Watch,
		watchDirs: cfg.WatchDirs,
		timeout:   cfg.RequestTimeout,
		origins:   cfg.AllowedOrigins,
		logger:    cfg.Logger,
		notifier:  notifier.New(),
	}
}

// Notifier returns the server's catalog event notifier.
func (s *Server) Notifier() *notifier.Notifier {
	return s.notifier
}

// Handler builds the router with middleware and every API route.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	h := NewHandlers(s.engine, s.notifier, s.logger)
	// The event stream stays open, so it is registered outside the timeout.
	r.Get("/api/events", h.Events)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		h.RegisterRoutes(r)
	})
	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting API server", "addr", fmt.Sprintf("http://localhost:%d", s.port))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch {
		eg.Go(func() error {
			return s.watchFiles(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watchFiles reloads the catalog when a catalog, dictionary or sample file
// changes.
func (s *Server) watchFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range s.watchDirs {
		if err := watchDirRecursive(watcher, dir); err != nil {
			s.logger.Error("failed to watch directory", "dir", dir, "error", err)
		}
	}

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !watched(event.Name) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(200*time.Millisecond, func() {
				s.logger.Debug("file changed, reloading catalog", "file", name)
				s.reload(ctx)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

func (s *Server) reload(ctx context.Context) {
	if err := s.engine.Reload(ctx); err != nil {
		s.logger.Error("reload failed", "error", err)
		s.notifier.Publish(notifier.Event{Kind: notifier.EventReloadFailed, Error: err.Error()})
		return
	}
	s.notifier.Publish(notifier.Event{Kind: notifier.EventReloaded})
}

func watched(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".csv":
		return true
	}
	return false
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
// A file path watches its parent directory.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		if path == dir {
			return watcher.Add(filepath.Dir(path))
		}
		return nil
	})
}
