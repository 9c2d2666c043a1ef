// Package server is the HTTP serving layer: the interface boundary between
// the orchestration core and the browser UI. It exposes the entry registry,
// job control operations, and a WebSocket stream of log lines and status
// events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/caetera/spectronaut-webui/internal/config"
	"github.com/caetera/spectronaut-webui/internal/controller"
	"github.com/caetera/spectronaut-webui/internal/registry"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	router     *chi.Mux
	cfg        *config.Config
	registry   *registry.Registry
	controller *controller.Controller
	logger     *slog.Logger

	// quit receives operator shutdown requests from handlers.
	quit chan struct{}
}

func New(
	cfg *config.Config,
	reg *registry.Registry,
	ctrl *controller.Controller,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		registry:   reg,
		controller: ctrl,
		logger:     logger,
		quit:       make(chan struct{}, 1),
	}

	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/api/config", s.handleConfig)

	s.router.Route("/api/entries", func(r chi.Router) {
		r.Get("/", s.handleListEntries)
		r.Post("/", s.handleAddEntries)
		r.Patch("/", s.handleBulkSetField)
		r.Post("/remove", s.handleRemoveEntries)
		r.Post("/clear", s.handleClearEntries)
	})

	s.router.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/current", s.handleStatus)
		r.Post("/current/abort", s.handleAbort)
	})

	s.router.Get("/api/ws", s.handleWS)
	s.router.Post("/api/shutdown", s.handleShutdown)

	// Static frontend assets.
	s.router.Handle("/*", http.FileServer(http.Dir("./web")))
}

// Run serves until ctx is cancelled, the operator requests shutdown, or a
// finished job carried the shutdown-when-done flag.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("serving", "addr", srv.Addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down on signal")
	case <-s.quit:
		s.logger.Info("shutting down on operator request")
	case <-s.controller.ShutdownRequests():
		s.logger.Info("shutting down after job completion")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
