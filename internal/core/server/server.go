package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solivr/cadasters/internal/cache/resultcache"
	"github.com/solivr/cadasters/internal/core/config"
	"github.com/solivr/cadasters/internal/core/health"
	middleware "github.com/solivr/cadasters/internal/core/middleware"
	"github.com/solivr/cadasters/internal/core/router"
)

// Deps carries the wired components the HTTP surface serves from.
type Deps struct {
	Cache   *resultcache.Cache
	Index   router.ParcelLookup
	Ingest  health.ReadinessReporter
	Metrics http.Handler
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) error {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(deps.Ingest))
	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.ServeHTTP)
	}
	r.Post("/clean", router.HandleClean(logger, cfg, deps.Cache))
	r.Get("/parcels", router.HandleParcels(logger, deps.Index))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
