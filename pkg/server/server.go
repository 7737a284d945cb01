// Package server assembles the ShareSync components and runs them as one
// process: the HTTP listener, the signaling hub and the expiry sweeper.
package server

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/sharesync/sharesync/internal/logger"
	"github.com/sharesync/sharesync/internal/metrics"
	"github.com/sharesync/sharesync/pkg/api"
	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/config"
	"github.com/sharesync/sharesync/pkg/gateway"
	"github.com/sharesync/sharesync/pkg/ratelimit"
	"github.com/sharesync/sharesync/pkg/signaling"
	"github.com/sharesync/sharesync/pkg/storage"
	"github.com/sharesync/sharesync/pkg/storage/memory"
	"github.com/sharesync/sharesync/pkg/storage/s3"
	"github.com/sharesync/sharesync/pkg/store"
	"github.com/sharesync/sharesync/pkg/sweeper"
)

// Server owns every long-running component. Construct it with New, then
// call Start, which blocks until the context is cancelled.
type Server struct {
	cfg     *config.Config
	version string

	store   store.Store
	objects storage.ObjectStore
	hub     *signaling.Hub
	sweeper *sweeper.Sweeper
	http    *http.Server
}

// New builds the full component graph from configuration. The database
// connection and object store client are established here; Start only
// spins up the loops.
func New(ctx context.Context, cfg *config.Config, version string) (*Server, error) {
	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	objects, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	gw := gateway.New(st, objects, cfg.Policy)
	limiter := ratelimit.New(cfg.RateLimit, ratelimit.NewMemoryStore(), nil)
	sessions := auth.NewSessionService(cfg.Session)
	verifier := auth.NewUserinfoVerifier(cfg.Identity.UserinfoURL)

	hub := signaling.NewHub(cfg.Signaling)
	hub.SetMetrics(metrics.NewHubMetrics())

	sw := sweeper.New(st, objects, cfg.Sweeper, metrics.NewSweeperMetrics())

	router := api.NewRouter(api.RouterDeps{
		Store:        st,
		Gateway:      gw,
		Hub:          hub,
		Sessions:     sessions,
		Verifier:     verifier,
		Limiter:      limiter,
		Version:      version,
		ShareMetrics: metrics.NewShareMetrics(),
		HTTPMetrics:  metrics.NewHTTPMetrics(),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		cfg:     cfg,
		version: version,
		store:   st,
		objects: objects,
		hub:     hub,
		sweeper: sw,
		http:    httpServer,
	}, nil
}

func newObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Type {
	case config.StorageTypeS3:
		objects, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create object store: %w", err)
		}
		return objects, nil
	case config.StorageTypeMemory:
		logger.Warn("using in-memory object storage; presigned URLs are not servable")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// Start runs the HTTP listener, the signaling hub and the sweeper until
// ctx is cancelled, then shuts everything down gracefully and returns.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", s.http.Addr, "version", s.version)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down HTTP server")
		return s.http.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		// Run returns ctx.Err() on cancellation; that is a normal stop.
		if err := s.hub.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := s.sweeper.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	err := g.Wait()

	if closeErr := s.store.Close(); closeErr != nil {
		logger.Error("failed to close database", "error", closeErr)
	}
	logger.Info("server stopped")
	return err
}
