package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"LendLedger/internal/engine"
	"LendLedger/internal/observability"
	"LendLedger/internal/query"
)

// Deps holds everything the HTTP API needs.
type Deps struct {
	Engine        *engine.Engine
	Query         *query.Service
	DB            *sql.DB
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// Server is the HTTP/JSON surface: mutating operations go straight to the
// engine, reads are served from projections, plus health and metrics
// endpoints for the operators.
type Server struct {
	httpServer *http.Server
	addr       string
	logger     zerolog.Logger
}

func NewServer(addr string, deps *Deps) *Server {
	api := &apiRoutes{
		eng:     deps.Engine,
		qs:      deps.Query,
		db:      deps.DB,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(api.instrument)

	if deps.HealthChecker != nil {
		r.Get("/healthz", deps.HealthChecker.LivenessHandler)
		r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		api.mount(r)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr:   addr,
		logger: deps.Logger,
	}
}

// Start serves until the context is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
