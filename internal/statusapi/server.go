package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/filecollect/internal/metrics"
)

// Server is the discovery agent's read-only HTTP surface.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions configures a Server.
type ServerOptions struct {
	ListenAddr string
	StartTime  time.Time
	Tasks      TaskSource
	Log        zerolog.Logger
}

// NewServer builds the status API router: health, task snapshots, and
// Prometheus metrics, each read-only.
func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)

	health := newHealthHandler(opts.StartTime, opts.Tasks)
	tasks := newTasksHandler(opts.Tasks)

	r.Get("/api/v1/health", health.ServeHTTP)
	r.Get("/api/v1/tasks", tasks.ServeHTTP)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return &Server{
		http: &http.Server{
			Addr:        opts.ListenAddr,
			Handler:     r,
			ReadTimeout: 5 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		log: opts.Log,
	}
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("status api starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("status api shutting down")
	return s.http.Shutdown(ctx)
}
