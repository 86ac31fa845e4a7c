package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/config"
	"github.com/serena-health/breath-engine/internal/database"
	"github.com/serena-health/breath-engine/internal/fanout"
	"github.com/serena-health/breath-engine/internal/metrics"
	"github.com/serena-health/breath-engine/internal/pipeline"
	"github.com/serena-health/breath-engine/internal/session"
	"github.com/serena-health/breath-engine/internal/store"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions wires every dependency the HTTP surface needs. There is no
// auth/upload/talkgroup/MQTT surface here — this service has one ingest
// endpoint, one SSE endpoint, a bounded backfill query, and health/metrics.
type ServerOptions struct {
	Config    *config.Config
	DB        *database.DB
	Store     *store.Store
	Devices   *session.Registry
	Bus       *fanout.Bus
	Pipeline  *pipeline.Processor
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()

	var corsOrigins []string
	if opts.Config.CORSOrigins != "" {
		for _, o := range strings.Split(opts.Config.CORSOrigins, ",") {
			if s := strings.TrimSpace(o); s != "" {
				corsOrigins = append(corsOrigins, s)
			}
		}
	}

	r.Use(RequestID)
	r.Use(CORSWithOrigins(corsOrigins))
	r.Use(RateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))

	health := NewHealthHandler(opts.DB, opts.Version, opts.StartTime)
	r.Get("/healthz", health.Liveness)

	if opts.Config.MetricsEnabled {
		collector := metrics.NewCollector(opts.DB.Pool, opts.Bus)
		prometheus.MustRegister(collector)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(MaxBodySize(10 << 20))
		if opts.Config.MetricsEnabled {
			r.Use(metrics.InstrumentHandler)
		}
		r.Use(ResponseTimeout(opts.Config.WriteTimeout))

		r.Get("/ping", Ping)
		r.Get("/status", health.ServeHTTP)

		NewIngestHandler(opts.Devices, opts.Store, opts.Store, opts.Store, opts.Bus, opts.Pipeline, opts.Log).Routes(r)
		NewStreamHandler(opts.Bus).Routes(r)
		NewSignalsHandler(opts.Store, opts.Log).Routes(r)
	})

	srv := &http.Server{
		Addr:        opts.Config.HTTPAddr,
		Handler:     r,
		ReadTimeout: opts.Config.ReadTimeout,
		IdleTimeout: opts.Config.IdleTimeout,
		// WriteTimeout is 0 to allow long-lived SSE connections; individual
		// non-streaming handlers are bounded by ResponseTimeout instead.
		WriteTimeout: 0,
	}

	return &Server{http: srv, log: opts.Log}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
