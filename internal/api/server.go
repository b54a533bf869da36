// Package api exposes the ingestion, reconciliation and query surface over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/aggregate"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/period"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/processor"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/provider"
)

// Deps are the services the handlers delegate to. Fetcher and Metrics may be nil.
type Deps struct {
	Processor  *processor.Processor
	Resolver   *period.Resolver
	Aggregator *aggregate.Aggregator
	Fetcher    provider.Fetcher
	Metrics    *metrics.Collector
	Gatherer   prometheus.Gatherer
}

// Server serves the HTTP API
type Server struct {
	deps       Deps
	cfg        config.HTTPConfig
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
}

// NewServer builds the router and the underlying http.Server
func NewServer(cfg config.HTTPConfig, deps Deps, logger zerolog.Logger) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 30 * time.Second
	}

	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	if deps.Metrics != nil {
		r.Use(s.countRequests)
	}

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/readings", s.postReadings)

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/summary", s.getLatestSummary)
			r.Post("/summary", s.resolveAccount(period.IntentCreate))
			r.Put("/summary", s.resolveAccount(period.IntentUpdate))
			r.Get("/summaries", s.getAccountHistory)
		})

		r.Route("/providers/{providerID}", func(r chi.Router) {
			r.Get("/snapshot", s.getProviderSnapshot)
			r.Post("/summaries/sync", s.syncProvider)
		})

		r.Get("/summaries", s.getSummaries)
		r.Get("/aggregates/providers", s.getProviderAggregates)
		r.Get("/aggregates/providers/monthly", s.getProviderMonthly)
		r.Get("/aggregates/city", s.getCityAggregate)
		r.Get("/aggregates/city/monthly", s.getCityMonthly)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = strings.TrimSuffix(pattern, "/")
			}
		}
		s.deps.Metrics.HTTPRequests.WithLabelValues(r.Method, route, statusLabel(ww.Status())).Inc()
	})
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
