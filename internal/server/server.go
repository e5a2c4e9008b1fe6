// Package server exposes the prediction engine over a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"BarOracle/internal/artifact"
	"BarOracle/internal/cycle"
	"BarOracle/internal/metrics"
	"BarOracle/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Ticker runs one prediction cycle for a symbol.
type Ticker interface {
	Tick(ctx context.Context, symbol string) (*cycle.TickReport, error)
}

// Retrainer rebuilds and publishes the model for a symbol.
type Retrainer interface {
	Retrain(ctx context.Context, symbol, period, interval string) (*artifact.Artifact, error)
}

// HistoryReader reads persisted predictions.
type HistoryReader interface {
	MostRecent(ctx context.Context, symbol string, limit int) ([]model.Prediction, error)
}

// Config holds server configuration and the components it serves.
type Config struct {
	Addr         string
	Symbols      []string
	Interval     string
	TrainPeriod  string
	HistoryLimit int

	Ticker    Ticker
	Retrainer Retrainer // nil disables the retrain route
	History   HistoryReader
	Models    cycle.ModelSource
	Gatherer  prometheus.Gatherer
	Metrics   *metrics.Recorder
	Log       zerolog.Logger
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	log    zerolog.Logger
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/predictions", s.handlePredictions)
		r.Get("/stats", s.handleStats)
		r.Route("/symbols/{symbol}", func(r chi.Router) {
			r.Post("/tick", s.handleTick)
			r.Get("/model", s.handleModel)
			r.Post("/retrain", s.handleRetrain)
		})
	})
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// metricsMiddleware records request metrics labelled by route pattern and
// logs failed requests.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		took := time.Since(start)
		s.cfg.Metrics.RecordHTTP(route, r.Method, strconv.Itoa(status), took.Seconds())

		if status >= http.StatusInternalServerError {
			s.log.Error().
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Dur("duration", took).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request failed")
		}
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// symbol resolves a configured symbol case-insensitively.
func (s *Server) symbol(raw string) (string, bool) {
	for _, sym := range s.cfg.Symbols {
		if strings.EqualFold(sym, raw) {
			return sym, true
		}
	}
	return "", false
}
