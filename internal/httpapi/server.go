// Package httpapi exposes the rate pipeline over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bolivarwatch/internal/fetcher"
	"bolivarwatch/internal/history"
	"bolivarwatch/internal/notify"
	"bolivarwatch/internal/rates"
	"bolivarwatch/internal/service"
	"bolivarwatch/internal/subscribers"
)

// RateService serves aggregated snapshots.
type RateService interface {
	Aggregate(ctx context.Context) (rates.Snapshot, service.CacheStatus, error)
	ForceRefresh(ctx context.Context) (rates.Snapshot, service.CacheStatus, error)
}

// HistoryStore exposes the durable daily series to the API.
type HistoryStore interface {
	Commit(ctx context.Context, oficial, paralelo decimal.Decimal, euro *decimal.Decimal) (history.Record, error)
	ListLastDays(ctx context.Context, days int) ([]history.Record, error)
}

// Evaluator runs the notification engine on demand.
type Evaluator interface {
	Evaluate(ctx context.Context) (notify.Result, error)
}

// CacheInvalidator drops the cached snapshot after an out-of-band commit.
type CacheInvalidator interface {
	Invalidate()
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SiteURL         string
}

// Server is the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	config     ServerConfig

	rateService RateService
	store       HistoryStore
	evaluator   Evaluator
	directory   subscribers.Directory
	sender      notify.Sender
	cache       CacheInvalidator
	probes      []fetcher.QuoteFetcher

	logger zerolog.Logger
}

// NewServer wires the API server. evaluator, directory, sender and probes may
// be nil when the corresponding feature is disabled; their routes then answer
// 503.
func NewServer(
	config ServerConfig,
	rateService RateService,
	store HistoryStore,
	evaluator Evaluator,
	directory subscribers.Directory,
	sender notify.Sender,
	cache CacheInvalidator,
	probes []fetcher.QuoteFetcher,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		config:      config,
		rateService: rateService,
		store:       store,
		evaluator:   evaluator,
		directory:   directory,
		sender:      sender,
		cache:       cache,
		probes:      probes,
		logger:      logger.With().Str("component", "httpapi").Logger(),
	}

	s.setupRouter()

	return s
}

func (s *Server) setupRouter() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rates", s.handleGetRates).Methods(http.MethodGet)
	api.HandleFunc("/rates/refresh", s.handleRefreshRates).Methods(http.MethodPost)
	api.HandleFunc("/historical", s.handleGetHistorical).Methods(http.MethodGet)
	api.HandleFunc("/historical", s.handleCommitHistorical).Methods(http.MethodPost)
	api.HandleFunc("/subscribe", s.handleSubscribe).Methods(http.MethodPost)
	api.HandleFunc("/subscribe/check", s.handleSubscribeCheck).Methods(http.MethodGet)
	api.HandleFunc("/unsubscribe", s.handleUnsubscribe).Methods(http.MethodPost)
	api.HandleFunc("/notifications/evaluate", s.handleEvaluate).Methods(http.MethodGet)
	api.HandleFunc("/debug/sources", s.handleDebugSources).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info().Msg("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
