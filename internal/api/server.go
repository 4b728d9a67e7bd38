// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package api exposes the HTTP surface: webhook intake, pipeline and job
// introspection, rule management, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goccy/go-json"

	"github.com/attriflow/attriflow/internal/backfill"
	"github.com/attriflow/attriflow/internal/logging"
	"github.com/attriflow/attriflow/internal/models"
)

// Enqueuer is the webhook queue surface. *ingest.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, shop, topic string, payload json.RawMessage) (string, error)
	Depth() int64
}

// BackfillService triggers and describes backfill jobs. *backfill.Manager
// implements it.
type BackfillService interface {
	Start(ctx context.Context, shop string, rangeStart, rangeEnd time.Time) (*backfill.StartResult, error)
	Process(ctx context.Context, job *models.BackfillJob) error
	Describe(ctx context.Context, shop string) (*models.BackfillJob, error)
}

// CleanupService runs retention purges. *retention.Purger implements it.
type CleanupService interface {
	PruneHistoricalData(ctx context.Context, shop string) error
}

// RuleService manages attribution rule sets. *settings.Manager implements it.
type RuleService interface {
	Load(ctx context.Context, shop string) (*models.RuleSet, error)
	Update(ctx context.Context, shop string, domains []models.DomainRule, utm []models.UTMSourceRule, keywords []string) (*models.RuleSet, error)
	Reset(ctx context.Context, shop string) (*models.RuleSet, error)
}

// OrderReader looks up persisted orders for dashboard drill-down.
// *database.DB implements it.
type OrderReader interface {
	GetOrder(ctx context.Context, shop, externalID string) (*models.Order, error)
}

// PipelineReader reads pipeline state. *pipeline.Store implements it.
type PipelineReader interface {
	State(ctx context.Context, shop string) (*models.PipelineState, error)
}

// Pinger checks database liveness. *database.DB implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ShopResolver reports whether a shop is connected. *database.DB's ListShops
// backs the default implementation in cmd/server.
type ShopResolver func(ctx context.Context, shop string) bool

// Config holds HTTP server parameters.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration

	// WebhookSecret signs webhook payloads (HMAC-SHA256, base64). Empty
	// disables verification, for development only.
	WebhookSecret string

	// RateLimit is requests per minute per client IP. 0 disables limiting.
	RateLimit int

	// BackfillRangeDays sizes manually triggered backfills.
	BackfillRangeDays int
}

// Server is the HTTP API server.
type Server struct {
	cfg      Config
	queue    Enqueuer
	backfill BackfillService
	cleanup  CleanupService
	rules    RuleService
	pipeline PipelineReader
	orders   OrderReader
	db       Pinger
	knows    ShopResolver
	http     *http.Server
}

// NewServer wires the HTTP server and its routes.
func NewServer(cfg Config, queue Enqueuer, bf BackfillService, cleanup CleanupService,
	rules RuleService, pipe PipelineReader, orders OrderReader, db Pinger, knows ShopResolver) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BackfillRangeDays <= 0 {
		cfg.BackfillRangeDays = 90
	}

	s := &Server{
		cfg:      cfg,
		queue:    queue,
		backfill: bf,
		cleanup:  cleanup,
		rules:    rules,
		pipeline: pipe,
		orders:   orders,
		db:       db,
		knows:    knows,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       2 * cfg.Timeout,
	}
	return s
}

// Router builds the chi route tree. Exposed for httptest use.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Webhook intake. The platform signs the raw body; verification happens
	// before anything is parsed.
	r.Post("/webhooks/{category}/{event}", s.handleWebhook)

	r.Route("/api/v1/shops/{shop}", func(r chi.Router) {
		r.Use(s.requireKnownShop)
		r.Get("/pipeline", s.handlePipelineState)
		r.Get("/backfill", s.handleBackfillDescribe)
		r.Post("/backfill", s.handleBackfillTrigger)
		r.Post("/cleanup", s.handleCleanupTrigger)
		r.Get("/rules", s.handleRulesGet)
		r.Put("/rules", s.handleRulesUpdate)
		r.Delete("/rules", s.handleRulesReset)
		r.Get("/orders/{order}", s.handleOrderGet)
	})

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully. It satisfies the supervisor's service interface.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.http.Addr).Msg("http server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

// requireKnownShop rejects API calls for shops that are not connected.
func (s *Server) requireKnownShop(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shop := chi.URLParam(r, "shop")
		if shop == "" || (s.knows != nil && !s.knows(r.Context(), shop)) {
			respondError(w, http.StatusNotFound, "unknown shop")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}
