package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/server/internal/apikey"
	"github.com/CedrosPay/server/internal/config"
	"github.com/CedrosPay/server/internal/dispatcher"
	"github.com/CedrosPay/server/internal/idempotency"
	"github.com/CedrosPay/server/internal/ingestion"
	"github.com/CedrosPay/server/internal/logger"
	"github.com/CedrosPay/server/internal/metrics"
	"github.com/CedrosPay/server/internal/provider"
	"github.com/CedrosPay/server/internal/ratelimit"
	"github.com/CedrosPay/server/internal/versioning"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
	idemStore  *idempotency.MemoryStore
}

type handlers struct {
	cfg        *config.Config
	registry   *provider.Registry
	ingestion  *ingestion.Pipeline
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New builds the HTTP server with its configured router.
func New(cfg *config.Config, registry *provider.Registry, ingestionPipeline *ingestion.Pipeline, dispatch *dispatcher.Dispatcher, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:        cfg,
			registry:   registry,
			ingestion:  ingestionPipeline,
			dispatcher: dispatch,
			metrics:    metricsCollector,
			logger:     appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.idemStore = ConfigureRouter(router, cfg, registry, ingestionPipeline, dispatch, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches the webhook ingestion routes to an existing
// router, following the teacher's middleware chaining order: security
// headers -> structured logging -> request ID -> real IP -> recoverer ->
// version negotiation -> API key tier tagging -> rate limiting, with
// per-route-group timeouts layered on top. It returns the idempotency store
// backing the webhook route's Idempotency-Key cache (nil when disabled) so
// the caller can register its cleanup goroutine for shutdown.
func ConfigureRouter(router chi.Router, cfg *config.Config, registry *provider.Registry, ingestionPipeline *ingestion.Pipeline, dispatch *dispatcher.Dispatcher, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *idempotency.MemoryStore {
	if router == nil {
		return nil
	}

	handler := handlers{
		cfg:        cfg,
		registry:   registry,
		ingestion:  ingestionPipeline,
		dispatcher: dispatch,
		metrics:    metricsCollector,
		logger:     appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(versioning.Negotiation)

	apiKeyCfg := apikey.Config{Enabled: cfg.APIKey.Enabled, APIKeys: make(map[string]apikey.Tier)}
	for key, tierStr := range cfg.APIKey.Keys {
		apiKeyCfg.APIKeys[key] = apikey.Tier(tierStr)
	}
	router.Use(apikey.Middleware(apiKeyCfg))

	rateLimitCfg := ratelimit.Config{
		Enabled: cfg.RateLimit.Enabled,
		Limit:   cfg.RateLimit.Limit,
		Window:  cfg.RateLimit.Window.Duration,
		Metrics: metricsCollector,
	}
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	adminAuth := apikey.RequireAdminKey(cfg.Server.AdminAPIKey)
	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints: health checks and metrics scraping.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", handler.health)
		r.With(adminAuth).Handle(prefix+"/metrics", promhttp.Handler())
		r.With(adminAuth).Get(prefix+"/providers", handler.listProviders)
	})

	var idemStore *idempotency.MemoryStore
	webhookMiddlewares := []func(http.Handler) http.Handler{}
	if cfg.Idempotency.Enabled {
		idemStore = idempotency.NewMemoryStore()
		webhookMiddlewares = append(webhookMiddlewares, idempotency.Middleware(idemStore, cfg.Idempotency.TTL.Duration))
	}

	// Webhook ingestion and admin-triggered DLQ drain: longer timeout since
	// these may block on a persistence write or a dispatch-adjacent circuit
	// breaker check. Webhook routes stay unversioned and unprefixed so
	// producers get a stable URL. Idempotency-Key caching guards against a
	// producer retrying a request whose response it never saw.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.With(webhookMiddlewares...).Post("/webhooks/{provider}", handler.ingestWebhook)
		r.With(adminAuth).Post(prefix+"/dlq/retry", handler.retryDLQ)
	})

	return idemStore
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and the idempotency store's
// background cleanup goroutine, if one was started.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.idemStore != nil {
		s.idemStore.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}
