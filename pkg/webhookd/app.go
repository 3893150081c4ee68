// Package webhookd wires the webhook ingestion and dispatch pipeline into a
// single App for embedding or standalone serving, mirroring the teacher's
// pkg/cedros functional-options assembly.
package webhookd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/server/internal/circuitbreaker"
	"github.com/CedrosPay/server/internal/config"
	"github.com/CedrosPay/server/internal/dbpool"
	"github.com/CedrosPay/server/internal/dispatcher"
	"github.com/CedrosPay/server/internal/dlq"
	"github.com/CedrosPay/server/internal/eventstore"
	"github.com/CedrosPay/server/internal/httpserver"
	"github.com/CedrosPay/server/internal/ingestion"
	"github.com/CedrosPay/server/internal/lifecycle"
	"github.com/CedrosPay/server/internal/logger"
	"github.com/CedrosPay/server/internal/metrics"
	"github.com/CedrosPay/server/internal/provider"
)

// App wires the webhook ingestion components for reuse or standalone serving.
type App struct {
	Config     *config.Config
	Store      eventstore.Store
	DLQStore   dlq.Store
	Registry   *provider.Registry
	Breaker    *circuitbreaker.Manager
	Dispatcher *dispatcher.Dispatcher
	Pipeline   *ingestion.Pipeline

	router           chi.Router
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
	log              zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store    eventstore.Store
	dlqStore dlq.Store
	registry *provider.Registry
	router   chi.Router
}

// WithStore sets a custom event store backend.
func WithStore(store eventstore.Store) Option {
	return func(o *options) { o.store = store }
}

// WithDLQStore sets a custom dead-letter queue backend.
func WithDLQStore(store dlq.Store) Option {
	return func(o *options) { o.dlqStore = store }
}

// WithRegistry overrides the default three-provider registry.
func WithRegistry(registry *provider.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithRouter allows callers to provide an existing chi.Router to register
// routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// NewApp assembles the webhook ingestion pipeline for embedding.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("webhookd: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	app.log = logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     cfg.Logging.Service,
		Version:     cfg.Logging.Version,
		Environment: cfg.Logging.Environment,
	})

	app.metricsCollector = metrics.New(prometheus.DefaultRegisterer)

	store, dlqStore, err := buildStores(cfg, optState, app.resourceManager, app.log, app.metricsCollector)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.DLQStore = dlqStore

	if optState.registry != nil {
		app.Registry = optState.registry
	} else {
		app.Registry = provider.NewRegistry(
			provider.NewFormProvider("form", "Typeform-Signature", cfg),
			provider.NewPaymentProvider("payment", "Payment-Signature", cfg),
			provider.NewVideoProvider("video", "Video-Signature", "Video-Timestamp", cfg),
		)
	}

	app.Breaker = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, &app.log)

	app.Dispatcher = dispatcher.New(cfg.Dispatch, cfg.DLQ, app.Store, app.DLQStore, app.Breaker, app.metricsCollector, app.log)
	if cfg.DLQ.Enabled {
		sweepCtx, cancel := context.WithCancel(context.Background())
		app.Dispatcher.StartSweep(sweepCtx, cfg.DLQ.SweepInterval.Duration, cfg.DLQ.BatchSize)
		app.resourceManager.RegisterFunc("dlq-sweep", func() error {
			cancel()
			app.Dispatcher.Stop()
			return nil
		})
	}

	app.Pipeline = ingestion.New(app.Registry, app.Store, app.Dispatcher, app.metricsCollector)

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	if idemStore := httpserver.ConfigureRouter(app.router, cfg, app.Registry, app.Pipeline, app.Dispatcher, app.metricsCollector, app.log); idemStore != nil {
		app.resourceManager.RegisterFunc("idempotency-store", func() error {
			idemStore.Stop()
			return nil
		})
	}

	return app, nil
}

func buildStores(cfg *config.Config, opts options, lm *lifecycle.Manager, log zerolog.Logger, metricsCollector *metrics.Metrics) (eventstore.Store, dlq.Store, error) {
	if opts.store != nil && opts.dlqStore != nil {
		return opts.store, opts.dlqStore, nil
	}

	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := dbpool.NewSharedPool(cfg.Storage.DatabaseURL, cfg.Storage.PostgresPool)
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres pool: %w", err)
		}
		lm.Register("postgres-pool", pool)

		store, err := eventstore.NewPostgresStoreWithDB(pool.DB())
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres event store: %w", err)
		}
		store.SetMetrics(metricsCollector)

		dlqStore, err := dlq.NewPostgresStoreWithDB(pool.DB())
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres dlq store: %w", err)
		}
		dlqStore.SetMetrics(metricsCollector)
		return store, dlqStore, nil

	case "mongodb":
		store, err := eventstore.NewMongoDBStore(cfg.Storage.MongoDBURL, cfg.Storage.MongoDBDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("init mongodb event store: %w", err)
		}
		store.SetMetrics(metricsCollector)
		lm.Register("event-store", store)

		dlqStore, err := dlq.NewMongoDBStore(cfg.Storage.MongoDBURL, cfg.Storage.MongoDBDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("init mongodb dlq store: %w", err)
		}
		dlqStore.SetMetrics(metricsCollector)
		lm.Register("dlq-store", dlqStore)
		return store, dlqStore, nil

	default:
		log.Warn().Msg("webhookd: defaulting to in-memory stores - do not use this backend in production")
		return eventstore.NewMemoryStore(), dlq.NewMemoryStore(), nil
	}
}

// Router returns the chi router with webhookd routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases resources owned by the app (stores, DLQ sweep, etc).
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for
// embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding webhookd.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
