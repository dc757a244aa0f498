// Package app wires the FOIA Coach components and runs them until shutdown
package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/muckrock/foia-coach-api/internal/coach"
	customErrors "github.com/muckrock/foia-coach-api/internal/common/errors"
	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/config"
	"github.com/muckrock/foia-coach-api/internal/ingest"
	"github.com/muckrock/foia-coach-api/internal/knowledge"
	"github.com/muckrock/foia-coach-api/internal/observability"
	"github.com/muckrock/foia-coach-api/internal/rag"
)

const dispatchBufferPerWorker = 16

// App holds the components shared by the binaries
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	DB        *gorm.DB
	Repo      *knowledge.Repo
	Storage   *knowledge.Storage
	Providers *rag.ProviderCache
	Coach     *coach.Service
	Runner    *ingest.Runner

	closers []func(context.Context) error
}

// New opens the database and storage, sets up tracing and builds the
// provider cache and coach service.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	shutdownTracing, err := observability.Setup(ctx, cfg.Observability, cfg.Version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	a.DB, err = knowledge.Open(cfg.Database, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if cfg.Database.AutoMigrate {
		if err := knowledge.Migrate(a.DB); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database schema migrated")
	}

	a.Storage, err = knowledge.NewStorage(cfg.Upload.StorageDir)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.Repo = knowledge.NewRepo(a.DB, logger)
	a.Providers = rag.NewProviderCache(rag.NewFactory(cfg.RAG, rag.Dependencies{
		Logger: logger,
		Usage:  rag.NewUsageTracker(logger),
	}))
	a.Coach = coach.NewService(a.Providers, a.Repo, observability.NewTracingHandler(cfg.Observability, logger), logger)
	a.Runner = ingest.NewRunner(a.Repo, a.Providers, a.Storage, logger)

	logger.InfoKV("Components initialized",
		"database", cfg.Database.Driver,
		"default_provider", cfg.RAG.DefaultProvider,
		"storage", cfg.Upload.StorageDir)
	return a, nil
}

// Dispatcher builds the upload dispatcher for the configured queue driver.
// Inline dispatchers process jobs with the app's runner.
func (a *App) Dispatcher() (ingest.Dispatcher, error) {
	var (
		d   ingest.Dispatcher
		err error
	)
	switch a.Config.Queue.Driver {
	case config.QueueInline, "":
		workers := a.Config.Upload.Workers
		d = ingest.NewInlineDispatcher(a.Runner, workers, workers*dispatchBufferPerWorker, a.Logger)
	case config.QueueRabbitMQ:
		d, err = ingest.NewRabbitDispatcher(a.Config.Queue.RabbitURL, a.Config.Queue.RabbitQueue, a.Logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", a.Config.Queue.Driver)
	}
	a.closers = append(a.closers, func(context.Context) error { return d.Close() })
	return d, nil
}

// Consumer builds a RabbitMQ consumer feeding the app's runner
func (a *App) Consumer() (*ingest.Consumer, error) {
	if a.Config.Queue.Driver != config.QueueRabbitMQ {
		return nil, fmt.Errorf("queue driver is %q, the upload worker needs %q", a.Config.Queue.Driver, config.QueueRabbitMQ)
	}
	workers := a.Config.Queue.Prefetch
	if a.Config.Upload.Workers > workers {
		workers = a.Config.Upload.Workers
	}
	c, err := ingest.NewConsumer(a.Config.Queue.RabbitURL, a.Config.Queue.RabbitQueue, workers, a.Runner, a.Logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	return c, nil
}

// ClearProviders drops cached provider instances so the next request
// rebuilds them.
func (a *App) ClearProviders() {
	a.Providers.Clear()
	a.Logger.Info("Provider cache cleared")
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return customErrors.Join(errs...)
}
