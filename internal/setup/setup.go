// Package setup assembles the application from configuration: database,
// migrations, caches, external clients, services and the HTTP server.
package setup

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/api"
	"github.com/clinical-pipeline-server/internal/audit"
	"github.com/clinical-pipeline-server/internal/cache"
	"github.com/clinical-pipeline-server/internal/config"
	"github.com/clinical-pipeline-server/internal/database"
	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/repository"
	"github.com/clinical-pipeline-server/internal/service"
	"github.com/clinical-pipeline-server/pkg/reasoning"
)

// Application holds the assembled components and their teardown order
type Application struct {
	Server *api.Server
	Logger *logrus.Logger

	db       *database.DB
	runCache *cache.RunCache
	auditLog *audit.SQLiteStore
	stream   *api.StreamHub
}

// Options toggle optional collaborators during assembly. Zero value enables
// everything the configuration enables.
type Options struct {
	Guidelines domain.GuidelineClient
	Trials     domain.TrialClient
}

// NewApplication wires the full application from configuration
func NewApplication(ctx context.Context, manager *config.Manager, opts Options) (*Application, error) {
	cfg := manager.GetConfig()

	logger := newLogger(cfg.Logging)

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.MigrationsPath != "" {
		migrator, err := database.NewMigrationRunner(manager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create migration runner: %w", err)
		}
		if err := migrator.Up(ctx); err != nil {
			migrator.Close()
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		migrator.Close()
	}

	patients := repository.NewPatientRepository(db.Pool, logger)
	encounters := repository.NewEncounterRepository(db.Pool, logger)

	reasoner := reasoning.NewHTTPClient(reasoning.Config{
		BaseURL:          cfg.Reasoning.BaseURL,
		APIKey:           cfg.Reasoning.APIKey,
		Model:            cfg.Reasoning.Model,
		Timeout:          cfg.Reasoning.Timeout,
		RateLimit:        cfg.Reasoning.RateLimit,
		FailureThreshold: cfg.Reasoning.FailureThreshold,
		BreakerInterval:  cfg.Reasoning.BreakerInterval,
		BreakerTimeout:   cfg.Reasoning.BreakerTimeout,
	}, logger)

	app := &Application{
		Logger: logger,
		db:     db,
	}

	if !cfg.Cache.Disabled {
		runCache, err := cache.NewRunCache(ctx, cfg.Cache.RedisURL, cfg.Cache.ResultTTL, logger)
		if err != nil {
			// The cache only backs run retrieval; the pipeline works without it.
			logger.WithError(err).Warn("Run result cache unavailable, run retrieval disabled")
		} else {
			app.runCache = runCache
		}
	}

	if !cfg.Audit.Disabled {
		auditLog, err := audit.NewSQLiteStore(cfg.Audit.Path)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		app.auditLog = auditLog
	}

	app.stream = api.NewStreamHub(logger)

	differential := service.NewDifferentialService(reasoner, opts.Guidelines, logger)
	finalizer := service.NewFinalizerService(reasoner, logger)
	extraction := service.NewExtractionService(reasoner, logger)
	soap := service.NewSoapService(reasoner, logger)
	persistence := service.NewPersistenceService(patients, encounters, logger)

	pipelineOpts := service.PipelineOptions{
		Progress: app.stream.Publish,
	}
	if opts.Trials != nil {
		trials, err := service.NewTrialMatchService(opts.Trials, cfg.Cache.LRUSize, logger)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create trial matching service: %w", err)
		}
		pipelineOpts.Trials = trials
	}
	if app.auditLog != nil {
		pipelineOpts.Recorder = app.auditLog
	}
	if app.runCache != nil {
		pipelineOpts.Store = app.runCache
	}

	pipeline := service.NewPipelineService(
		patients, differential, finalizer, extraction, soap, persistence,
		pipelineOpts, logger,
	)
	documents := service.NewDocumentService(patients, logger)

	app.Server = api.NewServer(*cfg, pipeline, documents, app.runCache, app.auditLog, app.stream, logger)

	return app, nil
}

// Close releases the application's resources in reverse assembly order
func (a *Application) Close() {
	if a.stream != nil {
		a.stream.Close()
	}
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close audit log")
		}
	}
	if a.runCache != nil {
		if err := a.runCache.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close run cache")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
