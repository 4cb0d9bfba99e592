package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/browser"
	"github.com/ternarybob/bidharvest/internal/common"
	"github.com/ternarybob/bidharvest/internal/credentials"
	"github.com/ternarybob/bidharvest/internal/engine"
	"github.com/ternarybob/bidharvest/internal/logs"
	"github.com/ternarybob/bidharvest/internal/queue"
	"github.com/ternarybob/bidharvest/internal/retry"
	jobsvc "github.com/ternarybob/bidharvest/internal/services/jobs"
	"github.com/ternarybob/bidharvest/internal/services/scheduler"
	"github.com/ternarybob/bidharvest/internal/storage/badger"
	"github.com/ternarybob/bidharvest/internal/strategy"
	"github.com/ternarybob/bidharvest/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Storage *badger.Manager

	// Job execution
	Queue      *queue.BadgerManager
	WorkerPool *queue.WorkerPool
	Runner     *worker.Runner
	JobService *jobsvc.Service
	LogService *logs.Service

	// Acquisition
	Cipher     *credentials.Cipher
	Strategies *strategy.Registry
	Engine     *engine.Engine
	Importer   *badger.SourceImporter

	SchedulerService *scheduler.Service

	cancelCtx context.CancelFunc
}

// New initializes the application with all dependencies. Nothing runs until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		_ = app.Storage.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.importSources(context.Background())

	logger.Debug().
		Int("concurrency", cfg.Queue.Concurrency).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.Storage = storageManager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices initializes all services in dependency order:
// queue, credentials, strategies, logs, engine, runner, worker pool, jobs, scheduler.
func (a *App) initServices() error {
	var err error

	queueConfig := queue.ConfigFromSettings(a.Config.Queue)
	a.Queue, err = queue.NewBadgerManager(a.Storage.DB(), queueConfig)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}

	a.Cipher, err = credentials.NewCipher(a.Config.Credentials.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential cipher: %w", err)
	}
	if a.Config.Credentials.EncryptionKey == "" {
		a.Logger.Warn().Msg("No credential encryption key configured; LOGIN_REQUIRED sources will fail authentication")
	}

	a.Strategies = strategy.NewRegistry()
	a.LogService = logs.NewService(a.Storage.LogStorage(), a.Logger)

	scraper := a.Config.Scraper
	launcher := browser.NewChromeLauncher(browser.ChromeConfig{
		Headless:       scraper.Headless,
		NoSandbox:      scraper.NoSandbox,
		DisableGPU:     scraper.Headless,
		ExecPath:       scraper.ChromePath,
		StartupTimeout: common.Duration(scraper.StartupTimeout, 30*time.Second),
	}, a.Logger)

	engineConfig := engine.Config{
		RateLimit:  time.Duration(scraper.RateLimitMs) * time.Millisecond,
		Timeout:    time.Duration(scraper.TimeoutMs) * time.Millisecond,
		MaxRetries: scraper.MaxRetries,
		UserAgent:  scraper.UserAgent,
		RetryBase:  retry.DefaultBase,
	}
	if engineConfig.UserAgent == "" {
		engineConfig.UserAgent = engine.DefaultUserAgent
	}
	a.Engine = engine.NewEngine(
		launcher,
		a.Strategies,
		a.Storage.CredentialStorage(),
		a.Cipher,
		a.LogService,
		engineConfig,
		a.Logger,
		engine.WithPacer(browser.NewHostPacer(common.Duration(scraper.HostInterval, 0))),
	)

	a.Runner = worker.NewRunner(a.Storage, a.Engine, a.LogService, a.Logger)
	a.WorkerPool = queue.NewWorkerPool(a.Queue, a.Runner.Handler(), queueConfig, a.Logger)
	a.Queue.SetAbandonHandler(a.Runner.Abandon)

	a.JobService = jobsvc.NewService(
		a.Storage.JobStorage(),
		a.Storage.SourceStorage(),
		a.Queue,
		a.LogService,
		a.Logger,
	)

	a.SchedulerService = scheduler.NewService(a.Storage.SourceStorage(), a.JobService, a.Logger)

	a.Importer = badger.NewSourceImporter(
		a.Storage.SourceStorage(),
		a.Storage.CredentialStorage(),
		a.Cipher,
		a.Strategies.ValidateSource,
		a.Logger,
	)
	return nil
}

// importSources loads source definition directories named in config
func (a *App) importSources(ctx context.Context) {
	for _, dir := range a.Config.Sources.Dirs {
		result, err := a.Importer.ImportDir(ctx, dir)
		if err != nil {
			// Log warning but don't fail startup
			a.Logger.Warn().Err(err).Str("dir", dir).Msg("Failed to import source definitions")
			continue
		}
		a.Logger.Info().
			Str("dir", dir).
			Int("sources", result.Sources).
			Int("credentials", result.Credentials).
			Int("skipped", result.Skipped).
			Msg("Source definitions imported")
	}
}

// Start launches the worker pool and, when enabled, the scheduler
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancelCtx = context.WithCancel(ctx)

	if err := a.WorkerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	// Stop workers before the database they write to
	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
	}

	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}
	return nil
}
