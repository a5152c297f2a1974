// Package control wires storage, logging, retry, breaker, sweep and health
// components into a runnable application.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/vietddude/stager/internal/core/checkpoint"
	"github.com/vietddude/stager/internal/core/config"
	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/core/months"
	"github.com/vietddude/stager/internal/core/worker"
	redisclient "github.com/vietddude/stager/internal/infra/redis"
	"github.com/vietddude/stager/internal/infra/storage"
	"github.com/vietddude/stager/internal/infra/storage/memory"
	"github.com/vietddude/stager/internal/infra/storage/postgres"
	"github.com/vietddude/stager/internal/logging"
	"github.com/vietddude/stager/internal/pipeline"
	"github.com/vietddude/stager/internal/pipeline/health"
	"github.com/vietddude/stager/internal/pipeline/recovery"
	"github.com/vietddude/stager/internal/sweep"
	"github.com/vietddude/stager/migrations"
)

// Config holds the application configuration.
type Config struct {
	Port     int
	Pipeline string
	RunID    string // empty = mint a fresh run ID
	Database postgres.Config
	Redis    redisclient.Config
	Logging  config.LoggingConfig
	Retry    config.RetryConfig
	Breaker  config.BreakerConfig
	Sweep    config.SweepConfig
}

// App owns every component of the stager and manages their lifecycle.
type App struct {
	cfg   Config
	runID string

	db    *postgres.DB
	store *memory.MemoryStorage

	checkpointRepo storage.CheckpointRepository
	monthRepo      storage.MonthRepository
	logRepo        storage.LogRepository

	logger      *logging.Logger
	retry       pipeline.RetryPolicy
	breaker     *pipeline.CircuitBreaker
	checkpoints checkpoint.Manager
	runner      *pipeline.Runner
	stages      []pipeline.Stage

	tracker   *months.Tracker
	source    sweep.MonthSource
	aggregate sweep.Aggregate
	queue     sweep.Queue

	redisClient  *redisclient.Client
	requeue      *sweep.Worker
	healthServer *health.Server
	pruner       *worker.Pruner
	recovery     *recovery.Service

	log *slog.Logger
}

// NewApp creates the application with all components initialized.
func NewApp(cfg Config) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default().With("component", "control"),
	}

	// 1. Initialize Storage
	var recoveryRepo storage.RecoveryRepository
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		goose.SetBaseFS(migrations.FS)
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, fmt.Errorf("failed to set goose dialect: %w", err)
		}
		if err := goose.Up(db.DB.DB, "."); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.db = db
		a.checkpointRepo = postgres.NewCheckpointRepo(db)
		a.monthRepo = postgres.NewMonthRepo(db)
		a.logRepo = postgres.NewLogRepo(db)
		recoveryRepo = postgres.NewRecoveryRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		a.store = memory.NewMemoryStorage()
		a.checkpointRepo = memory.NewCheckpointRepo(a.store)
		a.monthRepo = memory.NewMonthRepo(a.store)
		a.logRepo = memory.NewLogRepo(a.store)
		recoveryRepo = memory.NewRecoveryRepo(a.store)
		slog.Info("Using Memory storage")
	}

	// 2. Run identity
	a.runID = cfg.RunID
	if a.runID == "" {
		a.runID = uuid.New().String()
	}

	// 3. Tiered logger: database, fallback file, critical file
	a.logger = logging.New(cfg.Pipeline, a.runID,
		logging.NewDBSink(a.logRepo),
		logging.NewFileSink(cfg.Logging.FallbackPath),
		logging.NewCriticalSink(cfg.Logging.CriticalPath),
	)

	// 4. Retry policy and circuit breaker
	a.retry = pipeline.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxJitter:   cfg.Retry.MaxJitter,
	}
	a.breaker = pipeline.NewCircuitBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown)
	a.breaker.SetStateChangeCallback(func(t pipeline.BreakerTransition) {
		a.logger.Warning(context.Background(),
			fmt.Sprintf("Circuit breaker %s: %s", t.To, t.Reason),
			map[string]any{"from": string(t.From), "to": string(t.To)})
	})

	// 5. Checkpointed stage runner
	a.checkpoints = checkpoint.NewManager(a.checkpointRepo, cfg.Pipeline, a.runID)
	a.runner = pipeline.NewRunner(a.checkpoints, a.retry, a.breaker, a.logger)
	if a.db != nil {
		a.stages = salesStages(a.db)
	} else {
		a.stages = demoStages()
	}

	// 6. Redis requeue channel (optional)
	if cfg.Redis.URL != "" && cfg.Sweep.Requeue {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, requeue disabled", "error", err)
		} else {
			a.redisClient = client
			a.queue = client
		}
	}

	// 7. Month ledger and sweep processor
	a.tracker = months.NewTracker(a.monthRepo)
	if a.db != nil {
		a.source = NewQueryMonthSource(a.db, cfg.Sweep.SourceQuery)
		a.aggregate = salesAggregate(a.db)
	} else {
		a.source = staticMonthSource(nil)
		a.aggregate = noopAggregate
	}
	if a.queue != nil {
		processor := a.newProcessor(SweepOptions{})
		a.requeue = sweep.NewWorker(
			sweep.WorkerConfig{MaxAttempts: cfg.Sweep.MaxRequeueAttempts},
			cfg.Pipeline, a.queue, processor)
	}

	// 8. Health monitor and server
	var pinger health.Pinger
	if a.db != nil {
		pinger = a.db
	}
	monitor := health.NewMonitor(cfg.Pipeline, pinger, a.breaker,
		a.checkpointRepo, a.monthRepo, 30*time.Minute)
	a.healthServer = health.NewServer(monitor, cfg.Port)

	// 9. Maintenance workers
	a.pruner = worker.NewPruner(cfg.Logging.Retention, a.logRepo)

	// 10. Recovery service (manual invocation only)
	a.recovery = recovery.NewService(recoveryRepo, a.monthRepo, a.logger)

	return a, nil
}

// Start launches the background components: health server, metrics
// collector, log pruner and the requeue worker when Redis is configured.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
	go a.pruner.Start(ctx)
	if a.requeue != nil {
		go func() {
			if err := a.requeue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("Requeue worker failed", "error", err)
			}
		}()
	}
}

// Stop gracefully shuts down the application.
func (a *App) Stop(ctx context.Context) {
	a.log.Info("Stopping stager...")

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis client", "error", err)
		}
	}
	if a.healthServer != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			a.log.Warn("Failed to stop health server", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}

	a.log.Info("Stager stopped")
}

// RunID returns the run identifier checkpoints are recorded under.
func (a *App) RunID() string { return a.runID }

// RunPipeline executes the stage sequence once, skipping stages already
// completed under this run ID.
func (a *App) RunPipeline(ctx context.Context) *pipeline.RunResult {
	return a.runner.Run(ctx, a.stages)
}

// SweepOptions narrows a single sweep invocation.
type SweepOptions struct {
	DryRun bool
	Year   int // 0 = all years
	Month  int // 0 = all months
	Reset  bool
}

// RunSweep processes every source month missing from the ledger.
func (a *App) RunSweep(ctx context.Context, opts SweepOptions) (*sweep.Result, error) {
	return a.newProcessor(opts).Run(ctx)
}

// Watch runs sweeps on an interval until the context is cancelled. Sweep
// failures are logged and do not stop the loop; the failed month sits in
// the ledger (and requeue channel) until it recovers.
func (a *App) Watch(ctx context.Context) error {
	interval := a.cfg.Sweep.WatchInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	a.log.Info("Watching for unprocessed months", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.RunSweep(ctx, SweepOptions{}); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("Sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Checkpoints lists the checkpoint rows of a run for status reporting.
func (a *App) Checkpoints(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	return a.checkpointRepo.ListByRun(ctx, a.cfg.Pipeline, runID)
}

// Months lists the processed-month ledger.
func (a *App) Months(ctx context.Context) ([]*domain.ProcessedMonth, error) {
	return a.monthRepo.ListProcessed(ctx)
}

// ResetMonths clears the ledger so the next sweep reprocesses everything.
func (a *App) ResetMonths(ctx context.Context) (int64, error) {
	return a.tracker.Reset(ctx)
}

// RecoverLogs replays a fallback JSONL file into the database log table.
func (a *App) RecoverLogs(ctx context.Context, path string) (recovered, skipped int, err error) {
	return logging.NewRecoverer(a.logRepo).Replay(ctx, path)
}

// LogGaps reports sequence gaps in the database logs of a run.
func (a *App) LogGaps(ctx context.Context, runID string) (*storage.GapStats, error) {
	return logging.NewRecoverer(a.logRepo).CheckGaps(ctx, runID)
}

// Recovery exposes the corruption recovery service for CLI use.
func (a *App) Recovery() *recovery.Service { return a.recovery }

func (a *App) newProcessor(opts SweepOptions) *sweep.Processor {
	return sweep.NewProcessor(sweep.Config{
		Pipeline: a.cfg.Pipeline,
		DryRun:   opts.DryRun,
		Year:     opts.Year,
		Month:    opts.Month,
		Reset:    opts.Reset,
	}, a.source, a.aggregate, a.tracker, a.retry, a.breaker, a.queue, a.logger)
}
