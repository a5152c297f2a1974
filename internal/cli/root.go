package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stager/internal/control"
	"github.com/vietddude/stager/internal/core/config"
	"github.com/vietddude/stager/internal/pipeline"
	"github.com/vietddude/stylelog"
)

var (
	cfgPath   string
	isDebug   bool
	runID     string
	dryRun    bool
	yearOnly  int
	monthOnly int
	watchMode bool
)

var rootCmd = &cobra.Command{
	Use:   "stager",
	Short: "Stager batch pipeline harness",
	Long:  `Stager runs checkpointed, idempotent batch pipelines with retry, circuit breaking and month-level sweeps.`,
	Run:   runStager,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&runID, "run-id", "", "resume an earlier run, skipping its completed stages")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report unprocessed months without processing them")
	rootCmd.Flags().IntVar(&yearOnly, "year", 0, "sweep only months of this year")
	rootCmd.Flags().IntVar(&monthOnly, "month", 0, "sweep only this month number (requires --year)")
	rootCmd.Flags().BoolVar(&watchMode, "watch", false, "keep sweeping on an interval after the run")
}

func runStager(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	controlCfg := control.Config{
		Port:     cfg.Server.Port,
		Pipeline: cfg.Pipeline.Name,
		RunID:    runID,
		Database: cfg.Database,
		Redis:    cfg.Redis,
		Logging:  cfg.Logging,
		Retry:    cfg.Retry,
		Breaker:  cfg.Breaker,
		Sweep:    cfg.Sweep,
	}

	app, err := control.NewApp(controlCfg)
	if err != nil {
		slog.Error("Failed to initialize stager", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	app.Start(ctx)
	slog.Info("Stager started", "config", cfgPath, "run_id", app.RunID())

	result := app.RunPipeline(ctx)
	failed := result.Status == pipeline.RunFailed
	if failed {
		slog.Error("Pipeline run failed", "stage", result.FailedStage, "error", result.Err)
	} else {
		slog.Info("Pipeline run completed", "duration", result.Duration, "rows", result.Rows)
	}

	if !failed {
		opts := control.SweepOptions{DryRun: dryRun, Year: yearOnly, Month: monthOnly}
		if _, err := app.RunSweep(ctx, opts); err != nil && ctx.Err() == nil {
			slog.Error("Sweep failed", "error", err)
			failed = true
		}
		if watchMode && ctx.Err() == nil {
			_ = app.Watch(ctx)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	app.Stop(shutdownCtx)

	if failed {
		os.Exit(1)
	}
}

// loadConfig loads the config file and initializes logging. Exits on error
// so every command can assume a usable config.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	return cfg
}
