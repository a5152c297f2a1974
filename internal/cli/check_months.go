package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vietddude/stager/internal/infra/storage/postgres"
	"github.com/vietddude/stager/internal/logging"
	"github.com/vietddude/stager/internal/pipeline/recovery"
)

var checkRecover bool

var checkMonthsCmd = &cobra.Command{
	Use:   "check-months",
	Short: "Validate the month ledger and optionally repair corrupted rows",
	Long: `Scans the processed-month ledger for corrupted rows: invalid metadata JSON,
unknown status values, or a month key that disagrees with the year and month
columns. With --recover, corrupted rows are backed up, deleted, and the
recoverable ones reinserted as completed.`,
	Run: runCheckMonths,
}

func init() {
	checkMonthsCmd.Flags().BoolVar(&checkRecover, "recover", false, "repair the corruption found")
	rootCmd.AddCommand(checkMonthsCmd)
}

func runCheckMonths(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	logRepo := postgres.NewLogRepo(db)
	logger := logging.New(cfg.Pipeline.Name, uuid.New().String(),
		logging.NewDBSink(logRepo),
		logging.NewFileSink(cfg.Logging.FallbackPath),
		logging.NewCriticalSink(cfg.Logging.CriticalPath),
	)

	svc := recovery.NewService(postgres.NewRecoveryRepo(db), postgres.NewMonthRepo(db), logger)

	report, err := svc.Validate(ctx)
	if err != nil {
		slog.Error("Failed to validate month ledger", "error", err)
		os.Exit(1)
	}

	if len(report.Corrupted) == 0 {
		fmt.Println("Month ledger is clean")
		return
	}

	fmt.Printf("Found %d corrupted row(s):\n", len(report.Corrupted))
	for _, row := range report.Corrupted {
		fmt.Printf("  %s: %s\n", row.MonthKey, row.Reason)
	}
	fmt.Printf("%d of them recoverable\n", len(report.Recoverable))

	if !checkRecover {
		fmt.Println("Re-run with --recover to repair")
		os.Exit(1)
	}

	rec, err := svc.Recover(ctx, report.Recoverable)
	if err != nil {
		slog.Error("Failed to recover month ledger", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Backed up %d, deleted %d, reinserted %d month(s)\n",
		rec.BackedUp, rec.Deleted, rec.Reinserted)
}
