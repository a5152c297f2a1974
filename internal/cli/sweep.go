package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/stager/internal/control"
)

var (
	sweepDryRun bool
	sweepYear   int
	sweepMonth  int
	sweepReset  bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process every source month missing from the ledger",
	Run:   runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "report unprocessed months without processing them")
	sweepCmd.Flags().IntVar(&sweepYear, "year", 0, "sweep only months of this year")
	sweepCmd.Flags().IntVar(&sweepMonth, "month", 0, "sweep only this month number (requires --year)")
	sweepCmd.Flags().BoolVar(&sweepReset, "reset", false, "clear the ledger first and reprocess everything")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewApp(control.Config{
		Port:     cfg.Server.Port,
		Pipeline: cfg.Pipeline.Name,
		Database: cfg.Database,
		Redis:    cfg.Redis,
		Logging:  cfg.Logging,
		Retry:    cfg.Retry,
		Breaker:  cfg.Breaker,
		Sweep:    cfg.Sweep,
	})
	if err != nil {
		slog.Error("Failed to initialize stager", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	res, err := app.RunSweep(ctx, control.SweepOptions{
		DryRun: sweepDryRun,
		Year:   sweepYear,
		Month:  sweepMonth,
		Reset:  sweepReset,
	})
	app.Stop(ctx)
	if err != nil {
		slog.Error("Sweep failed", "error", err)
		os.Exit(1)
	}

	if res.DryRun {
		fmt.Printf("Would process %d month(s)\n", len(res.Planned))
		for _, m := range res.Planned {
			fmt.Printf("  %s\n", m.Key())
		}
		return
	}

	fmt.Printf("Processed %d of %d month(s), %d rows\n", res.Processed, len(res.Planned), res.Rows)
	if res.Failed != nil {
		fmt.Printf("Failed at month %s, see logs for details\n", res.Failed.Key())
		os.Exit(1)
	}
}
