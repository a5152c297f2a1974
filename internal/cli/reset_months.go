package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/stager/internal/infra/storage/postgres"
)

var resetYes bool

var resetMonthsCmd = &cobra.Command{
	Use:   "reset-months",
	Short: "Clear the processed-month ledger so the next sweep reprocesses everything",
	Run:   runResetMonths,
}

func init() {
	resetMonthsCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm the reset")
	rootCmd.AddCommand(resetMonthsCmd)
}

func runResetMonths(cmd *cobra.Command, args []string) {
	if !resetYes {
		fmt.Println("Refusing to reset without --yes: this deletes every ledger row and the next sweep reprocesses all months")
		os.Exit(1)
	}

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

	// Direct SQL keeps this override simple; the aggregates are idempotent
	// so reprocessing is safe.
	res, err := db.ExecContext(ctx, "DELETE FROM ops.processed_months")
	if err != nil {
		slog.Error("Failed to reset months", "error", err)
		os.Exit(1)
	}
	removed, _ := res.RowsAffected()

	fmt.Printf("Successfully reset %d month(s); run a sweep to rebuild\n", removed)
}
