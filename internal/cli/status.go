package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/stager/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status [run_id]",
	Short: "Show the checkpoints of a run and the month ledger summary",
	Long:  `Shows every checkpoint of the given run (latest run when omitted) and a status summary of the processed-month ledger.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	runID := ""
	if len(args) > 0 {
		runID = args[0]
	} else {
		err := db.QueryRowContext(ctx,
			"SELECT run_id FROM ops.pipeline_checkpoint WHERE pipeline_name = $1 ORDER BY created_at DESC LIMIT 1",
			cfg.Pipeline.Name).Scan(&runID)
		if err != nil {
			fmt.Println("No runs recorded yet")
			printMonthSummary(ctx, db)
			return
		}
	}

	rows, err := db.QueryContext(ctx,
		`SELECT stage, checkpoint_key, status, COALESCE(duration_ms, 0),
		        COALESCE(metadata->>'rows_updated', ''), updated_at
		 FROM ops.pipeline_checkpoint
		 WHERE pipeline_name = $1 AND run_id = $2
		 ORDER BY id`,
		cfg.Pipeline.Name, runID)
	if err != nil {
		slog.Error("Failed to query checkpoints", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	fmt.Printf("Run %s\n\n", runID)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STAGE\tKEY\tSTATUS\tROWS\tDURATION\tUPDATED")

	for rows.Next() {
		var stage, key, status, rowCount string
		var durationMS int64
		var updatedAt time.Time
		if err := rows.Scan(&stage, &key, &status, &durationMS, &rowCount, &updatedAt); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			stage, key, status, rowCount, durationMS, updatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()

	printMonthSummary(ctx, db)
}

func printMonthSummary(ctx context.Context, db *postgres.DB) {
	rows, err := db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM ops.processed_months GROUP BY status ORDER BY status")
	if err != nil {
		return
	}
	defer func() {
		_ = rows.Close()
	}()

	fmt.Println("\nMonth ledger:")
	printed := false
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		fmt.Printf("  %s: %d\n", status, count)
		printed = true
	}
	if !printed {
		fmt.Println("  empty")
	}
}
