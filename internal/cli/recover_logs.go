package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/stager/internal/infra/storage/postgres"
	"github.com/vietddude/stager/internal/logging"
)

var recoverFile string

var recoverLogsCmd = &cobra.Command{
	Use:   "recover-logs",
	Short: "Replay a fallback JSONL log file into the database",
	Long:  `Replays records written to the file sink while the database was unavailable. Lines that do not parse are skipped and counted; the file is left in place.`,
	Run:   runRecoverLogs,
}

func init() {
	recoverLogsCmd.Flags().StringVar(&recoverFile, "file", "", "fallback file to replay (default is the configured fallback path)")
	rootCmd.AddCommand(recoverLogsCmd)
}

func runRecoverLogs(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	path := recoverFile
	if path == "" {
		path = cfg.Logging.FallbackPath
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	recovered, skipped, err := logging.NewRecoverer(postgres.NewLogRepo(db)).Replay(ctx, path)
	if err != nil {
		slog.Error("Failed to replay fallback logs", "error", err, "file", path)
		os.Exit(1)
	}

	fmt.Printf("Recovered %d record(s) from %s", recovered, path)
	if skipped > 0 {
		fmt.Printf(", skipped %d unparseable line(s)", skipped)
	}
	fmt.Println()
}
