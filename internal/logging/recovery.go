package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
)

// Recoverer restores fallback log files into the database once it is
// reachable again, and inspects per-run log coverage.
type Recoverer struct {
	repo storage.LogRepository
}

// NewRecoverer creates a recoverer over the log repository.
func NewRecoverer(repo storage.LogRepository) *Recoverer {
	return &Recoverer{repo: repo}
}

// Replay parses path as JSON lines and inserts the parseable records in
// one transaction. Malformed lines are skipped and counted, not fatal:
// a fallback file written during an outage often has a torn last line.
func (r *Recoverer) Replay(ctx context.Context, path string) (recovered, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open fallback file: %w", err)
	}
	defer f.Close()

	var recs []*domain.LogRecord

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec domain.LogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		recs = append(recs, &rec)
	}
	if err := scanner.Err(); err != nil {
		return 0, skipped, fmt.Errorf("failed to read fallback file: %w", err)
	}

	if err := r.repo.InsertBatch(ctx, recs); err != nil {
		return 0, skipped, fmt.Errorf("failed to restore log records: %w", err)
	}
	return len(recs), skipped, nil
}

// CheckGaps reports how many records a run has in the database and the
// time bounds they cover. Zero count with a fallback file on disk means
// the run logged through an outage.
func (r *Recoverer) CheckGaps(ctx context.Context, runID string) (*storage.GapStats, error) {
	stats, err := r.repo.GapStats(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to check log gaps: %w", err)
	}
	return stats, nil
}
