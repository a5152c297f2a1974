// Package months tracks which calendar months of source data have been
// materialized. The ledger is keyed by "YYYY-MM" so re-runs can subtract
// what is already done and touch only new months.
package months

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
)

// Tracker records processed months against the ledger.
type Tracker struct {
	repo storage.MonthRepository
}

// NewTracker creates a tracker over the given repository.
func NewTracker(repo storage.MonthRepository) *Tracker {
	return &Tracker{repo: repo}
}

// ListProcessed returns the keys of every recorded month in ascending
// order, regardless of status. A month left in_progress or failed still
// counts as claimed; the requeue channel owns re-processing those.
func (t *Tracker) ListProcessed(ctx context.Context) ([]string, error) {
	rows, err := t.repo.ListProcessed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed months: %w", err)
	}

	keys := make([]string, 0, len(rows))
	for _, pm := range rows {
		keys = append(keys, pm.MonthKey)
	}
	return keys, nil
}

// MarkProcessed upserts one month with the given status.
func (t *Tracker) MarkProcessed(
	ctx context.Context,
	m domain.Month,
	status domain.MonthStatus,
	metadata map[string]any,
) error {
	pm := &domain.ProcessedMonth{
		MonthKey: m.Key(),
		Year:     m.Year,
		Month:    m.Month,
		Status:   status,
		Metadata: metadata,
	}
	if err := t.repo.Upsert(ctx, pm); err != nil {
		return fmt.Errorf("failed to mark month %s: %w", m.Key(), err)
	}
	return nil
}

// Reset deletes the whole ledger and returns how many rows were removed.
// Administrative: the next sweep reprocesses everything.
func (t *Tracker) Reset(ctx context.Context) (int64, error) {
	removed, err := t.repo.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processed months: %w", err)
	}
	return removed, nil
}

// Diff returns the months present in all but absent from processedKeys,
// in ascending (year, month) order. Pure set subtraction; the ordering
// makes rerun behavior deterministic.
func Diff(all []domain.Month, processedKeys []string) []domain.Month {
	seen := make(map[string]struct{}, len(processedKeys))
	for _, k := range processedKeys {
		seen[k] = struct{}{}
	}

	var missing []domain.Month
	for _, m := range all {
		if _, ok := seen[m.Key()]; !ok {
			missing = append(missing, m)
		}
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i].Before(missing[j]) })
	return missing
}

// ParseMonthKey parses a "YYYY-MM" key back into a Month.
func ParseMonthKey(key string) (domain.Month, error) {
	parts := strings.Split(key, "-")
	if len(parts) != 2 {
		return domain.Month{}, fmt.Errorf("invalid month key format: %s", key)
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return domain.Month{}, fmt.Errorf("invalid year in month key %s: %w", key, err)
	}

	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return domain.Month{}, fmt.Errorf("invalid month in month key %s: %w", key, err)
	}
	if month < 1 || month > 12 {
		return domain.Month{}, fmt.Errorf("month out of range in key %s: %d", key, month)
	}

	return domain.Month{Year: year, Month: month}, nil
}
