// Package sweep turns the month ledger into work: it finds the calendar
// months present in the source data that the ledger has not claimed yet and
// aggregates each one exactly once. Business SQL stays outside; the sweep
// only sees a MonthSource to enumerate months and an Aggregate to process
// one.
package sweep

import (
	"context"

	"github.com/vietddude/stager/internal/core/domain"
)

// MonthSource enumerates the months present in the source data.
type MonthSource interface {
	// DistinctMonths returns every (year, month) pair that has source rows
	DistinctMonths(ctx context.Context) ([]domain.Month, error)
}

// Aggregate materializes one month and reports how many rows it wrote.
// It must be idempotent per month; a retried or requeued month runs it
// again.
type Aggregate func(ctx context.Context, m domain.Month) (int64, error)

// Queue is the requeue channel for failed months.
type Queue interface {
	// PushMonth adds a month with its requeue attempt count
	PushMonth(ctx context.Context, pipeline string, m domain.Month, attempt int) error

	// PopMonth pops the next month, lowest attempt then oldest first
	PopMonth(ctx context.Context, pipeline string) (m domain.Month, attempt int, found bool, err error)
}
