package sweep

import (
	"context"
	"fmt"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/core/months"
	"github.com/vietddude/stager/internal/logging"
	"github.com/vietddude/stager/internal/pipeline"
	"github.com/vietddude/stager/internal/pipeline/metrics"
)

// Config controls one sweep run.
type Config struct {
	Pipeline string // ledger identity, used for requeue keys and logs
	DryRun   bool   // report the plan without processing anything
	Year     int    // only process this year (0 = all)
	Month    int    // only process this month number (0 = all)
	Reset    bool   // delete the whole ledger first, reprocessing everything
}

// Result summarizes a sweep run.
type Result struct {
	Planned   []domain.Month
	Processed int
	Rows      int64
	Failed    *domain.Month
	DryRun    bool
}

// Processor runs idempotent month sweeps. Each unprocessed month is marked
// in_progress, aggregated under retry and breaker protection, then marked
// completed or failed. The first failure halts the sweep; with a queue
// configured the failed month is pushed there for the requeue worker.
type Processor struct {
	cfg       Config
	source    MonthSource
	aggregate Aggregate
	tracker   *months.Tracker
	retry     pipeline.RetryPolicy
	breaker   *pipeline.CircuitBreaker
	queue     Queue
	log       *logging.Logger
}

// NewProcessor creates a sweep processor. breaker and queue may be nil.
func NewProcessor(
	cfg Config,
	source MonthSource,
	aggregate Aggregate,
	tracker *months.Tracker,
	retry pipeline.RetryPolicy,
	breaker *pipeline.CircuitBreaker,
	queue Queue,
	log *logging.Logger,
) *Processor {
	return &Processor{
		cfg:       cfg,
		source:    source,
		aggregate: aggregate,
		tracker:   tracker,
		retry:     retry,
		breaker:   breaker,
		queue:     queue,
		log:       log,
	}
}

// Run performs one sweep: enumerate source months, subtract the ledger,
// apply filters and process what remains in chronological order.
func (p *Processor) Run(ctx context.Context) (*Result, error) {
	result := &Result{DryRun: p.cfg.DryRun}

	if p.cfg.Reset {
		removed, err := p.tracker.Reset(ctx)
		if err != nil {
			return nil, err
		}
		p.log.Warning(ctx, fmt.Sprintf("Reset month ledger, %d rows removed", removed), nil)
	}

	all, err := p.source.DistinctMonths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate source months: %w", err)
	}

	processed, err := p.tracker.ListProcessed(ctx)
	if err != nil {
		return nil, err
	}

	todo := months.Diff(all, processed)
	todo = p.filter(todo)
	result.Planned = todo

	if len(todo) == 0 {
		p.log.Info(ctx, "No new months to process", map[string]any{
			"source_months": len(all),
			"processed":     len(processed),
		})
		return result, nil
	}

	if p.cfg.DryRun {
		for _, m := range todo {
			p.log.Info(ctx, fmt.Sprintf("Would process month %s", m.Key()), nil)
		}
		return result, nil
	}

	p.log.Info(ctx, fmt.Sprintf("Sweeping %d unprocessed months", len(todo)), map[string]any{
		"months": len(todo),
	})

	for _, m := range todo {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		rows, err := p.ProcessMonth(ctx, m)
		if err != nil {
			result.Failed = &m
			if p.queue != nil {
				if pushErr := p.queue.PushMonth(ctx, p.cfg.Pipeline, m, 0); pushErr != nil {
					p.log.Error(ctx, fmt.Sprintf("Failed to requeue month %s: %v", m.Key(), pushErr), nil)
				} else {
					p.log.Warning(ctx, fmt.Sprintf("Month %s pushed to requeue channel", m.Key()), nil)
				}
			}
			return result, err
		}
		result.Processed++
		result.Rows += rows
	}

	p.log.Info(ctx, fmt.Sprintf("Sweep completed: %d months, %d rows", result.Processed, result.Rows), map[string]any{
		"months": result.Processed,
		"rows":   result.Rows,
	})
	return result, nil
}

// ProcessMonth aggregates a single month through the retry policy and, when
// configured, the circuit breaker. The ledger is marked in_progress first
// so a crash leaves a visible claim, then completed or failed.
func (p *Processor) ProcessMonth(ctx context.Context, m domain.Month) (int64, error) {
	if err := p.tracker.MarkProcessed(ctx, m, domain.MonthStatusInProgress, nil); err != nil {
		return 0, err
	}

	op := p.retry.Wrap(func(ctx context.Context) (int64, error) {
		return p.aggregate(ctx, m)
	})

	var rows int64
	var err error
	if p.breaker != nil {
		rows, err = p.breaker.Call(ctx, op)
	} else {
		rows, err = op(ctx)
	}

	if err != nil {
		metrics.MonthsProcessed.WithLabelValues("failed").Inc()
		if markErr := p.tracker.MarkProcessed(ctx, m, domain.MonthStatusFailed, map[string]any{
			"error": err.Error(),
		}); markErr != nil {
			p.log.Error(ctx, fmt.Sprintf("Failed to mark month %s failed: %v", m.Key(), markErr), nil)
		}
		p.log.Error(ctx, fmt.Sprintf("Month %s failed: %v", m.Key(), err), map[string]any{
			"month": m.Key(),
		})
		return 0, err
	}

	metrics.MonthsProcessed.WithLabelValues("completed").Inc()
	if err := p.tracker.MarkProcessed(ctx, m, domain.MonthStatusCompleted, map[string]any{
		"rows_updated": rows,
	}); err != nil {
		return 0, err
	}

	p.log.Info(ctx, fmt.Sprintf("Processed month %s, %d rows", m.Key(), rows), map[string]any{
		"month": m.Key(),
		"rows":  rows,
	})
	return rows, nil
}

func (p *Processor) filter(todo []domain.Month) []domain.Month {
	if p.cfg.Year == 0 && p.cfg.Month == 0 {
		return todo
	}
	var kept []domain.Month
	for _, m := range todo {
		if p.cfg.Year != 0 && m.Year != p.cfg.Year {
			continue
		}
		if p.cfg.Month != 0 && m.Month != p.cfg.Month {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
