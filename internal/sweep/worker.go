package sweep

import (
	"context"
	"log/slog"
	"time"
)

// WorkerConfig holds configuration for the requeue worker.
type WorkerConfig struct {
	Interval    time.Duration // Poll interval for the requeue channel (default: 30s)
	MaxAttempts int           // Drop a month after this many requeue attempts (default: 3)
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval:    30 * time.Second,
		MaxAttempts: 3,
	}
}

// Worker drains the requeue channel, retrying months that failed a sweep.
// A month that keeps failing is dropped after MaxAttempts; its ledger row
// stays failed so operators can still see it.
type Worker struct {
	cfg       WorkerConfig
	pipeline  string
	queue     Queue
	processor *Processor
	log       *slog.Logger
}

// NewWorker creates a new requeue worker.
func NewWorker(cfg WorkerConfig, pipeline string, queue Queue, processor *Processor) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWorkerConfig().Interval
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultWorkerConfig().MaxAttempts
	}
	return &Worker{
		cfg:       cfg,
		pipeline:  pipeline,
		queue:     queue,
		processor: processor,
		log:       slog.Default().With("component", "requeue", "pipeline", pipeline),
	}
}

// Run starts the worker loop. Blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting requeue worker", "interval", w.cfg.Interval, "max_attempts", w.cfg.MaxAttempts)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Requeue worker stopped")
			return nil
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain pops months until the queue is empty or a month fails. A failed
// month goes back with its attempt count bumped and the drain ends, so the
// retry waits for the next tick instead of hot-looping.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m, attempt, found, err := w.queue.PopMonth(ctx, w.pipeline)
		if err != nil {
			w.log.Error("Failed to pop month", "error", err)
			return
		}
		if !found {
			return
		}

		if _, err := w.processor.ProcessMonth(ctx, m); err != nil {
			if attempt+1 >= w.cfg.MaxAttempts {
				w.log.Error("Dropping month after max requeue attempts",
					"month", m.Key(), "attempts", attempt+1, "error", err)
				continue
			}
			if pushErr := w.queue.PushMonth(ctx, w.pipeline, m, attempt+1); pushErr != nil {
				w.log.Error("Failed to re-queue month", "month", m.Key(), "error", pushErr)
			}
			return
		}

		w.log.Info("Requeued month processed", "month", m.Key(), "attempt", attempt)
	}
}
