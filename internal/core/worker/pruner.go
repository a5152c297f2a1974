package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/stager/internal/infra/storage"
)

// Pruner deletes old pipeline log records based on retention policy.
type Pruner struct {
	retention time.Duration
	logRepo   storage.LogRepository
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, logRepo storage.LogRepository) *Pruner {
	return &Pruner{
		retention: retention,
		logRepo:   logRepo,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check interval: 10% of the retention period, clamped to [1m, 1h]
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)

	removed, err := p.logRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("[Pruner] failed to prune log records", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("[Pruner] pruned old log records", "removed", removed)
	}
}
