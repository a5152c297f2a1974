package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
	"github.com/vietddude/stager/internal/pipeline"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	pipeline    string
	db          Pinger
	breaker     *pipeline.CircuitBreaker
	checkpoints storage.CheckpointRepository
	months      storage.MonthRepository
	stuckAfter  time.Duration
	lastCheck   time.Time
	lastReport  PipelineHealth
	mu          sync.RWMutex
}

// NewMonitor creates a new health monitor. db and breaker may be nil when
// the corresponding component is not configured; stuckAfter is how long an
// in_progress checkpoint may run before it counts as stuck.
func NewMonitor(
	pipelineName string,
	db Pinger,
	breaker *pipeline.CircuitBreaker,
	checkpoints storage.CheckpointRepository,
	months storage.MonthRepository,
	stuckAfter time.Duration,
) *Monitor {
	if stuckAfter <= 0 {
		stuckAfter = 30 * time.Minute
	}
	return &Monitor{
		pipeline:    pipelineName,
		db:          db,
		breaker:     breaker,
		checkpoints: checkpoints,
		months:      months,
		stuckAfter:  stuckAfter,
	}
}

// CheckHealth performs a health check across all components.
func (m *Monitor) CheckHealth(ctx context.Context) PipelineHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks (max once per 10s) to avoid hammering the database
	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.Pipeline != "" {
		return m.lastReport
	}

	report := PipelineHealth{
		Pipeline:   m.pipeline,
		Status:     StatusHealthy,
		DatabaseOK: true,
	}

	// 1. Database reachability
	if m.db != nil {
		if err := m.db.Health(ctx); err != nil {
			report.DatabaseOK = false
		}
	}

	// 2. Breaker position
	if m.breaker != nil {
		report.BreakerState = string(m.breaker.State())
	}

	// 3. Stuck checkpoints (in_progress with no terminal write for too long)
	if count, err := m.checkpoints.CountStuck(ctx, m.pipeline, time.Now().Add(-m.stuckAfter)); err == nil {
		report.StuckCheckpoints = count
	}

	// 4. Failed checkpoints
	if count, err := m.checkpoints.CountFailed(ctx, m.pipeline); err == nil {
		report.FailedCheckpoints = count
	}

	// 5. Failed months backlog
	if m.months != nil {
		if count, err := m.months.CountByStatus(ctx, domain.MonthStatusFailed); err == nil {
			report.FailedMonths = count
		}
	}

	// Evaluate status. An unreachable database or an open breaker means
	// nothing is making progress; failure backlogs mean someone should look.
	if !report.DatabaseOK || report.BreakerState == string(pipeline.BreakerOpen) {
		report.Status = StatusCritical
	} else if report.StuckCheckpoints > 0 || report.FailedCheckpoints > 0 ||
		report.FailedMonths > 0 || report.BreakerState == string(pipeline.BreakerHalfOpen) {
		report.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
