package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
	"github.com/vietddude/stager/internal/pipeline"
)

// =============================================================================
// Stub Dependencies
// =============================================================================

type stubPinger struct{ err error }

func (p *stubPinger) Health(ctx context.Context) error { return p.err }

type stubCheckpointRepo struct {
	stuck  int
	failed int
}

func (r *stubCheckpointRepo) Get(ctx context.Context, pipeline, runID, stage, key string) (*domain.Checkpoint, error) {
	return nil, nil
}

func (r *stubCheckpointRepo) Upsert(ctx context.Context, cp *domain.Checkpoint) error { return nil }

func (r *stubCheckpointRepo) Start(ctx context.Context, pipeline, runID, stage, key string, startTime time.Time) error {
	return nil
}

func (r *stubCheckpointRepo) ListByRun(ctx context.Context, pipeline, runID string) ([]*domain.Checkpoint, error) {
	return nil, nil
}

func (r *stubCheckpointRepo) CountStuck(ctx context.Context, pipeline string, cutoff time.Time) (int, error) {
	return r.stuck, nil
}

func (r *stubCheckpointRepo) CountFailed(ctx context.Context, pipeline string) (int, error) {
	return r.failed, nil
}

type stubMonthRepo struct{ failedMonths int }

func (r *stubMonthRepo) ListProcessed(ctx context.Context) ([]*domain.ProcessedMonth, error) {
	return nil, nil
}

func (r *stubMonthRepo) Upsert(ctx context.Context, pm *domain.ProcessedMonth) error { return nil }

func (r *stubMonthRepo) ListByStatus(ctx context.Context, status domain.MonthStatus) ([]*domain.ProcessedMonth, error) {
	return nil, nil
}

func (r *stubMonthRepo) CountByStatus(ctx context.Context, status domain.MonthStatus) (int, error) {
	if status == domain.MonthStatusFailed {
		return r.failedMonths, nil
	}
	return 0, nil
}

func (r *stubMonthRepo) DeleteAll(ctx context.Context) (int64, error) { return 0, nil }

var _ storage.CheckpointRepository = (*stubCheckpointRepo)(nil)
var _ storage.MonthRepository = (*stubMonthRepo)(nil)

func failingOp(ctx context.Context) (int64, error) { return 0, errors.New("database is down") }

// =============================================================================
// Monitor Tests
// =============================================================================

func TestMonitorHealthy(t *testing.T) {
	breaker := pipeline.NewCircuitBreaker(5, time.Minute)
	m := NewMonitor("p", &stubPinger{}, breaker, &stubCheckpointRepo{}, &stubMonthRepo{}, time.Hour)

	report := m.CheckHealth(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
	if !report.DatabaseOK {
		t.Error("expected database ok")
	}
	if report.BreakerState != string(pipeline.BreakerClosed) {
		t.Errorf("expected closed breaker, got %q", report.BreakerState)
	}
}

func TestMonitorNilDatabaseAndBreaker(t *testing.T) {
	m := NewMonitor("p", nil, nil, &stubCheckpointRepo{}, &stubMonthRepo{}, time.Hour)

	report := m.CheckHealth(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("expected healthy without db and breaker, got %s", report.Status)
	}
	if !report.DatabaseOK {
		t.Error("a missing database must not count as unreachable")
	}
	if report.BreakerState != "" {
		t.Errorf("expected empty breaker state, got %q", report.BreakerState)
	}
}

func TestMonitorCriticalWhenDatabaseDown(t *testing.T) {
	pinger := &stubPinger{err: errors.New("connection refused")}
	m := NewMonitor("p", pinger, nil, &stubCheckpointRepo{}, &stubMonthRepo{}, time.Hour)

	report := m.CheckHealth(context.Background())
	if report.Status != StatusCritical {
		t.Errorf("expected critical, got %s", report.Status)
	}
	if report.DatabaseOK {
		t.Error("expected database flagged unreachable")
	}
}

func TestMonitorCriticalWhenBreakerOpen(t *testing.T) {
	breaker := pipeline.NewCircuitBreaker(1, time.Minute)
	_, _ = breaker.Call(context.Background(), failingOp)
	if breaker.State() != pipeline.BreakerOpen {
		t.Fatalf("breaker should be open, got %s", breaker.State())
	}

	m := NewMonitor("p", &stubPinger{}, breaker, &stubCheckpointRepo{}, &stubMonthRepo{}, time.Hour)
	report := m.CheckHealth(context.Background())
	if report.Status != StatusCritical {
		t.Errorf("expected critical with an open breaker, got %s", report.Status)
	}
}

func TestMonitorDegradedStates(t *testing.T) {
	tests := []struct {
		name   string
		cp     *stubCheckpointRepo
		months *stubMonthRepo
	}{
		{name: "stuck checkpoints", cp: &stubCheckpointRepo{stuck: 1}, months: &stubMonthRepo{}},
		{name: "failed checkpoints", cp: &stubCheckpointRepo{failed: 2}, months: &stubMonthRepo{}},
		{name: "failed months", cp: &stubCheckpointRepo{}, months: &stubMonthRepo{failedMonths: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor("p", &stubPinger{}, nil, tt.cp, tt.months, time.Hour)
			report := m.CheckHealth(context.Background())
			if report.Status != StatusDegraded {
				t.Errorf("expected degraded, got %s", report.Status)
			}
		})
	}
}

func TestMonitorDegradedDuringHalfOpenProbe(t *testing.T) {
	breaker := pipeline.NewCircuitBreaker(1, time.Millisecond)
	ctx := context.Background()
	_, _ = breaker.Call(ctx, failingOp)
	time.Sleep(10 * time.Millisecond)

	m := NewMonitor("p", &stubPinger{}, breaker, &stubCheckpointRepo{}, &stubMonthRepo{}, time.Hour)

	// The probe itself observes the half_open window
	var seen PipelineHealth
	_, err := breaker.Call(ctx, func(ctx context.Context) (int64, error) {
		seen = m.CheckHealth(ctx)
		return 1, nil
	})
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if seen.BreakerState != string(pipeline.BreakerHalfOpen) {
		t.Errorf("expected half_open during the probe, got %q", seen.BreakerState)
	}
	if seen.Status != StatusDegraded {
		t.Errorf("expected degraded during the probe, got %s", seen.Status)
	}
}

func TestMonitorCachesReports(t *testing.T) {
	pinger := &stubPinger{}
	m := NewMonitor("p", pinger, nil, &stubCheckpointRepo{}, &stubMonthRepo{}, time.Hour)
	ctx := context.Background()

	first := m.CheckHealth(ctx)
	if first.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", first.Status)
	}

	// The database failing within the rate limit window is not observed
	pinger.err = errors.New("connection reset")
	second := m.CheckHealth(ctx)
	if second.Status != StatusHealthy {
		t.Errorf("expected the cached healthy report, got %s", second.Status)
	}
}

// =============================================================================
// HTTP Endpoint Tests
// =============================================================================

func TestHealthEndpoint(t *testing.T) {
	m := NewMonitor("p", &stubPinger{}, nil, &stubCheckpointRepo{}, &stubMonthRepo{}, time.Hour)
	s := NewServer(m, 0)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 200 {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %q", body["status"])
	}
}

func TestHealthEndpointCritical(t *testing.T) {
	pinger := &stubPinger{err: errors.New("connection refused")}
	m := NewMonitor("p", pinger, nil, &stubCheckpointRepo{}, &stubMonthRepo{}, time.Hour)
	s := NewServer(m, 0)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 503 {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestDetailedEndpoint(t *testing.T) {
	cp := &stubCheckpointRepo{failed: 2}
	m := NewMonitor("sales_pipeline", &stubPinger{}, nil, cp, &stubMonthRepo{}, time.Hour)
	s := NewServer(m, 0)

	rec := httptest.NewRecorder()
	s.handleDetailed(rec, httptest.NewRequest("GET", "/health/detailed", nil))

	if rec.Code != 200 {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var report PipelineHealth
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Pipeline != "sales_pipeline" {
		t.Errorf("expected pipeline name in report, got %q", report.Pipeline)
	}
	if report.Status != StatusDegraded || report.FailedCheckpoints != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
}
