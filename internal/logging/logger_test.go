package logging

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
)

// =============================================================================
// Mock Sinks
// =============================================================================

type mockSink struct {
	mu      sync.Mutex
	name    string
	fail    bool
	records []*domain.LogRecord
}

func (s *mockSink) Name() string { return s.name }

func (s *mockSink) Write(ctx context.Context, rec *domain.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New(s.name + " unavailable")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *mockSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// =============================================================================
// Tier Degradation Tests
// =============================================================================

func TestLoggerFirstSinkWins(t *testing.T) {
	primary := &mockSink{name: "database"}
	secondary := &mockSink{name: "fallback file"}
	logger := New("sales_pipeline", "run-1", primary, secondary)

	logger.Info(context.Background(), "stage started", map[string]any{"stage": "s1"})

	if primary.count() != 1 {
		t.Errorf("expected 1 record in primary sink, got %d", primary.count())
	}
	if secondary.count() != 0 {
		t.Errorf("healthy primary should stop the cascade, secondary got %d", secondary.count())
	}
}

func TestLoggerDegradesToNextTier(t *testing.T) {
	primary := &mockSink{name: "database", fail: true}
	secondary := &mockSink{name: "fallback file"}
	tertiary := &mockSink{name: "critical file"}
	logger := New("sales_pipeline", "run-1", primary, secondary, tertiary)

	logger.Error(context.Background(), "stage failed", nil)

	if secondary.count() != 1 {
		t.Errorf("expected the record in the second tier, got %d", secondary.count())
	}
	if tertiary.count() != 0 {
		t.Errorf("third tier should be untouched, got %d", tertiary.count())
	}
}

func TestLoggerAllSinksFailingNeverPanics(t *testing.T) {
	logger := New("sales_pipeline", "run-1",
		&mockSink{name: "database", fail: true},
		&mockSink{name: "fallback file", fail: true},
		&mockSink{name: "critical file", fail: true},
	)

	// Must not panic or return anything; the stderr backstop handles it
	logger.Warning(context.Background(), "all tiers down", nil)
}

func TestLoggerRecordFields(t *testing.T) {
	sink := &mockSink{name: "database"}
	logger := New("sales_pipeline", "run-7", sink)

	logger.Info(context.Background(), "hello", map[string]any{"k": "v"})

	if sink.count() != 1 {
		t.Fatalf("expected 1 record, got %d", sink.count())
	}
	rec := sink.records[0]
	if rec.PipelineName != "sales_pipeline" || rec.RunID != "run-7" {
		t.Errorf("identity fields wrong: %s / %s", rec.PipelineName, rec.RunID)
	}
	if rec.Level != domain.LogLevelInfo {
		t.Errorf("expected INFO, got %s", rec.Level)
	}
	if rec.Metadata["k"] != "v" {
		t.Errorf("metadata lost: %v", rec.Metadata)
	}
	if rec.Module == "" || rec.Function == "" || rec.Line == 0 {
		t.Errorf("caller info missing: %s %s %d", rec.Module, rec.Function, rec.Line)
	}
	if rec.Timestamp.IsZero() || rec.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", rec.Timestamp)
	}
}

// =============================================================================
// File Sink Tests
// =============================================================================

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.log")
	sink := NewFileSink(path)

	for i := 0; i < 2; i++ {
		err := sink.Write(context.Background(), &domain.LogRecord{
			Timestamp: time.Now().UTC(),
			Level:     domain.LogLevelInfo,
			Message:   "record",
			RunID:     "run-1",
		})
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var rec domain.LogRecord
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Errorf("line is not valid JSON: %v", err)
	}
	if rec.RunID != "run-1" {
		t.Errorf("round trip lost run ID: %s", rec.RunID)
	}
}

func TestCriticalSinkPlaintextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "critical.log")
	sink := NewCriticalSink(path)

	ts := time.Date(2011, 1, 5, 12, 0, 0, 0, time.UTC)
	err := sink.Write(context.Background(), &domain.LogRecord{
		Timestamp: ts,
		Level:     domain.LogLevelError,
		Message:   "database unreachable",
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	line := strings.TrimSpace(string(data))
	want := "2011-01-05T12:00:00Z - ERROR - database unreachable"
	if line != want {
		t.Errorf("critical line = %q, want %q", line, want)
	}
}

// =============================================================================
// Replay Tests
// =============================================================================

type mockLogRepo struct {
	mu       sync.Mutex
	inserted []*domain.LogRecord
	batchErr error
}

func (r *mockLogRepo) Insert(ctx context.Context, rec *domain.LogRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, rec)
	return nil
}

func (r *mockLogRepo) InsertBatch(ctx context.Context, recs []*domain.LogRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchErr != nil {
		return r.batchErr
	}
	r.inserted = append(r.inserted, recs...)
	return nil
}

func (r *mockLogRepo) GapStats(ctx context.Context, runID string) (*storage.GapStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &storage.GapStats{}
	for _, rec := range r.inserted {
		if rec.RunID != runID {
			continue
		}
		stats.Count++
		ts := rec.Timestamp
		if stats.First == nil || ts.Before(*stats.First) {
			stats.First = &ts
		}
		if stats.Last == nil || ts.After(*stats.Last) {
			stats.Last = &ts
		}
	}
	return stats, nil
}

func (r *mockLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func TestReplayRestoresParseableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.log")
	content := strings.Join([]string{
		`{"run_id":"run-1","level":"INFO","message":"one"}`,
		`{"run_id":"run-1","level":"ERROR","message":"two"}`,
		`{"torn line`,
		``,
		`not json at all`,
		`{"run_id":"run-1","level":"INFO","message":"three"}`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := &mockLogRepo{}
	recovered, skipped, err := NewRecoverer(repo).Replay(context.Background(), path)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if recovered != 3 {
		t.Errorf("expected 3 recovered, got %d", recovered)
	}
	// Blank lines are ignored, not counted as skipped
	if skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", skipped)
	}
	if len(repo.inserted) != 3 {
		t.Errorf("expected 3 rows inserted, got %d", len(repo.inserted))
	}
}

func TestReplayMissingFile(t *testing.T) {
	repo := &mockLogRepo{}
	_, _, err := NewRecoverer(repo).Replay(context.Background(), filepath.Join(t.TempDir(), "absent.log"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReplayBatchFailureReportsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.log")
	_ = os.WriteFile(path, []byte(`{"run_id":"run-1","message":"one"}`+"\n"), 0o644)

	repo := &mockLogRepo{batchErr: errors.New("still down")}
	recovered, _, err := NewRecoverer(repo).Replay(context.Background(), path)
	if err == nil {
		t.Fatal("expected the batch failure to surface")
	}
	if recovered != 0 {
		t.Errorf("nothing was restored, recovered should be 0, got %d", recovered)
	}
}

func TestCheckGaps(t *testing.T) {
	repo := &mockLogRepo{}
	first := time.Date(2011, 1, 5, 10, 0, 0, 0, time.UTC)
	last := first.Add(time.Hour)
	repo.inserted = []*domain.LogRecord{
		{RunID: "run-1", Timestamp: first},
		{RunID: "run-1", Timestamp: last},
		{RunID: "other", Timestamp: first},
	}

	stats, err := NewRecoverer(repo).CheckGaps(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("CheckGaps failed: %v", err)
	}
	if stats.Count != 2 {
		t.Errorf("expected 2 records for run-1, got %d", stats.Count)
	}
	if stats.First == nil || !stats.First.Equal(first) {
		t.Errorf("wrong first bound: %v", stats.First)
	}
	if stats.Last == nil || !stats.Last.Equal(last) {
		t.Errorf("wrong last bound: %v", stats.Last)
	}
}
