package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
)

// =============================================================================
// Mock Repository
// =============================================================================

type unitKey struct {
	pipeline, runID, stage, key string
}

type mockCheckpointRepo struct {
	mu          sync.RWMutex
	checkpoints map[unitKey]*domain.Checkpoint
	upserts     int
}

func newMockCheckpointRepo() *mockCheckpointRepo {
	return &mockCheckpointRepo{
		checkpoints: make(map[unitKey]*domain.Checkpoint),
	}
}

func (r *mockCheckpointRepo) Get(ctx context.Context, pipeline, runID, stage, key string) (*domain.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp, ok := r.checkpoints[unitKey{pipeline, runID, stage, key}]
	if !ok {
		return nil, nil
	}
	// Return a copy
	c := *cp
	return &c, nil
}

func (r *mockCheckpointRepo) Upsert(ctx context.Context, cp *domain.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++

	k := unitKey{cp.PipelineName, cp.RunID, cp.Stage, cp.Key}
	c := *cp
	c.UpdatedAt = time.Now()
	if existing, ok := r.checkpoints[k]; ok {
		// Existing start time wins, like the SQL upsert
		c.StartTime = existing.StartTime
	}
	r.checkpoints[k] = &c
	return nil
}

func (r *mockCheckpointRepo) Start(ctx context.Context, pipeline, runID, stage, key string, startTime time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := unitKey{pipeline, runID, stage, key}
	if _, ok := r.checkpoints[k]; ok {
		// ON CONFLICT DO NOTHING
		return nil
	}
	r.checkpoints[k] = &domain.Checkpoint{
		PipelineName: pipeline,
		RunID:        runID,
		Stage:        stage,
		Key:          key,
		Status:       domain.CheckpointStatusInProgress,
		StartTime:    &startTime,
	}
	return nil
}

func (r *mockCheckpointRepo) ListByRun(ctx context.Context, pipeline, runID string) ([]*domain.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Checkpoint
	for k, cp := range r.checkpoints {
		if k.pipeline == pipeline && k.runID == runID {
			c := *cp
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *mockCheckpointRepo) CountStuck(ctx context.Context, pipeline string, cutoff time.Time) (int, error) {
	return 0, nil
}

func (r *mockCheckpointRepo) CountFailed(ctx context.Context, pipeline string) (int, error) {
	return 0, nil
}

// =============================================================================
// State Transition Tests
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     Status
		to       Status
		expected bool
	}{
		{"pending to in_progress", StatusPending, StatusInProgress, true},
		{"pending to completed", StatusPending, StatusCompleted, true},
		{"in_progress to completed", StatusInProgress, StatusCompleted, true},
		{"in_progress to failed", StatusInProgress, StatusFailed, true},
		{"in_progress to pending", StatusInProgress, StatusPending, false},
		{"failed to in_progress", StatusFailed, StatusInProgress, true},
		{"failed to completed", StatusFailed, StatusCompleted, true},
		{"completed to in_progress", StatusCompleted, StatusInProgress, false},
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"unknown status", Status("bogus"), StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTransitionIsValid(t *testing.T) {
	valid := NewTransition(StatusInProgress, StatusCompleted, "stage finished")
	if !valid.IsValid() {
		t.Error("expected transition in_progress->completed to be valid")
	}

	invalid := NewTransition(StatusCompleted, StatusFailed, "unexpected")
	if invalid.IsValid() {
		t.Error("expected transition completed->failed to be invalid")
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManagerSetAndGet(t *testing.T) {
	repo := newMockCheckpointRepo()
	manager := NewManager(repo, "sales_pipeline", "run-1")
	ctx := context.Background()

	err := manager.Set(ctx, "product_performance", "full", "1532",
		StatusCompleted, map[string]any{"rows_updated": 1532})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	cp, err := manager.Get(ctx, "product_performance", "full")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cp == nil {
		t.Fatal("expected checkpoint, got nil")
	}
	if cp.Value != "1532" {
		t.Errorf("expected value 1532, got %s", cp.Value)
	}
	if cp.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", cp.Status)
	}
}

func TestManagerGetMissing(t *testing.T) {
	repo := newMockCheckpointRepo()
	manager := NewManager(repo, "sales_pipeline", "run-1")

	cp, err := manager.Get(context.Background(), "no_such_stage", "full")
	if err != nil {
		t.Fatalf("Get of missing checkpoint should not error: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil for missing checkpoint, got %+v", cp)
	}
}

func TestManagerSetIdempotent(t *testing.T) {
	repo := newMockCheckpointRepo()
	manager := NewManager(repo, "sales_pipeline", "run-1")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := manager.Set(ctx, "country_sales", "full", "840", StatusCompleted, nil)
		if err != nil {
			t.Fatalf("Set %d failed: %v", i+1, err)
		}
	}

	if len(repo.checkpoints) != 1 {
		t.Errorf("expected exactly 1 row after repeated Set, got %d", len(repo.checkpoints))
	}
	if repo.upserts != 2 {
		t.Errorf("expected 2 upserts, got %d", repo.upserts)
	}
}

func TestManagerSetRejectsInvalidTransition(t *testing.T) {
	repo := newMockCheckpointRepo()
	manager := NewManager(repo, "sales_pipeline", "run-1")
	ctx := context.Background()

	if err := manager.Set(ctx, "stage", "full", "10", StatusCompleted, nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	err := manager.Set(ctx, "stage", "full", "", StatusFailed, nil)
	if err == nil {
		t.Fatal("expected error moving completed->failed, got nil")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	// Row unchanged by the rejected write
	cp, _ := manager.Get(ctx, "stage", "full")
	if cp.Status != StatusCompleted {
		t.Errorf("rejected transition modified the row: %s", cp.Status)
	}
}

func TestManagerStartStagePreservesStart(t *testing.T) {
	repo := newMockCheckpointRepo()
	manager := NewManager(repo, "sales_pipeline", "run-1")
	ctx := context.Background()

	if err := manager.StartStage(ctx, "stage", "full"); err != nil {
		t.Fatalf("StartStage failed: %v", err)
	}
	first, _ := manager.Get(ctx, "stage", "full")
	if first.StartTime == nil {
		t.Fatal("expected start time to be recorded")
	}

	time.Sleep(5 * time.Millisecond)
	if err := manager.StartStage(ctx, "stage", "full"); err != nil {
		t.Fatalf("second StartStage failed: %v", err)
	}

	second, _ := manager.Get(ctx, "stage", "full")
	if !second.StartTime.Equal(*first.StartTime) {
		t.Errorf("repeated start moved start time: %v -> %v", first.StartTime, second.StartTime)
	}
}

func TestManagerFailedStageCanBeRerun(t *testing.T) {
	repo := newMockCheckpointRepo()
	manager := NewManager(repo, "sales_pipeline", "run-1")
	ctx := context.Background()

	_ = manager.StartStage(ctx, "stage", "full")
	if err := manager.Set(ctx, "stage", "full", "", StatusFailed, map[string]any{"error": "connection refused"}); err != nil {
		t.Fatalf("failed Set: %v", err)
	}

	// Re-run: start is a no-op on the existing row, so the terminal write
	// moves failed directly to completed
	_ = manager.StartStage(ctx, "stage", "full")
	if err := manager.Set(ctx, "stage", "full", "99", StatusCompleted, nil); err != nil {
		t.Fatalf("re-run Set failed: %v", err)
	}

	cp, _ := manager.Get(ctx, "stage", "full")
	if cp.Status != StatusCompleted {
		t.Errorf("expected completed after re-run, got %s", cp.Status)
	}
}

func TestManagerStatusChangeCallback(t *testing.T) {
	repo := newMockCheckpointRepo()
	manager := NewManager(repo, "sales_pipeline", "run-1")
	ctx := context.Background()

	var gotStage string
	var gotTransition Transition
	manager.SetStatusChangeCallback(func(stage string, tr Transition) {
		gotStage = stage
		gotTransition = tr
	})

	_ = manager.StartStage(ctx, "stage", "full")
	if err := manager.Set(ctx, "stage", "full", "12", StatusCompleted, nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if gotStage != "stage" {
		t.Errorf("callback stage = %q, want %q", gotStage, "stage")
	}
	if gotTransition.From != StatusInProgress || gotTransition.To != StatusCompleted {
		t.Errorf("callback transition = %s->%s, want in_progress->completed",
			gotTransition.From, gotTransition.To)
	}

	// Idempotent repeat of the same status fires no callback
	gotStage = ""
	if err := manager.Set(ctx, "stage", "full", "12", StatusCompleted, nil); err != nil {
		t.Fatalf("repeat Set failed: %v", err)
	}
	if gotStage != "" {
		t.Error("callback fired for a status repeat")
	}
}
