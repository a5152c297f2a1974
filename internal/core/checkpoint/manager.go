package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
)

// Manager handles checkpoint operations with status machine enforcement.
// A Manager is bound to one (pipeline, run) pair; stages within the run
// address their checkpoints by (stage, key).
type Manager interface {
	// Get retrieves a checkpoint for a stage and key.
	// A missing checkpoint is not an error: it returns (nil, nil).
	Get(ctx context.Context, stage, key string) (*domain.Checkpoint, error)

	// Set records a checkpoint value and status, inserting or updating
	// exactly one row. An existing row keeps its original start time.
	Set(
		ctx context.Context,
		stage, key, value string,
		status Status,
		metadata map[string]any,
	) error

	// StartStage marks a stage as started with an in_progress checkpoint.
	// If the checkpoint already exists, the original start time wins.
	StartStage(ctx context.Context, stage, key string) error

	// History retrieves all checkpoints of this run in insertion order.
	History(ctx context.Context) ([]*domain.Checkpoint, error)

	// Pipeline returns the pipeline name this manager is bound to.
	Pipeline() string

	// RunID returns the run identifier this manager is bound to.
	RunID() string

	// SetStatusChangeCallback registers a callback for status changes.
	SetStatusChangeCallback(fn func(stage string, t Transition))
}

// DefaultManager implements Manager with status machine enforcement.
type DefaultManager struct {
	repo           storage.CheckpointRepository
	pipeline       string
	runID          string
	mu             sync.RWMutex
	statusCallback func(string, Transition)
}

// Get retrieves a checkpoint for a stage and key.
func (m *DefaultManager) Get(ctx context.Context, stage, key string) (*domain.Checkpoint, error) {
	return m.repo.Get(ctx, m.pipeline, m.runID, stage, key)
}

// Set records a checkpoint value and status.
//
// The write is a single atomic upsert so concurrent runs never produce a
// second row for the same unit of work. Re-applying the same status is
// treated as an idempotent repeat; a status change is validated against
// the transition table first.
func (m *DefaultManager) Set(
	ctx context.Context,
	stage, key, value string,
	status Status,
	metadata map[string]any,
) error {
	existing, err := m.repo.Get(ctx, m.pipeline, m.runID, stage, key)
	if err != nil {
		return fmt.Errorf("failed to get checkpoint: %w", err)
	}

	var transition *Transition
	if existing != nil && existing.Status != status {
		if !CanTransition(existing.Status, status) {
			return fmt.Errorf(
				"%w: checkpoint %s/%s cannot go from %s to %s",
				ErrInvalidTransition,
				stage,
				key,
				existing.Status,
				status,
			)
		}
		t := NewTransition(existing.Status, status, value)
		transition = &t
	}

	cp := &domain.Checkpoint{
		PipelineName: m.pipeline,
		RunID:        m.runID,
		Stage:        stage,
		Key:          key,
		Value:        value,
		Status:       status,
		Metadata:     metadata,
	}
	if err := m.repo.Upsert(ctx, cp); err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}

	if transition != nil {
		m.mu.RLock()
		callback := m.statusCallback
		m.mu.RUnlock()
		if callback != nil {
			callback(stage, *transition)
		}
	}

	return nil
}

// StartStage marks a stage as started.
//
// The insert is ON CONFLICT DO NOTHING underneath, so a repeated start
// (crash-and-rerun, concurrent worker) never moves the recorded start time.
func (m *DefaultManager) StartStage(ctx context.Context, stage, key string) error {
	err := m.repo.Start(ctx, m.pipeline, m.runID, stage, key, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to start stage %s: %w", stage, err)
	}
	return nil
}

// History retrieves all checkpoints of this run in insertion order.
func (m *DefaultManager) History(ctx context.Context) ([]*domain.Checkpoint, error) {
	return m.repo.ListByRun(ctx, m.pipeline, m.runID)
}

// Pipeline returns the pipeline name this manager is bound to.
func (m *DefaultManager) Pipeline() string {
	return m.pipeline
}

// RunID returns the run identifier this manager is bound to.
func (m *DefaultManager) RunID() string {
	return m.runID
}

// SetStatusChangeCallback registers a callback for status changes.
func (m *DefaultManager) SetStatusChangeCallback(fn func(stage string, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCallback = fn
}
