// Package checkpoint tracks units of work inside a pipeline run.
//
// # Purpose
//
// A checkpoint is a "receipt" for one (stage, key) unit of work in a run:
//   - Value: what the stage produced (row count, watermark, artifact id)
//   - Status: where the unit is in its lifecycle (in_progress, completed, failed)
//   - Start/end time: when it ran, with the duration derived in storage
//
// Re-running a pipeline consults its checkpoints instead of redoing work, so
// a crash halfway through a run costs only the stage that was interrupted.
//
// # Key Features
//
// Status Machine - Only allows valid transitions:
//
//	in_progress → completed (valid)
//	completed → failed (invalid - a finished unit never regresses)
//	failed → in_progress (valid - a failed unit can be re-run)
//
// Atomic Upserts - Set is one INSERT ... ON CONFLICT DO UPDATE, so two
// workers writing the same unit still leave exactly one row.
//
// Start Preservation - StartStage is ON CONFLICT DO NOTHING: the first
// writer's start time survives any repeat, keeping durations honest.
//
// # Quick Start
//
//	manager := checkpoint.NewManager(repo, "gold_monthly", runID)
//
//	// Mark a stage started
//	manager.StartStage(ctx, "product_performance", "full")
//
//	// Record the terminal result
//	manager.Set(ctx, "product_performance", "full", "1532",
//	    checkpoint.StatusCompleted, map[string]any{"rows_updated": 1532})
//
//	// Inspect a unit (missing is (nil, nil), not an error)
//	cp, _ := manager.Get(ctx, "product_performance", "full")
//
//	// Track status changes
//	manager.SetStatusChangeCallback(func(stage string, t checkpoint.Transition) {
//	    log.Printf("checkpoint %s: %s -> %s", stage, t.From, t.To)
//	})
//
// # Package Structure
//
//   - state.go   - Status machine definitions and valid transitions
//   - manager.go - Core Manager implementation with upsert semantics
package checkpoint

import (
	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
)

// =============================================================================
// Re-exported types from domain package
// =============================================================================

// Checkpoint represents one recorded unit of work.
type Checkpoint = domain.Checkpoint

// Status constants re-exported for convenience.
const (
	StatusPending    = domain.CheckpointStatusPending
	StatusInProgress = domain.CheckpointStatusInProgress
	StatusCompleted  = domain.CheckpointStatusCompleted
	StatusFailed     = domain.CheckpointStatusFailed
)

// =============================================================================
// Constructor functions
// =============================================================================

// NewManager creates a checkpoint manager bound to one pipeline run.
func NewManager(repo storage.CheckpointRepository, pipeline, runID string) *DefaultManager {
	return &DefaultManager{
		repo:     repo,
		pipeline: pipeline,
		runID:    runID,
	}
}
