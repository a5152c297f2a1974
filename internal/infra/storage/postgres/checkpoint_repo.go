package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/pipeline/metrics"
)

// CheckpointRepo implements storage.CheckpointRepository using PostgreSQL.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new PostgreSQL checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// Get retrieves a checkpoint by its unit-of-work tuple.
func (r *CheckpointRepo) Get(
	ctx context.Context,
	pipeline, runID, stage, key string,
) (*domain.Checkpoint, error) {
	query := `
		SELECT id, pipeline_name, run_id, stage, checkpoint_key, checkpoint_value,
		       status, start_time, end_time, duration_ms, metadata, updated_at
		FROM ops.pipeline_checkpoint
		WHERE pipeline_name = $1 AND run_id = $2 AND stage = $3 AND checkpoint_key = $4
	`

	var dest struct {
		ID         int64      `db:"id"`
		Pipeline   string     `db:"pipeline_name"`
		RunID      string     `db:"run_id"`
		Stage      string     `db:"stage"`
		Key        string     `db:"checkpoint_key"`
		Value      *string    `db:"checkpoint_value"`
		Status     string     `db:"status"`
		StartTime  *time.Time `db:"start_time"`
		EndTime    *time.Time `db:"end_time"`
		DurationMs *int64     `db:"duration_ms"`
		Metadata   []byte     `db:"metadata"`
		UpdatedAt  time.Time  `db:"updated_at"`
	}

	err := r.db.GetContext(ctx, &dest, query, pipeline, runID, stage, key)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	cp := &domain.Checkpoint{
		ID:           dest.ID,
		PipelineName: dest.Pipeline,
		RunID:        dest.RunID,
		Stage:        dest.Stage,
		Key:          dest.Key,
		Status:       domain.CheckpointStatus(dest.Status),
		StartTime:    dest.StartTime,
		EndTime:      dest.EndTime,
		UpdatedAt:    dest.UpdatedAt,
	}
	if dest.Value != nil {
		cp.Value = *dest.Value
	}
	if dest.DurationMs != nil {
		cp.DurationMs = *dest.DurationMs
	}
	if len(dest.Metadata) > 0 {
		if err := json.Unmarshal(dest.Metadata, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint metadata: %w", err)
		}
	}
	return cp, nil
}

// Upsert inserts or updates a checkpoint in one atomic statement.
// The existing row's start_time survives the update and duration_ms is
// derived from it.
func (r *CheckpointRepo) Upsert(ctx context.Context, cp *domain.Checkpoint) error {
	query := `
		INSERT INTO ops.pipeline_checkpoint
			(pipeline_name, run_id, stage, checkpoint_key, checkpoint_value,
			 status, start_time, end_time, duration_ms, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 0, $7, NOW())
		ON CONFLICT (pipeline_name, run_id, stage, checkpoint_key)
		DO UPDATE SET
			checkpoint_value = EXCLUDED.checkpoint_value,
			status = EXCLUDED.status,
			end_time = NOW(),
			duration_ms = CAST(EXTRACT(EPOCH FROM (NOW() - COALESCE(pipeline_checkpoint.start_time, NOW()))) * 1000 AS BIGINT),
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`

	status := string(cp.Status)
	if status == "" {
		status = string(domain.CheckpointStatusPending)
	}

	meta := []byte("{}")
	if cp.Metadata != nil {
		var err error
		meta, err = json.Marshal(cp.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint metadata: %w", err)
		}
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		cp.PipelineName,
		cp.RunID,
		cp.Stage,
		cp.Key,
		cp.Value,
		status,
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint: %w", err)
	}
	metrics.CheckpointWrites.WithLabelValues(status).Inc()
	return nil
}

// Start inserts an in_progress checkpoint. If the row already exists the
// insert is a no-op, so the first writer's start_time wins.
func (r *CheckpointRepo) Start(
	ctx context.Context,
	pipeline, runID, stage, key string,
	startTime time.Time,
) error {
	query := `
		INSERT INTO ops.pipeline_checkpoint
			(pipeline_name, run_id, stage, checkpoint_key, status, start_time, updated_at)
		VALUES ($1, $2, $3, $4, 'in_progress', $5, NOW())
		ON CONFLICT (pipeline_name, run_id, stage, checkpoint_key) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, pipeline, runID, stage, key, startTime)
	if err != nil {
		return fmt.Errorf("failed to start checkpoint: %w", err)
	}
	return nil
}

// ListByRun retrieves all checkpoints of a run in insertion order.
func (r *CheckpointRepo) ListByRun(
	ctx context.Context,
	pipeline, runID string,
) ([]*domain.Checkpoint, error) {
	query := `
		SELECT id, pipeline_name, run_id, stage, checkpoint_key, checkpoint_value,
		       status, start_time, end_time, duration_ms, metadata, updated_at
		FROM ops.pipeline_checkpoint
		WHERE pipeline_name = $1 AND run_id = $2
		ORDER BY id ASC
	`

	var rows []struct {
		ID         int64      `db:"id"`
		Pipeline   string     `db:"pipeline_name"`
		RunID      string     `db:"run_id"`
		Stage      string     `db:"stage"`
		Key        string     `db:"checkpoint_key"`
		Value      *string    `db:"checkpoint_value"`
		Status     string     `db:"status"`
		StartTime  *time.Time `db:"start_time"`
		EndTime    *time.Time `db:"end_time"`
		DurationMs *int64     `db:"duration_ms"`
		Metadata   []byte     `db:"metadata"`
		UpdatedAt  time.Time  `db:"updated_at"`
	}

	err := r.db.SelectContext(ctx, &rows, query, pipeline, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var cps []*domain.Checkpoint
	for _, row := range rows {
		cp := &domain.Checkpoint{
			ID:           row.ID,
			PipelineName: row.Pipeline,
			RunID:        row.RunID,
			Stage:        row.Stage,
			Key:          row.Key,
			Status:       domain.CheckpointStatus(row.Status),
			StartTime:    row.StartTime,
			EndTime:      row.EndTime,
			UpdatedAt:    row.UpdatedAt,
		}
		if row.Value != nil {
			cp.Value = *row.Value
		}
		if row.DurationMs != nil {
			cp.DurationMs = *row.DurationMs
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &cp.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode checkpoint metadata: %w", err)
			}
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// CountStuck counts in_progress checkpoints started before cutoff.
func (r *CheckpointRepo) CountStuck(
	ctx context.Context,
	pipeline string,
	cutoff time.Time,
) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ops.pipeline_checkpoint
		WHERE pipeline_name = $1 AND status = 'in_progress' AND start_time < $2
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, pipeline, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to count stuck checkpoints: %w", err)
	}
	return count, nil
}

// CountFailed counts failed checkpoints for a pipeline.
func (r *CheckpointRepo) CountFailed(ctx context.Context, pipeline string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ops.pipeline_checkpoint
		WHERE pipeline_name = $1 AND status = 'failed'
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed checkpoints: %w", err)
	}
	return count, nil
}
