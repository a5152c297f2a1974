package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
)

// LogRepo implements storage.LogRepository using PostgreSQL.
type LogRepo struct {
	db *DB
}

// NewLogRepo creates a new PostgreSQL pipeline log repository.
func NewLogRepo(db *DB) *LogRepo {
	return &LogRepo{db: db}
}

// Insert appends one log record. A zero timestamp falls back to NOW() so
// replayed records keep their original times while live ones get the
// database clock.
func (r *LogRepo) Insert(ctx context.Context, rec *domain.LogRecord) error {
	query := `
		INSERT INTO ops.pipeline_logs
			(timestamp, level, message, logger, pipeline_name, run_id,
			 module, function, line, metadata)
		VALUES (COALESCE($1, NOW()), $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var ts *time.Time
	if !rec.Timestamp.IsZero() {
		ts = &rec.Timestamp
	}

	meta := []byte("{}")
	if rec.Metadata != nil {
		var err error
		meta, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode log metadata: %w", err)
		}
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		ts,
		string(rec.Level),
		rec.Message,
		rec.Logger,
		rec.PipelineName,
		rec.RunID,
		rec.Module,
		rec.Function,
		rec.Line,
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to insert log record: %w", err)
	}
	return nil
}

// InsertBatch appends multiple records in one transaction.
func (r *LogRepo) InsertBatch(ctx context.Context, recs []*domain.LogRecord) error {
	if len(recs) == 0 {
		return nil
	}

	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.SaveLogRecords(ctx, recs); err != nil {
		return err
	}
	return uow.Commit()
}

// GapStats returns count and time bounds of records for a run.
func (r *LogRepo) GapStats(ctx context.Context, runID string) (*storage.GapStats, error) {
	query := `
		SELECT COUNT(*) AS count, MIN(timestamp) AS first, MAX(timestamp) AS last
		FROM ops.pipeline_logs
		WHERE run_id = $1
	`

	var dest struct {
		Count int        `db:"count"`
		First *time.Time `db:"first"`
		Last  *time.Time `db:"last"`
	}

	if err := r.db.GetContext(ctx, &dest, query, runID); err != nil {
		return nil, fmt.Errorf("failed to get log gap stats: %w", err)
	}

	return &storage.GapStats{
		Count: dest.Count,
		First: dest.First,
		Last:  dest.Last,
	}, nil
}

// DeleteOlderThan removes records older than cutoff, returning the count.
func (r *LogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(
		ctx,
		`DELETE FROM ops.pipeline_logs WHERE timestamp < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune log records: %w", err)
	}
	return res.RowsAffected()
}
