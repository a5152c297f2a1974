package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/pipeline/metrics"
)

// UnitOfWork bundles persistence operations into a single database
// transaction, ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	db *DB
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &UnitOfWork{
		db: db,
		tx: tx,
	}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// SaveLogRecords appends multiple log records in the transaction using a
// multi-row INSERT. Replay uses this so a half-restored fallback file never
// leaves duplicate rows behind.
func (u *UnitOfWork) SaveLogRecords(ctx context.Context, recs []*domain.LogRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}

	timestamps := make([]time.Time, len(recs))
	levels := make([]string, len(recs))
	messages := make([]string, len(recs))
	loggers := make([]string, len(recs))
	pipelines := make([]string, len(recs))
	runIDs := make([]string, len(recs))
	modules := make([]string, len(recs))
	functions := make([]string, len(recs))
	lines := make([]int32, len(recs))
	metadatas := make([]string, len(recs))

	for i, rec := range recs {
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		meta := "{}"
		if rec.Metadata != nil {
			b, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode log metadata: %w", err)
			}
			meta = string(b)
		}

		timestamps[i] = ts
		levels[i] = string(rec.Level)
		messages[i] = rec.Message
		loggers[i] = rec.Logger
		pipelines[i] = rec.PipelineName
		runIDs[i] = rec.RunID
		modules[i] = rec.Module
		functions[i] = rec.Function
		lines[i] = int32(rec.Line)
		metadatas[i] = meta
	}

	// Record batch size metric
	metrics.DBBatchSize.WithLabelValues("save_logs").Observe(float64(len(recs)))

	query := `
		INSERT INTO ops.pipeline_logs
			(timestamp, level, message, logger, pipeline_name, run_id,
			 module, function, line, metadata)
		SELECT * FROM UNNEST(
			$1::timestamp[], $2::text[], $3::text[], $4::text[], $5::text[],
			$6::text[], $7::text[], $8::text[], $9::int[], $10::jsonb[]
		)
	`
	_, err := u.tx.ExecContext(
		ctx,
		query,
		timestamps,
		levels,
		messages,
		loggers,
		pipelines,
		runIDs,
		modules,
		functions,
		lines,
		metadatas,
	)
	if err != nil {
		return fmt.Errorf("failed to batch insert log records: %w", err)
	}
	return nil
}
