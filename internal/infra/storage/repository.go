package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
)

var (
	// ErrCheckpointNotFound is returned when a checkpoint doesn't exist
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// CheckpointRepository handles the pipeline checkpoint ledger
type CheckpointRepository interface {
	// Get retrieves a checkpoint by its unit-of-work tuple
	Get(ctx context.Context, pipeline, runID, stage, key string) (*domain.Checkpoint, error)

	// Upsert inserts or updates a checkpoint in one atomic statement;
	// on update the existing start_time is preserved
	Upsert(ctx context.Context, cp *domain.Checkpoint) error

	// Start inserts an in_progress checkpoint; an existing row wins
	Start(ctx context.Context, pipeline, runID, stage, key string, startTime time.Time) error

	// ListByRun retrieves all checkpoints of a run in insertion order
	ListByRun(ctx context.Context, pipeline, runID string) ([]*domain.Checkpoint, error)

	// CountStuck counts in_progress checkpoints started before cutoff
	CountStuck(ctx context.Context, pipeline string, cutoff time.Time) (int, error)

	// CountFailed counts failed checkpoints for a pipeline
	CountFailed(ctx context.Context, pipeline string) (int, error)
}

// MonthRepository handles the processed months ledger
type MonthRepository interface {
	// ListProcessed retrieves all rows ordered by month key
	ListProcessed(ctx context.Context) ([]*domain.ProcessedMonth, error)

	// Upsert inserts or updates a month keyed by month_key
	Upsert(ctx context.Context, pm *domain.ProcessedMonth) error

	// ListByStatus retrieves months with the given status, ordered by month key
	ListByStatus(ctx context.Context, status domain.MonthStatus) ([]*domain.ProcessedMonth, error)

	// CountByStatus returns the number of months with the given status
	CountByStatus(ctx context.Context, status domain.MonthStatus) (int, error)

	// DeleteAll removes every row and returns the count removed
	DeleteAll(ctx context.Context) (int64, error)
}

// LogRepository handles the append-only pipeline log table
type LogRepository interface {
	// Insert appends one log record
	Insert(ctx context.Context, rec *domain.LogRecord) error

	// InsertBatch appends multiple records atomically
	InsertBatch(ctx context.Context, recs []*domain.LogRecord) error

	// GapStats returns count and time bounds of records for a run
	GapStats(ctx context.Context, runID string) (*GapStats, error)

	// DeleteOlderThan removes records older than cutoff, returning the count
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// GapStats describes log coverage for one run
type GapStats struct {
	Count int
	First *time.Time
	Last  *time.Time
}

// RecoveryRepository handles backup and repair of the month ledger
type RecoveryRepository interface {
	// FindCorrupted returns rows with unparseable metadata, an unknown
	// status, or missing year/month
	FindCorrupted(ctx context.Context) ([]CorruptedRow, error)

	// BackupMonths copies the month ledger into the backup table,
	// creating it if absent, and returns the rows copied
	BackupMonths(ctx context.Context) (int64, error)

	// DeleteCorrupted removes all corrupted rows, returning the count
	DeleteCorrupted(ctx context.Context) (int64, error)
}

// CorruptedRow identifies one damaged month row
type CorruptedRow struct {
	MonthKey string
	Reason   string
}
