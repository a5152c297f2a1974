package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/stager/internal/infra/storage"
)

// Shared predicate for damaged month rows: non-object metadata, a status
// outside the known set, or missing year/month.
const corruptedWhere = `
	jsonb_typeof(metadata) IS DISTINCT FROM 'object'
	OR status NOT IN ('in_progress', 'completed', 'failed')
	OR year IS NULL OR month IS NULL
`

// RecoveryRepo implements storage.RecoveryRepository using PostgreSQL.
type RecoveryRepo struct {
	db *DB
}

// NewRecoveryRepo creates a new PostgreSQL month ledger recovery repository.
func NewRecoveryRepo(db *DB) *RecoveryRepo {
	return &RecoveryRepo{db: db}
}

// FindCorrupted returns rows failing validation with a reason each.
func (r *RecoveryRepo) FindCorrupted(ctx context.Context) ([]storage.CorruptedRow, error) {
	query := `
		SELECT month_key,
		       CASE
		           WHEN year IS NULL OR month IS NULL THEN 'missing year or month'
		           WHEN status NOT IN ('in_progress', 'completed', 'failed')
		               THEN 'invalid status: ' || status
		           ELSE 'invalid metadata'
		       END AS reason
		FROM ops.processed_months
		WHERE ` + corruptedWhere + `
		ORDER BY month_key ASC
	`

	var rows []struct {
		MonthKey string `db:"month_key"`
		Reason   string `db:"reason"`
	}

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to find corrupted months: %w", err)
	}

	var corrupted []storage.CorruptedRow
	for _, row := range rows {
		corrupted = append(corrupted, storage.CorruptedRow{
			MonthKey: row.MonthKey,
			Reason:   row.Reason,
		})
	}
	return corrupted, nil
}

// BackupMonths copies the month ledger into ops.processed_months_backup,
// creating the table if absent, and returns the rows copied.
func (r *RecoveryRepo) BackupMonths(ctx context.Context) (int64, error) {
	createQuery := `
		CREATE TABLE IF NOT EXISTS ops.processed_months_backup AS
		SELECT * FROM ops.processed_months WHERE 1=0
	`
	if _, err := r.db.ExecContext(ctx, createQuery); err != nil {
		return 0, fmt.Errorf("failed to create backup table: %w", err)
	}

	res, err := r.db.ExecContext(
		ctx,
		`INSERT INTO ops.processed_months_backup SELECT * FROM ops.processed_months`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to back up months: %w", err)
	}
	return res.RowsAffected()
}

// DeleteCorrupted removes all corrupted rows, returning the count.
func (r *RecoveryRepo) DeleteCorrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(
		ctx,
		`DELETE FROM ops.processed_months WHERE `+corruptedWhere,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete corrupted months: %w", err)
	}
	return res.RowsAffected()
}
