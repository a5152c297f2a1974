package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
)

// MonthRepo implements storage.MonthRepository using PostgreSQL.
type MonthRepo struct {
	db *DB
}

// NewMonthRepo creates a new PostgreSQL processed months repository.
func NewMonthRepo(db *DB) *MonthRepo {
	return &MonthRepo{db: db}
}

type monthRow struct {
	ID          int64     `db:"id"`
	MonthKey    string    `db:"month_key"`
	Year        int       `db:"year"`
	Month       int       `db:"month"`
	Status      string    `db:"status"`
	ProcessedAt time.Time `db:"processed_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	Metadata    []byte    `db:"metadata"`
}

func (row monthRow) toDomain() (*domain.ProcessedMonth, error) {
	pm := &domain.ProcessedMonth{
		ID:          row.ID,
		MonthKey:    row.MonthKey,
		Year:        row.Year,
		Month:       row.Month,
		Status:      domain.MonthStatus(row.Status),
		ProcessedAt: row.ProcessedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &pm.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode month metadata: %w", err)
		}
	}
	return pm, nil
}

// ListProcessed retrieves all rows ordered by month key.
func (r *MonthRepo) ListProcessed(ctx context.Context) ([]*domain.ProcessedMonth, error) {
	query := `
		SELECT id, month_key, year, month, status, processed_at, updated_at, metadata
		FROM ops.processed_months
		ORDER BY month_key ASC
	`

	var rows []monthRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list processed months: %w", err)
	}

	var months []*domain.ProcessedMonth
	for _, row := range rows {
		pm, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		months = append(months, pm)
	}
	return months, nil
}

// Upsert inserts or updates a month keyed by month_key.
func (r *MonthRepo) Upsert(ctx context.Context, pm *domain.ProcessedMonth) error {
	query := `
		INSERT INTO ops.processed_months
			(month_key, year, month, status, metadata, processed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (month_key)
		DO UPDATE SET
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			processed_at = NOW(),
			updated_at = NOW()
	`

	monthKey := pm.MonthKey
	if monthKey == "" {
		monthKey = domain.Month{Year: pm.Year, Month: pm.Month}.Key()
	}

	status := string(pm.Status)
	if status == "" {
		status = string(domain.MonthStatusInProgress)
	}

	meta := []byte("{}")
	if pm.Metadata != nil {
		var err error
		meta, err = json.Marshal(pm.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode month metadata: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, query, monthKey, pm.Year, pm.Month, status, string(meta))
	if err != nil {
		return fmt.Errorf("failed to upsert month %s: %w", monthKey, err)
	}
	return nil
}

// ListByStatus retrieves months with the given status, ordered by month key.
func (r *MonthRepo) ListByStatus(
	ctx context.Context,
	status domain.MonthStatus,
) ([]*domain.ProcessedMonth, error) {
	query := `
		SELECT id, month_key, year, month, status, processed_at, updated_at, metadata
		FROM ops.processed_months
		WHERE status = $1
		ORDER BY month_key ASC
	`

	var rows []monthRow
	if err := r.db.SelectContext(ctx, &rows, query, string(status)); err != nil {
		return nil, fmt.Errorf("failed to list months by status: %w", err)
	}

	var months []*domain.ProcessedMonth
	for _, row := range rows {
		pm, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		months = append(months, pm)
	}
	return months, nil
}

// CountByStatus returns the number of months with the given status.
func (r *MonthRepo) CountByStatus(ctx context.Context, status domain.MonthStatus) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ops.processed_months
		WHERE status = $1
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, string(status)); err != nil {
		return 0, fmt.Errorf("failed to count months by status: %w", err)
	}
	return count, nil
}

// DeleteAll removes every row and returns the count removed.
func (r *MonthRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ops.processed_months`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed months: %w", err)
	}
	return res.RowsAffected()
}
