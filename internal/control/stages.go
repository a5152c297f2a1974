package control

import (
	"context"
	"fmt"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage/postgres"
	"github.com/vietddude/stager/internal/pipeline"
	"github.com/vietddude/stager/internal/sweep"
)

// defaultSourceQuery enumerates every month present in the silver sales
// table. Overridable via sweep.source_query for other source layouts.
const defaultSourceQuery = `
	SELECT DISTINCT
		EXTRACT(YEAR FROM date_id)::INTEGER AS year,
		EXTRACT(MONTH FROM date_id)::INTEGER AS month
	FROM silver.fact_sales_daily
	ORDER BY year, month`

// monthlySalesQuery upserts one month of gold.fact_sales_monthly from the
// silver daily facts. Keyed on month_key so re-running a month overwrites
// instead of duplicating.
const monthlySalesQuery = `
	INSERT INTO gold.fact_sales_monthly
		(month_key, year, month, total_sales, total_quantity, transaction_count)
	SELECT
		TO_CHAR(date_id, 'YYYY-MM'),
		EXTRACT(YEAR FROM date_id)::INTEGER,
		EXTRACT(MONTH FROM date_id)::INTEGER,
		SUM(total_sales),
		SUM(total_quantity),
		SUM(transaction_count)
	FROM silver.fact_sales_daily
	WHERE EXTRACT(YEAR FROM date_id)::INTEGER = $1
	  AND EXTRACT(MONTH FROM date_id)::INTEGER = $2
	GROUP BY TO_CHAR(date_id, 'YYYY-MM'), EXTRACT(YEAR FROM date_id), EXTRACT(MONTH FROM date_id)
	ON CONFLICT (month_key) DO UPDATE SET
		total_sales = EXCLUDED.total_sales,
		total_quantity = EXCLUDED.total_quantity,
		transaction_count = EXCLUDED.transaction_count,
		updated_at = CURRENT_TIMESTAMP`

const productPerformanceQuery = `
	INSERT INTO gold.fact_product_performance
		(product_id, total_sales, total_quantity, transaction_count)
	SELECT product_id, SUM(total_sales), SUM(total_quantity), SUM(transaction_count)
	FROM silver.fact_sales_daily
	GROUP BY product_id
	ON CONFLICT (product_id) DO UPDATE SET
		total_sales = EXCLUDED.total_sales,
		total_quantity = EXCLUDED.total_quantity,
		transaction_count = EXCLUDED.transaction_count,
		updated_at = CURRENT_TIMESTAMP`

const countrySalesQuery = `
	INSERT INTO gold.fact_country_sales
		(country_id, total_sales, total_quantity, transaction_count)
	SELECT country_id, SUM(total_sales), SUM(total_quantity), SUM(transaction_count)
	FROM silver.fact_sales_daily
	GROUP BY country_id
	ON CONFLICT (country_id) DO UPDATE SET
		total_sales = EXCLUDED.total_sales,
		total_quantity = EXCLUDED.total_quantity,
		transaction_count = EXCLUDED.transaction_count,
		updated_at = CURRENT_TIMESTAMP`

// salesStages builds the gold refresh stages run by `stager run`.
func salesStages(db *postgres.DB) []pipeline.Stage {
	return []pipeline.Stage{
		{Name: "product_performance", Op: upsertStage(db, "product_performance", productPerformanceQuery)},
		{Name: "country_sales", Op: upsertStage(db, "country_sales", countrySalesQuery)},
	}
}

// demoStages simulates the stage work so memory mode can exercise the
// checkpoint, retry and breaker paths without a database.
func demoStages() []pipeline.Stage {
	return []pipeline.Stage{
		{Name: "product_performance", Op: func(ctx context.Context) (int64, error) { return 4, nil }},
		{Name: "country_sales", Op: func(ctx context.Context) (int64, error) { return 2, nil }},
	}
}

func upsertStage(db *postgres.DB, name, query string) pipeline.Operation {
	return func(ctx context.Context) (int64, error) {
		res, err := db.ExecContext(ctx, query)
		if err != nil {
			return 0, fmt.Errorf("failed to refresh %s: %w", name, err)
		}
		return res.RowsAffected()
	}
}

// QueryMonthSource enumerates source months by running a SQL query that
// returns year and month columns.
type QueryMonthSource struct {
	db    *postgres.DB
	query string
}

func NewQueryMonthSource(db *postgres.DB, query string) *QueryMonthSource {
	if query == "" {
		query = defaultSourceQuery
	}
	return &QueryMonthSource{db: db, query: query}
}

func (s *QueryMonthSource) DistinctMonths(ctx context.Context) ([]domain.Month, error) {
	var rows []struct {
		Year  int `db:"year"`
		Month int `db:"month"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.query); err != nil {
		return nil, fmt.Errorf("failed to enumerate source months: %w", err)
	}
	out := make([]domain.Month, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Month{Year: r.Year, Month: r.Month})
	}
	return out, nil
}

// salesAggregate returns the per-month gold upsert used by sweeps.
func salesAggregate(db *postgres.DB) sweep.Aggregate {
	return func(ctx context.Context, m domain.Month) (int64, error) {
		res, err := db.ExecContext(ctx, monthlySalesQuery, m.Year, m.Month)
		if err != nil {
			return 0, fmt.Errorf("failed to aggregate month %s: %w", m.Key(), err)
		}
		return res.RowsAffected()
	}
}

// staticMonthSource serves a fixed month list, used in memory mode where
// there is no silver schema to enumerate.
type staticMonthSource []domain.Month

func (s staticMonthSource) DistinctMonths(ctx context.Context) ([]domain.Month, error) {
	return s, nil
}

// noopAggregate pairs with staticMonthSource in memory mode.
func noopAggregate(ctx context.Context, m domain.Month) (int64, error) {
	return 0, nil
}
