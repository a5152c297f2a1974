// Package recovery repairs a corrupted month ledger. Corruption here means
// rows a sweep can no longer trust: metadata that is not a JSON object, a
// status outside the known set, or a missing year/month. Recovery backs the
// whole ledger up, deletes the damaged rows and reinserts the months that
// could be identified, flagged so later audits can tell them apart.
//
// Recovery never runs automatically. It is invoked from the CLI after an
// operator has seen the validation report.
package recovery

import (
	"context"
	"fmt"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/core/months"
	"github.com/vietddude/stager/internal/infra/storage"
	"github.com/vietddude/stager/internal/logging"
)

// ValidationReport lists the damage found in the month ledger.
type ValidationReport struct {
	// Corrupted holds every damaged row with the reason it was flagged.
	Corrupted []storage.CorruptedRow
	// Recoverable holds the months whose identity survived the damage,
	// derived from corrupted rows whose month key still parses.
	Recoverable []domain.Month
}

// RecoveryReport counts what a repair did.
type RecoveryReport struct {
	BackedUp   int64
	Deleted    int64
	Reinserted int
}

// Service validates and repairs the month ledger.
type Service struct {
	repo   storage.RecoveryRepository
	months storage.MonthRepository
	log    *logging.Logger
}

// NewService creates a recovery service.
func NewService(repo storage.RecoveryRepository, monthRepo storage.MonthRepository, log *logging.Logger) *Service {
	return &Service{
		repo:   repo,
		months: monthRepo,
		log:    log,
	}
}

// Validate scans the ledger for corrupted rows without changing anything.
func (s *Service) Validate(ctx context.Context) (*ValidationReport, error) {
	corrupted, err := s.repo.FindCorrupted(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to validate month ledger: %w", err)
	}

	report := &ValidationReport{Corrupted: corrupted}
	for _, row := range corrupted {
		m, err := months.ParseMonthKey(row.MonthKey)
		if err != nil {
			continue
		}
		report.Recoverable = append(report.Recoverable, m)
	}

	if len(corrupted) > 0 {
		s.log.Warning(ctx, fmt.Sprintf("Month ledger validation found %d corrupted rows", len(corrupted)), map[string]any{
			"corrupted":   len(corrupted),
			"recoverable": len(report.Recoverable),
		})
	}
	return report, nil
}

// Recover repairs the ledger: back up every row, delete the corrupted ones
// and reinsert the supplied clean months as completed with a recovered
// marker. Months lost beyond identification are simply gone; the backup
// table keeps their original bytes.
func (s *Service) Recover(ctx context.Context, clean []domain.Month) (*RecoveryReport, error) {
	report := &RecoveryReport{}

	backedUp, err := s.repo.BackupMonths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to back up month ledger: %w", err)
	}
	report.BackedUp = backedUp
	s.log.Info(ctx, fmt.Sprintf("Backed up %d month rows", backedUp), nil)

	deleted, err := s.repo.DeleteCorrupted(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to delete corrupted rows: %w", err)
	}
	report.Deleted = deleted

	for _, m := range clean {
		pm := &domain.ProcessedMonth{
			MonthKey: m.Key(),
			Year:     m.Year,
			Month:    m.Month,
			Status:   domain.MonthStatusCompleted,
			Metadata: map[string]any{"recovered": true},
		}
		if err := s.months.Upsert(ctx, pm); err != nil {
			return report, fmt.Errorf("failed to reinsert month %s: %w", m.Key(), err)
		}
		report.Reinserted++
	}

	s.log.Info(ctx, fmt.Sprintf("Month ledger recovery complete: %d deleted, %d reinserted", deleted, report.Reinserted), map[string]any{
		"backed_up":  backedUp,
		"deleted":    deleted,
		"reinserted": report.Reinserted,
	})
	return report, nil
}
