package domain

import (
	"fmt"
	"time"
)

// Month identifies one calendar month of source data
type Month struct {
	Year  int
	Month int
}

// Key returns the canonical "YYYY-MM" form used as the ledger key
func (m Month) Key() string {
	return fmt.Sprintf("%d-%02d", m.Year, m.Month)
}

// Before reports whether m sorts earlier than other
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// ProcessedMonth represents the ledger row for one materialized month
type ProcessedMonth struct {
	ID          int64
	MonthKey    string
	Year        int
	Month       int
	Status      MonthStatus
	ProcessedAt time.Time
	UpdatedAt   time.Time
	Metadata    map[string]any
}

type MonthStatus string

const (
	MonthStatusInProgress MonthStatus = "in_progress"
	MonthStatusCompleted  MonthStatus = "completed"
	MonthStatusFailed     MonthStatus = "failed"
)
