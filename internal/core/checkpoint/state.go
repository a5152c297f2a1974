package checkpoint

import (
	"errors"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
)

// Status is an alias for domain.CheckpointStatus for internal use.
type Status = domain.CheckpointStatus

// ErrInvalidTransition is returned when an invalid status transition is attempted.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidTransitions defines allowed status transitions.
// Key is the current status, value is the list of valid next statuses.
// A failed unit can be re-run: its start row is kept (StartStage is a
// no-op on conflict), so the next terminal write moves it directly to
// completed or back through in_progress.
var ValidTransitions = map[Status][]Status{
	domain.CheckpointStatusPending: {
		domain.CheckpointStatusInProgress,
		domain.CheckpointStatusCompleted,
		domain.CheckpointStatusFailed,
	},
	domain.CheckpointStatusInProgress: {
		domain.CheckpointStatusCompleted,
		domain.CheckpointStatusFailed,
	},
	domain.CheckpointStatusFailed: {
		domain.CheckpointStatusInProgress,
		domain.CheckpointStatusCompleted,
	},
	domain.CheckpointStatusCompleted: {},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to Status) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a status change with metadata.
type Transition struct {
	From      Status
	To        Status
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to Status, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StatusDescription returns a human-readable description of a status.
func StatusDescription(s Status) string {
	switch s {
	case domain.CheckpointStatusPending:
		return "Pending - checkpoint row created, work not yet started"
	case domain.CheckpointStatusInProgress:
		return "In progress - stage started, no terminal result recorded"
	case domain.CheckpointStatusCompleted:
		return "Completed - stage finished successfully"
	case domain.CheckpointStatusFailed:
		return "Failed - stage exhausted its retries, can be re-run"
	default:
		return "Unknown status"
	}
}
