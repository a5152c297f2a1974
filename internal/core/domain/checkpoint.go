package domain

import "time"

// Checkpoint represents one recorded unit of work within a pipeline run
type Checkpoint struct {
	ID           int64
	PipelineName string
	RunID        string
	Stage        string
	Key          string
	Value        string
	Status       CheckpointStatus
	StartTime    *time.Time
	EndTime      *time.Time
	DurationMs   int64
	Metadata     map[string]any
	UpdatedAt    time.Time
}

type CheckpointStatus string

const (
	CheckpointStatusPending    CheckpointStatus = "pending"
	CheckpointStatusInProgress CheckpointStatus = "in_progress"
	CheckpointStatusCompleted  CheckpointStatus = "completed"
	CheckpointStatusFailed     CheckpointStatus = "failed"
)
