// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// PipelineHealth contains health metrics for one pipeline.
type PipelineHealth struct {
	Pipeline          string       `json:"pipeline"`
	Status            SystemStatus `json:"status"`
	DatabaseOK        bool         `json:"database_ok"`
	BreakerState      string       `json:"breaker_state"`
	StuckCheckpoints  int          `json:"stuck_checkpoints"`
	FailedCheckpoints int          `json:"failed_checkpoints"`
	FailedMonths      int          `json:"failed_months"`
}
