package domain

import "time"

// LogRecord represents one structured log emission tied to a pipeline run
type LogRecord struct {
	ID           int64          `json:"-"`
	Timestamp    time.Time      `json:"timestamp"`
	Level        LogLevel       `json:"level"`
	Message      string         `json:"message"`
	Logger       string         `json:"logger,omitempty"`
	PipelineName string         `json:"pipeline_name"`
	RunID        string         `json:"run_id"`
	Module       string         `json:"module,omitempty"`
	Function     string         `json:"function,omitempty"`
	Line         int            `json:"line,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)
