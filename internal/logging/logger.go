// Package logging provides the tiered pipeline logger.
//
// Every record lands somewhere: the database sink first, then the JSONL
// fallback file, then the critical plaintext file, and as a last resort a
// single line on stderr. Logging never returns an error to the caller and
// never panics; a pipeline run must not die because its logging did.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/pipeline/metrics"
)

// Sink delivers one log record to a destination.
type Sink interface {
	// Name identifies the sink in degradation warnings.
	Name() string

	// Write delivers one record.
	Write(ctx context.Context, rec *domain.LogRecord) error
}

// Logger is bound to one (pipeline, run) pair. Records go to the first
// sink that accepts them; each failed sink is reported on the console and
// the next tier is tried.
type Logger struct {
	pipeline string
	runID    string
	name     string
	sinks    []Sink
	console  *slog.Logger
}

// New creates a logger for one pipeline run. Sinks are tried in the order
// given; pass them most-durable first.
func New(pipeline, runID string, sinks ...Sink) *Logger {
	return &Logger{
		pipeline: pipeline,
		runID:    runID,
		name:     "stager",
		sinks:    sinks,
		console:  slog.Default(),
	}
}

// RunID returns the run identifier this logger is bound to.
func (l *Logger) RunID() string {
	return l.runID
}

// Debug records a debug-level message.
func (l *Logger) Debug(ctx context.Context, msg string, metadata map[string]any) {
	l.log(ctx, domain.LogLevelDebug, msg, metadata)
}

// Info records an info-level message.
func (l *Logger) Info(ctx context.Context, msg string, metadata map[string]any) {
	l.log(ctx, domain.LogLevelInfo, msg, metadata)
}

// Warning records a warning-level message.
func (l *Logger) Warning(ctx context.Context, msg string, metadata map[string]any) {
	l.log(ctx, domain.LogLevelWarning, msg, metadata)
}

// Error records an error-level message.
func (l *Logger) Error(ctx context.Context, msg string, metadata map[string]any) {
	l.log(ctx, domain.LogLevelError, msg, metadata)
}

func (l *Logger) log(ctx context.Context, level domain.LogLevel, msg string, metadata map[string]any) {
	module, function, line := callerInfo(3)

	rec := &domain.LogRecord{
		Timestamp:    time.Now().UTC(),
		Level:        level,
		Message:      msg,
		Logger:       l.name,
		PipelineName: l.pipeline,
		RunID:        l.runID,
		Module:       module,
		Function:     function,
		Line:         line,
		Metadata:     metadata,
	}

	// Mirror on the console for the operator, independent of sink health
	l.console.Log(ctx, slogLevel(level), msg, "pipeline", l.pipeline, "run_id", l.runID)

	l.deliver(ctx, rec)
}

// deliver walks the sink tiers. First success wins; a record that no sink
// accepts degrades to a bare stderr line rather than being lost silently.
func (l *Logger) deliver(ctx context.Context, rec *domain.LogRecord) {
	for _, sink := range l.sinks {
		if err := sink.Write(ctx, rec); err != nil {
			l.console.Warn("Failed to log to "+sink.Name(), "error", err)
			metrics.LogSinkFailures.WithLabelValues(sink.Name()).Inc()
			continue
		}
		metrics.LogRecords.WithLabelValues(sink.Name()).Inc()
		return
	}

	if len(l.sinks) > 0 {
		fmt.Fprintf(os.Stderr, "CRITICAL: %s\n", rec.Message)
	}
}

func slogLevel(level domain.LogLevel) slog.Level {
	switch level {
	case domain.LogLevelDebug:
		return slog.LevelDebug
	case domain.LogLevelWarning:
		return slog.LevelWarn
	case domain.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func callerInfo(skip int) (module, function string, line int) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "", "", 0
	}

	module = filepath.Base(file)
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
		if idx := strings.LastIndex(function, "/"); idx >= 0 {
			function = function[idx+1:]
		}
	}
	return module, function, line
}
