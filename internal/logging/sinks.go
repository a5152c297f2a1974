package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
)

// DBSink writes records to the pipeline log table.
type DBSink struct {
	repo storage.LogRepository
}

// NewDBSink creates a sink over the log repository.
func NewDBSink(repo storage.LogRepository) *DBSink {
	return &DBSink{repo: repo}
}

func (s *DBSink) Name() string { return "database" }

func (s *DBSink) Write(ctx context.Context, rec *domain.LogRecord) error {
	return s.repo.Insert(ctx, rec)
}

// FileSink appends records as JSON lines. The file is opened per write so
// a rotated or deleted file never wedges the tier.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a JSONL sink at path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Name() string { return "fallback file" }

func (s *FileSink) Write(ctx context.Context, rec *domain.LogRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode log record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open fallback file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write fallback file: %w", err)
	}
	return nil
}

// CriticalSink appends one simplified plaintext line per record. The
// format carries only what a human needs when everything else is down.
type CriticalSink struct {
	path string
	mu   sync.Mutex
}

// NewCriticalSink creates a plaintext sink at path.
func NewCriticalSink(path string) *CriticalSink {
	return &CriticalSink{path: path}
}

func (s *CriticalSink) Name() string { return "critical file" }

func (s *CriticalSink) Write(ctx context.Context, rec *domain.LogRecord) error {
	line := fmt.Sprintf(
		"%s - %s - %s\n",
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Level,
		rec.Message,
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open critical file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write critical file: %w", err)
	}
	return nil
}
