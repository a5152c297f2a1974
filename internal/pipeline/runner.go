package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vietddude/stager/internal/core/checkpoint"
	"github.com/vietddude/stager/internal/logging"
	"github.com/vietddude/stager/internal/pipeline/metrics"
)

// Stage is one named step of a pipeline run. Op does the actual work and
// reports how many rows it touched. Key scopes the checkpoint row; when
// empty the stage checkpoints under the key "full".
type Stage struct {
	Name string
	Key  string
	Op   Operation
}

// Run outcome values recorded on RunResult.Status.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunResult summarizes one pipeline run.
type RunResult struct {
	RunID       string
	Status      string
	FailedStage string
	Err         error
	Rows        map[string]int64
	Duration    time.Duration
}

// Runner executes stages in order, recording a checkpoint per stage so an
// interrupted run can resume without redoing finished work. Each stage op
// runs under the retry policy and, when a breaker is configured, under the
// circuit breaker as well. The breaker wraps the whole retried call, so a
// stage that exhausts its retries counts as a single breaker failure.
type Runner struct {
	checkpoints checkpoint.Manager
	retry       RetryPolicy
	breaker     *CircuitBreaker
	log         *logging.Logger
}

// NewRunner creates a runner. breaker may be nil to run without circuit
// protection.
func NewRunner(cm checkpoint.Manager, retry RetryPolicy, breaker *CircuitBreaker, log *logging.Logger) *Runner {
	return &Runner{
		checkpoints: cm,
		retry:       retry,
		breaker:     breaker,
		log:         log,
	}
}

// Run executes the stages sequentially. The first stage failure halts the
// run; checkpoints written by earlier stages are retained so the next run
// with the same run ID picks up after them.
func (r *Runner) Run(ctx context.Context, stages []Stage) *RunResult {
	start := time.Now()
	result := &RunResult{
		RunID:  r.checkpoints.RunID(),
		Status: RunCompleted,
		Rows:   make(map[string]int64),
	}

	r.log.Info(ctx, fmt.Sprintf("Starting pipeline run %s", result.RunID), map[string]any{
		"stages": len(stages),
	})

	for _, stage := range stages {
		rows, err := r.runStage(ctx, stage)
		if err != nil {
			result.Status = RunFailed
			result.FailedStage = stage.Name
			result.Err = err
			break
		}
		result.Rows[stage.Name] = rows
	}

	result.Duration = time.Since(start)

	if result.Status == RunCompleted {
		r.log.Info(ctx, "Pipeline run completed", map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
		})
	} else {
		r.log.Error(ctx, fmt.Sprintf("Pipeline run failed at stage %s: %v", result.FailedStage, result.Err), map[string]any{
			"stage":       result.FailedStage,
			"duration_ms": result.Duration.Milliseconds(),
		})
	}

	return result
}

func (r *Runner) runStage(ctx context.Context, stage Stage) (int64, error) {
	key := stage.Key
	if key == "" {
		key = "full"
	}

	// A resumed run skips stages that already finished.
	existing, err := r.checkpoints.Get(ctx, stage.Name, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint for stage %s: %w", stage.Name, err)
	}
	if existing != nil && existing.Status == checkpoint.StatusCompleted {
		r.log.Info(ctx, fmt.Sprintf("Stage %s already completed, skipping", stage.Name), map[string]any{
			"stage": stage.Name,
		})
		metrics.StageRuns.WithLabelValues(stage.Name, "skipped").Inc()
		return recordedRows(existing), nil
	}

	r.log.Info(ctx, fmt.Sprintf("Starting stage %s", stage.Name), map[string]any{
		"stage": stage.Name,
	})
	if err := r.checkpoints.StartStage(ctx, stage.Name, key); err != nil {
		return 0, err
	}

	op := r.retry.Wrap(stage.Op)

	stageStart := time.Now()
	var rows int64
	if r.breaker != nil {
		rows, err = r.breaker.Call(ctx, op)
	} else {
		rows, err = op(ctx)
	}
	metrics.StageDuration.WithLabelValues(stage.Name).Observe(time.Since(stageStart).Seconds())

	if err != nil {
		metrics.StageRuns.WithLabelValues(stage.Name, "failed").Inc()
		if setErr := r.checkpoints.Set(ctx, stage.Name, key, "", checkpoint.StatusFailed, map[string]any{
			"error": err.Error(),
		}); setErr != nil {
			r.log.Error(ctx, fmt.Sprintf("Failed to record failure checkpoint for stage %s: %v", stage.Name, setErr), map[string]any{
				"stage": stage.Name,
			})
		}
		r.log.Error(ctx, fmt.Sprintf("Stage %s failed: %v", stage.Name, err), map[string]any{
			"stage": stage.Name,
		})
		return 0, err
	}

	metrics.StageRuns.WithLabelValues(stage.Name, "completed").Inc()
	if err := r.checkpoints.Set(ctx, stage.Name, key, strconv.FormatInt(rows, 10), checkpoint.StatusCompleted, map[string]any{
		"rows_updated": rows,
	}); err != nil {
		return 0, fmt.Errorf("failed to record checkpoint for stage %s: %w", stage.Name, err)
	}

	r.log.Info(ctx, fmt.Sprintf("Completed stage %s, %d rows updated", stage.Name, rows), map[string]any{
		"stage":        stage.Name,
		"rows_updated": rows,
	})
	return rows, nil
}

// recordedRows extracts the row count a completed checkpoint recorded.
// Metadata read back from jsonb decodes numbers as float64.
func recordedRows(cp *checkpoint.Checkpoint) int64 {
	if v, ok := cp.Metadata["rows_updated"].(float64); ok {
		return int64(v)
	}
	if v, ok := cp.Metadata["rows_updated"].(int64); ok {
		return v
	}
	if cp.Value != "" {
		if n, err := strconv.ParseInt(cp.Value, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
