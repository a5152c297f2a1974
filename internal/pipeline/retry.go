package pipeline

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/vietddude/stager/internal/pipeline/metrics"
)

// Operation is one unit of stage work. It reports how many rows it
// touched so checkpoints can record the figure.
type Operation func(ctx context.Context) (int64, error)

// RetryPolicy defines retry behavior for stage operations.
//
// MaxAttempts counts total invocations: 3 means one call plus up to two
// retries, and 1 disables retrying entirely. The policy holds no state
// across calls.
type RetryPolicy struct {
	MaxAttempts int           // Total invocations (min 1)
	BaseDelay   time.Duration // First backoff; doubles each attempt
	MaxJitter   time.Duration // Uniform [0, MaxJitter) added per backoff (default 1s)

	// Classify reports whether an error is worth retrying. Nil retries
	// everything, which matches how batch stages usually fail (transient
	// database and network errors dominate).
	Classify func(error) bool
}

// DefaultRetryPolicy provides sensible defaults for batch stages.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
	MaxJitter:   time.Second,
}

// Do executes op with exponential backoff between failed attempts.
//
// The delay before retry i is BaseDelay * 2^(i-1) plus jitter. After the
// final attempt the last error is returned unchanged so callers can match
// on it with errors.Is.
func (p RetryPolicy) Do(ctx context.Context, op Operation) (int64, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		rows, err := op(ctx)
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if p.Classify != nil && !p.Classify(err) {
			// Permanent failure, retrying cannot help
			return 0, err
		}

		if attempt == attempts-1 {
			break
		}

		metrics.RetryAttempts.Inc()
		delay := p.backoff(attempt)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}

	return 0, lastErr
}

// Wrap returns op with the retry policy applied around it.
func (p RetryPolicy) Wrap(op Operation) Operation {
	return func(ctx context.Context) (int64, error) {
		return p.Do(ctx, op)
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	maxJitter := p.MaxJitter
	if maxJitter <= 0 {
		maxJitter = time.Second
	}

	delay := float64(base) * math.Pow(2, float64(attempt))
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return time.Duration(delay) + jitter
}
