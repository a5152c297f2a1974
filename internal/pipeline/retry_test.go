package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxJitter: 5 * time.Millisecond}

	invocations := 0
	rows, err := policy.Do(context.Background(), func(ctx context.Context) (int64, error) {
		invocations++
		if invocations < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if rows != 42 {
		t.Errorf("expected 42 rows, got %d", rows)
	}
	if invocations != 3 {
		t.Errorf("expected exactly 3 invocations, got %d", invocations)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxJitter: 5 * time.Millisecond}
	lastErr := errors.New("attempt 3 error")

	invocations := 0
	_, err := policy.Do(context.Background(), func(ctx context.Context) (int64, error) {
		invocations++
		if invocations == 3 {
			return 0, lastErr
		}
		return 0, errors.New("earlier error")
	})

	if invocations != 3 {
		t.Errorf("expected exactly 3 invocations, got %d", invocations)
	}
	// The last error comes back unchanged
	if !errors.Is(err, lastErr) {
		t.Errorf("expected last error, got %v", err)
	}
}

func TestRetryBacksOffBetweenAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond, MaxJitter: time.Millisecond}

	start := time.Now()
	_, _ = policy.Do(context.Background(), func(ctx context.Context) (int64, error) {
		return 0, errors.New("always fails")
	})
	elapsed := time.Since(start)

	if elapsed < 100*time.Millisecond {
		t.Errorf("expected at least the base delay before retry, ran for %v", elapsed)
	}
}

func TestRetrySingleAttemptNeverRetries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 1, BaseDelay: 10 * time.Millisecond}

	invocations := 0
	_, err := policy.Do(context.Background(), func(ctx context.Context) (int64, error) {
		invocations++
		return 0, errors.New("fails")
	})

	if invocations != 1 {
		t.Errorf("expected 1 invocation with MaxAttempts=1, got %d", invocations)
	}
	if err == nil {
		t.Error("expected the failure to surface")
	}
}

func TestRetryNoFailureNoDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxJitter: time.Second}

	start := time.Now()
	rows, err := policy.Do(context.Background(), func(ctx context.Context) (int64, error) {
		return 7, nil
	})
	if err != nil || rows != 7 {
		t.Fatalf("expected (7, nil), got (%d, %v)", rows, err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("success path slept for no reason")
	}
}

func TestRetryContextCancelDuringBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxJitter: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	invocations := 0
	done := make(chan struct{})

	go func() {
		_, err := policy.Do(ctx, func(ctx context.Context) (int64, error) {
			invocations++
			return 0, errors.New("fails")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		close(done)
	}()

	// Cancel while the first backoff sleep is in flight
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Do did not return promptly after cancellation")
	}
	if invocations != 1 {
		t.Errorf("expected no further attempts after cancel, got %d", invocations)
	}
}

func TestRetryClassifyStopsPermanentErrors(t *testing.T) {
	permanent := errors.New("relation does not exist")
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxJitter:   time.Millisecond,
		Classify:    func(err error) bool { return !errors.Is(err, permanent) },
	}

	invocations := 0
	_, err := policy.Do(context.Background(), func(ctx context.Context) (int64, error) {
		invocations++
		return 0, permanent
	})

	if invocations != 1 {
		t.Errorf("permanent error should not be retried, got %d invocations", invocations)
	}
	if !errors.Is(err, permanent) {
		t.Errorf("expected the permanent error, got %v", err)
	}
}

func TestRetryWrap(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, MaxJitter: time.Millisecond}

	invocations := 0
	wrapped := policy.Wrap(func(ctx context.Context) (int64, error) {
		invocations++
		if invocations == 1 {
			return 0, errors.New("first fails")
		}
		return 5, nil
	})

	rows, err := wrapped(context.Background())
	if err != nil || rows != 5 {
		t.Fatalf("expected (5, nil), got (%d, %v)", rows, err)
	}
	if invocations != 2 {
		t.Errorf("expected 2 invocations through the wrapper, got %d", invocations)
	}
}
