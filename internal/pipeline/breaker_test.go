package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDown = errors.New("database is down")

func failingOp(ctx context.Context) (int64, error) { return 0, errDown }

func succeedingOp(ctx context.Context) (int64, error) { return 1, nil }

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	ctx := context.Background()

	if cb.State() != BreakerClosed {
		t.Fatalf("new breaker should be closed, got %s", cb.State())
	}

	_, _ = cb.Call(ctx, failingOp)
	if cb.State() != BreakerClosed {
		t.Errorf("one failure below threshold should stay closed, got %s", cb.State())
	}

	_, _ = cb.Call(ctx, failingOp)
	if cb.State() != BreakerOpen {
		t.Errorf("expected open after 2 consecutive failures, got %s", cb.State())
	}
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	ctx := context.Background()

	_, _ = cb.Call(ctx, failingOp)
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	invoked := false
	_, err := cb.Call(ctx, func(ctx context.Context) (int64, error) {
		invoked = true
		return 1, nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("open breaker must not invoke the operation")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	ctx := context.Background()

	_, _ = cb.Call(ctx, failingOp)
	_, _ = cb.Call(ctx, failingOp)
	_, _ = cb.Call(ctx, succeedingOp)
	if cb.Failures() != 0 {
		t.Errorf("success should reset failures, got %d", cb.Failures())
	}

	// Two more failures stay below the threshold again
	_, _ = cb.Call(ctx, failingOp)
	_, _ = cb.Call(ctx, failingOp)
	if cb.State() != BreakerClosed {
		t.Errorf("non-consecutive failures tripped the breaker: %s", cb.State())
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(1, 50*time.Millisecond)
	ctx := context.Background()

	_, _ = cb.Call(ctx, failingOp)
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(60 * time.Millisecond)

	rows, err := cb.Call(ctx, succeedingOp)
	if err != nil {
		t.Fatalf("probe should run after cooldown: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected probe result to pass through, got %d", rows)
	}
	if cb.State() != BreakerClosed {
		t.Errorf("probe success should close the breaker, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("expected failure count reset, got %d", cb.Failures())
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 50*time.Millisecond)
	ctx := context.Background()

	_, _ = cb.Call(ctx, failingOp)
	time.Sleep(60 * time.Millisecond)

	_, err := cb.Call(ctx, failingOp)
	if !errors.Is(err, errDown) {
		t.Fatalf("probe should invoke the operation, got %v", err)
	}
	if cb.State() != BreakerOpen {
		t.Errorf("probe failure should reopen, got %s", cb.State())
	}

	// Reopened breaker rejects again until the next cooldown
	_, err = cb.Call(ctx, succeedingOp)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected fail-fast after reopen, got %v", err)
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker(1, 50*time.Millisecond)
	ctx := context.Background()

	var mu sync.Mutex
	var transitions []BreakerTransition
	cb.SetStateChangeCallback(func(tr BreakerTransition) {
		mu.Lock()
		transitions = append(transitions, tr)
		mu.Unlock()
	})

	_, _ = cb.Call(ctx, failingOp) // closed -> open
	time.Sleep(60 * time.Millisecond)
	_, _ = cb.Call(ctx, succeedingOp) // open -> half_open -> closed

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(transitions))
	}
	expected := []struct{ from, to BreakerState }{
		{BreakerClosed, BreakerOpen},
		{BreakerOpen, BreakerHalfOpen},
		{BreakerHalfOpen, BreakerClosed},
	}
	for i, want := range expected {
		if transitions[i].From != want.from || transitions[i].To != want.to {
			t.Errorf("transition %d = %s->%s, want %s->%s",
				i, transitions[i].From, transitions[i].To, want.from, want.to)
		}
	}
}

func TestScriptedFaults(t *testing.T) {
	faults := NewScriptedFaults()
	boom := errors.New("boom")
	faults.FailN("aggregate", 2, boom)

	if err := faults.Fail("aggregate"); !errors.Is(err, boom) {
		t.Errorf("first call should fail, got %v", err)
	}
	if err := faults.Fail("aggregate"); !errors.Is(err, boom) {
		t.Errorf("second call should fail, got %v", err)
	}
	if err := faults.Fail("aggregate"); err != nil {
		t.Errorf("third call should pass, got %v", err)
	}
	if err := faults.Fail("other_op"); err != nil {
		t.Errorf("unregistered op should never fail, got %v", err)
	}
	if remaining := faults.Remaining("aggregate"); remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
}
