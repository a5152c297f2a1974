// Demo of the failure-handling building blocks: retry with backoff,
// retry exhaustion, and the circuit breaker tripping and recovering.
// Runs without a database; faults are scripted.
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/stager/internal/pipeline"
)

func main() {
	ctx := context.Background()
	faults := pipeline.NewScriptedFaults()

	retry := pipeline.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxJitter:   100 * time.Millisecond,
	}

	// 1. Transient faults absorbed by retry
	fmt.Println("=== 1. Retry: two transient faults, third attempt succeeds ===")
	faults.FailN("monthly_aggregate", 2, errors.New("connection reset by peer"))
	attempts := 0
	rows, err := retry.Do(ctx, func(ctx context.Context) (int64, error) {
		attempts++
		if err := faults.Fail("monthly_aggregate"); err != nil {
			fmt.Printf("  attempt %d failed: %v\n", attempts, err)
			return 0, err
		}
		fmt.Printf("  attempt %d succeeded\n", attempts)
		return 1250, nil
	})
	fmt.Printf("  result: rows=%d err=%v\n\n", rows, err)

	// 2. Retry exhaustion surfaces the last error unchanged
	fmt.Println("=== 2. Retry exhaustion: every attempt fails ===")
	faults.FailN("product_performance", 10, errors.New("too many connections"))
	attempts = 0
	_, err = retry.Do(ctx, func(ctx context.Context) (int64, error) {
		attempts++
		return 0, faults.Fail("product_performance")
	})
	fmt.Printf("  gave up after %d attempts: %v\n\n", attempts, err)

	// 3. Breaker trips after consecutive failures, fails fast, recovers
	fmt.Println("=== 3. Circuit breaker: trip, fail fast, recover ===")
	breaker := pipeline.NewCircuitBreaker(2, time.Second)
	faults.FailN("country_sales", 2, errors.New("database is down"))
	op := func(ctx context.Context) (int64, error) {
		if err := faults.Fail("country_sales"); err != nil {
			return 0, err
		}
		return 840, nil
	}
	for i := 1; i <= 3; i++ {
		_, callErr := breaker.Call(ctx, op)
		fmt.Printf("  call %d: state=%s err=%v\n", i, breaker.State(), callErr)
		if errors.Is(callErr, pipeline.ErrCircuitOpen) {
			fmt.Println("  rejected without running the operation")
		}
	}

	fmt.Println("  cooling down...")
	time.Sleep(1100 * time.Millisecond)

	rows, err = breaker.Call(ctx, op)
	fmt.Printf("  probe after cooldown: rows=%d state=%s err=%v\n", rows, breaker.State(), err)
}
