package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExhaustedError wraps the final failure after the retry bound is
// reached. The underlying error is returned verbatim via Unwrap so
// callers keep their classification.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("dispatch: retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Policy is a bounded linear-backoff retry loop. The nth retry waits
// n × BaseDelay; no jitter.
//
// Two distinct scopes exist and must not be conflated: HTTPPolicy bounds
// a single HTTP dispatch, WorkflowPolicy bounds a whole multi-step
// operation that may itself retry HTTP calls internally.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	Log *slog.Logger

	// Sleep is injectable for tests. Nil means a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// HTTPPolicy bounds a single HTTP dispatch: 4 total attempts.
func HTTPPolicy(baseDelay time.Duration, log *slog.Logger) Policy {
	return Policy{MaxAttempts: 4, BaseDelay: baseDelay, Log: log}
}

// WorkflowPolicy bounds a whole downstream workflow step: 5 total
// attempts with a coarser delay unit.
func WorkflowPolicy(baseDelay time.Duration, log *slog.Logger) Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 2 * baseDelay, Log: log}
}

// Do runs fn until it succeeds, fails fatally, or the bound is reached.
// A fatal error is returned as-is; exhaustion wraps the last error in
// *ExhaustedError. Every retry logs attempt, bound, and cause before
// sleeping.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = waitCtx
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(attempt) * p.BaseDelay
		log.Warn("retrying dispatch",
			"op", op,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"err", lastErr,
		)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

func waitCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
