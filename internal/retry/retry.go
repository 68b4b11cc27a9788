// Package retry implements a generic attempt loop: exponential backoff
// with jitter, a context-cancellable wait between attempts, and an
// exhaustion-recovery hook that can salvage a result after the last
// attempt fails.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cadreops/cadre/internal/cadreerr"
)

// Options configures one Execute call.
type Options[T any] struct {
	// Fn is invoked with attempt numbers 1..MaxAttempts.
	Fn func(ctx context.Context, attempt int) (T, error)

	// MaxAttempts bounds the number of Fn calls. Must be >= 1.
	MaxAttempts int

	// BaseDelay and MaxDelay bound the exponential backoff:
	// wait = min(BaseDelay * 2^(attempt-1), MaxDelay). Defaults of 1s and
	// 30s are applied when left zero.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// JitterFactor adds +/- JitterFactor*wait randomness to each backoff
	// wait, matching ratelimit.go's computeWaitDuration. Defaults to 0.1.
	JitterFactor float64

	// OnRetry is invoked after each failed attempt, before waiting.
	OnRetry func(attempt int, err error)

	// OnExhausted is invoked at most once, after MaxAttempts failures. If
	// it returns ok=true, the call is treated as successful with
	// RecoveryUsed=true.
	OnExhausted func(lastErr error) (result T, ok bool)
}

// Result is the outcome of one Execute call.
type Result[T any] struct {
	Success      bool
	Value        T
	Attempts     int
	RecoveryUsed bool
	Err          error
}

// Execute runs Fn up to MaxAttempts times with jittered exponential backoff
// between attempts. A typed budget-exceeded error (cadreerr.ErrBudgetExceeded)
// from Fn is never retried and propagates out of Execute untouched.
func Execute[T any](ctx context.Context, opts Options[T]) Result[T] {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	jitter := opts.JitterFactor
	if jitter <= 0 {
		jitter = 0.1
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		value, err := opts.Fn(ctx, attempt)
		if err == nil {
			return Result[T]{Success: true, Value: value, Attempts: attempt}
		}

		if errors.Is(err, cadreerr.ErrBudgetExceeded) {
			return Result[T]{Attempts: attempt, Err: err}
		}

		lastErr = err
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}

		if attempt == opts.MaxAttempts {
			break
		}

		wait := computeWait(baseDelay, maxDelay, jitter, attempt)
		select {
		case <-ctx.Done():
			return Result[T]{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}

	if opts.OnExhausted != nil {
		if value, ok := opts.OnExhausted(lastErr); ok {
			return Result[T]{Success: true, Value: value, Attempts: opts.MaxAttempts, RecoveryUsed: true}
		}
	}

	return Result[T]{
		Attempts: opts.MaxAttempts,
		Err:      fmt.Errorf("exhausted %d attempts: %w", opts.MaxAttempts, lastErr),
	}
}

// computeWait mirrors ratelimit.go's computeWaitDuration: exponential
// growth capped at maxDelay, with +/- jitterFactor randomness.
func computeWait(baseDelay, maxDelay time.Duration, jitterFactor float64, attempt int) time.Duration {
	wait := baseDelay
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait > maxDelay {
			wait = maxDelay
			break
		}
	}
	if wait > maxDelay {
		wait = maxDelay
	}

	jitterRange := float64(wait) * jitterFactor
	delta := (rand.Float64()*2 - 1) * jitterRange
	result := time.Duration(float64(wait) + delta)
	if result < 0 {
		result = 0
	}
	return result
}
