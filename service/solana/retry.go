package solana

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryPolicy is the immutable retry configuration for one kind of operation.
// Policies are constructed once at startup and reused for every operation of
// that kind.
type RetryPolicy struct {
	// MaxAttempts bounds the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the starting backoff for generic transient failures.
	BaseDelay time.Duration

	// RateLimitBaseDelay is the starting backoff after a 429. Rate limits get
	// a longer initial delay than generic failures.
	RateLimitBaseDelay time.Duration

	// MaxDelay caps every computed backoff.
	MaxDelay time.Duration
}

// DefaultReadPolicy is the policy for general RPC reads.
func DefaultReadPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        5,
		BaseDelay:          500 * time.Millisecond,
		RateLimitBaseDelay: time.Second,
		MaxDelay:           30 * time.Second,
	}
}

// DefaultSendPolicy is the policy for transaction sends. Sends are
// time-bounded by the blockhash validity window, so they get fewer attempts
// than reads.
func DefaultSendPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		BaseDelay:          500 * time.Millisecond,
		RateLimitBaseDelay: time.Second,
		MaxDelay:           30 * time.Second,
	}
}

// backoffDelay computes the delay before retry number attempt (0-based):
// base * 1.5^attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	// Compare in float space; converting first can overflow int64 at high
	// attempt counts and slip past the cap as a negative duration.
	f := float64(base) * math.Pow(1.5, float64(attempt))
	if f >= float64(max) {
		return max
	}
	return time.Duration(f)
}

// withRetry attempts fn up to policy.MaxAttempts times, classifying each
// failure:
//
//   - signing declined by the user: fail immediately, never retried
//   - rate-limited: exponential backoff from RateLimitBaseDelay, then retry
//   - stale blockhash: retry immediately; callers are expected to fetch a
//     fresh blockhash inside fn so the next attempt uses a valid one
//   - anything else: backoff from BaseDelay and retry
//
// When the budget is exhausted the last error is wrapped with a code matching
// its classification: rate-limited, stale-blockhash, or generic.
//
// Every attempt and outcome is logged with the operation's human-readable
// name. This is an observability contract for diagnosing flaky RPC behavior,
// not incidental logging.
func withRetry[T any](ctx context.Context, c *Client, policy RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		c.logger.DebugContext(ctx, "operation attempt",
			"operation", op,
			"attempt", attempt+1,
			"max_attempts", policy.MaxAttempts,
		)

		start := time.Now()
		result, err := fn(ctx)
		duration := time.Since(start).Seconds()

		if err == nil {
			c.logger.DebugContext(ctx, "operation succeeded",
				"operation", op,
				"attempt", attempt+1,
				"duration_seconds", duration,
			)
			if c.metrics != nil {
				c.metrics.RecordRPCCall(op, "success", c.endpoint, duration)
			}
			return result, nil
		}
		lastErr = err
		if c.metrics != nil {
			c.metrics.RecordRPCCall(op, "error", c.endpoint, duration)
		}

		// A declined signature aborts the whole flow; retrying would just
		// re-prompt the user.
		if isUserDeclined(err) {
			c.logger.InfoContext(ctx, "operation cancelled by user", "operation", op)
			return zero, newTransferError(CodeUserCancelled, op, err)
		}

		if isRateLimited(err) {
			delay := backoffDelay(policy.RateLimitBaseDelay, policy.MaxDelay, attempt)
			c.logger.WarnContext(ctx, "rate limited, backing off",
				"operation", op,
				"attempt", attempt+1,
				"backoff", delay,
			)
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
				c.metrics.RecordRPCRetry(op, "rate_limit")
			}
			if err := c.sleep(ctx, delay); err != nil {
				return zero, newTransferError(CodeTimeout, op, err)
			}
			continue
		}

		if isStaleBlockhash(err) {
			c.logger.WarnContext(ctx, "blockhash expired, retrying immediately",
				"operation", op,
				"attempt", attempt+1,
			)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry(op, "stale_blockhash")
			}
			continue
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(policy.BaseDelay, policy.MaxDelay, attempt)
		c.logger.WarnContext(ctx, "operation failed, retrying",
			"operation", op,
			"attempt", attempt+1,
			"error", err,
			"backoff", delay,
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(op, "error")
		}
		if err := c.sleep(ctx, delay); err != nil {
			return zero, newTransferError(CodeTimeout, op, err)
		}
	}

	c.logger.ErrorContext(ctx, "operation failed after all attempts",
		"operation", op,
		"attempts", policy.MaxAttempts,
		"error", lastErr,
	)
	code := CodeOperationFailed
	if isRateLimited(lastErr) {
		code = CodeRateLimited
	} else if isStaleBlockhash(lastErr) {
		code = CodeStaleBlockhash
	}
	return zero, newTransferError(code, op,
		fmt.Errorf("failed after %d attempts: %w", policy.MaxAttempts, lastErr))
}

// withTimeout races fn against a timer. On expiry the in-flight call is
// abandoned: it keeps the parent context and may complete in the background,
// but its result is discarded. No cancellation signal is sent downstream
// because a submitted RPC request cannot be unsent.
func withTimeout[T any](ctx context.Context, c *Client, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(ctx)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		c.logger.WarnContext(ctx, "operation abandoned, context done",
			"operation", op,
			"error", ctx.Err(),
		)
		return zero, newTransferError(CodeTimeout, op, ctx.Err())
	case <-timer.C:
		c.logger.WarnContext(ctx, "operation timed out",
			"operation", op,
			"timeout", timeout,
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(op, "timeout")
		}
		return zero, newTransferError(CodeTimeout, op,
			fmt.Errorf("timed out after %s", timeout))
	}
}
