// Package ferrors provides structured error types and recovery mechanisms
package ferrors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines how retry attempts should be executed
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retry attempts (0 = no retries)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor to multiply the delay by after each attempt
	Multiplier float64

	// Jitter adds randomness to the delay to prevent thundering herd
	// Value should be between 0.0 and 1.0
	// 0.0 = no jitter, 1.0 = full jitter (delay can be 0 to 2x calculated delay)
	Jitter float64

	// RetryableErrors defines which error categories should be retried
	// If nil, only errors marked as Retryable will be retried
	RetryableErrors map[ErrorCategory]bool
}

// DefaultRetryPolicy returns a sensible default retry policy for upstream
// dials and tunnel reconnects
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		RetryableErrors: map[ErrorCategory]bool{
			CategoryIO:     true,
			CategoryTProxy: true,
		},
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithPolicy executes a function with retry logic based on the policy.
// Returns the last error if all attempts fail.
func RetryWithPolicy(ctx context.Context, policy *RetryPolicy, fn RetryableFunc) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !policy.shouldRetry(err) {
			return err
		}

		if attempt >= policy.MaxAttempts {
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", policy.MaxAttempts, err)
		}

		delay := policy.calculateDelay(attempt)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}

// Retry executes a function with the default retry policy
func Retry(ctx context.Context, fn RetryableFunc) error {
	return RetryWithPolicy(ctx, DefaultRetryPolicy(), fn)
}

// shouldRetry determines if an error should be retried based on the policy
func (p *RetryPolicy) shouldRetry(err error) bool {
	if IsRetryable(err) {
		return true
	}

	if p.RetryableErrors != nil {
		category := GetCategory(err)
		return p.RetryableErrors[category]
	}

	return false
}

// calculateDelay calculates the delay for a given attempt with exponential
// backoff and jitter
func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		jitterAmount := delay * p.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterAmount

		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}
