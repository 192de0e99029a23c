// Copyright 2025 The pg-session-jwt Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry manages backoff state for retry loops.
package retry

import (
	"context"
	"time"
)

// Retry manages backoff state for retry loops.
// Use the iterator-style StartAttempt method to implement retry logic.
//
// Example usage:
//
//	r := retry.New(100*time.Millisecond, 30*time.Second)
//	for {
//	    if err := r.StartAttempt(ctx); err != nil {
//	        return err // Context cancelled or timed out
//	    }
//	    result, err := makeAPICall()
//	    if err == nil {
//	        return result // Success!
//	    }
//	    // Will backoff before next attempt
//	}
type Retry struct {
	cfg     retryConfig
	attempt int
	timer   Timer
}

// retryConfig holds the configuration for retry behavior.
type retryConfig struct {
	// BaseDelay is the base delay for exponential backoff (delay = baseDelay × 2^attempt).
	// With Full Jitter, actual delays range from 0 to the computed delay.
	// Required.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retry attempts.
	// Computed delays exceeding this value will be capped.
	// Required.
	MaxDelay time.Duration

	// InitialDelay adds a delay before the first attempt (attempt 0).
	// Useful when you've already tried once before calling StartAttempt().
	// Default: false (call operation immediately)
	InitialDelay bool

	// backoff strategy for calculating delays between retries.
	// Defaults to exponential backoff with full jitter.
	backoff backoff
}

// Option is a functional option for configuring a Retry.
type Option func(*retryConfig)

// WithInitialDelay configures the retry to add a delay before the first attempt.
// Use this when you've already tried once before calling StartAttempt().
func WithInitialDelay() Option {
	return func(c *retryConfig) { c.InitialDelay = true }
}

// WithConstantDelay replaces the default jittered exponential strategy with a
// fixed delay per attempt. Use this for polling loops where predictable
// intervals matter more than load spreading (for example, waiting on a stale
// pid file to disappear).
func WithConstantDelay() Option {
	return func(c *retryConfig) { c.backoff = constantBackoff{delay: c.BaseDelay} }
}

// New creates a new Retry with the given baseDelay and maxDelay, plus optional
// configuration. Panics if the parameters are invalid (represents a coding error).
//
// The default backoff strategy is exponential backoff with full jitter, which
// provides maximum randomization to prevent thundering herd problems.
func New(baseDelay, maxDelay time.Duration, opts ...Option) *Retry {
	if baseDelay <= 0 {
		panic("retry: BaseDelay must be positive")
	}
	if maxDelay <= 0 {
		panic("retry: MaxDelay must be positive")
	}
	if baseDelay > maxDelay {
		panic("retry: BaseDelay cannot be greater than MaxDelay")
	}

	cfg := retryConfig{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		backoff:   newExponentialFullJitterBackoff(baseDelay, maxDelay),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &Retry{
		cfg:   cfg,
		timer: realTimer{},
	}
}

// StartAttempt prepares for the next retry attempt by waiting for the backoff delay.
// On the first call (attempt 0), it returns immediately unless WithInitialDelay was
// configured. On subsequent calls, it waits for the strategy's delay.
//
// Returns:
//   - nil if the caller should proceed with the next attempt
//   - ctx.Err() if the context was cancelled or timed out during the wait
func (r *Retry) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shouldWait := r.attempt > 0 || r.cfg.InitialDelay

	if shouldWait {
		delay := r.cfg.backoff.nextDelay()

		select {
		case <-r.timer.After(delay):
			// Delay completed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.attempt++

	return nil
}

// Attempt returns the current attempt number (1-indexed after first StartAttempt call).
// Returns 0 before the first call to StartAttempt.
func (r *Retry) Attempt() int {
	return r.attempt
}

// Reset resets the backoff state to the initial delay.
//
// Note: Reset only affects the backoff calculation. The attempt counter returned
// by Attempt() is never reset and continues to increment monotonically.
func (r *Retry) Reset() {
	r.cfg.backoff.reset()
}
