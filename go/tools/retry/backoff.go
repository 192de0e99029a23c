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

package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Timer abstracts time.After so tests can avoid real sleeps.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// backoff calculates retry delays and manages backoff state.
// Implementations determine the backoff strategy (exponential, constant, etc.).
//
// Implementations must be thread-safe as reset() may be called from a different
// goroutine than nextDelay().
type backoff interface {
	// nextDelay calculates and returns the next delay, then advances the internal state.
	nextDelay() time.Duration

	// reset resets the backoff state to initial values.
	reset()
}

// constantBackoff returns the same delay for every attempt.
type constantBackoff struct {
	delay time.Duration
}

func (c constantBackoff) nextDelay() time.Duration { return c.delay }
func (c constantBackoff) reset()                   {}

// exponentialFullJitterBackoff implements exponential backoff with Full Jitter:
// sleep = random_between(0, min(cap, base * 2^attempt))
//
// Full Jitter provides maximum randomization to prevent thundering herd problems
// where multiple clients retry at the same time, causing synchronized load spikes.
//
// Reference: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type exponentialFullJitterBackoff struct {
	baseDelay     time.Duration
	maxDelay      time.Duration
	rng           *rand.Rand
	disableJitter bool // For deterministic testing

	mu      sync.Mutex
	attempt int // Current attempt number (0-indexed), protected by mu
}

func newExponentialFullJitterBackoff(baseDelay, maxDelay time.Duration) *exponentialFullJitterBackoff {
	return &exponentialFullJitterBackoff{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// newExponentialBackoffNoJitter creates a backoff without jitter (for testing).
func newExponentialBackoffNoJitter(baseDelay, maxDelay time.Duration) *exponentialFullJitterBackoff {
	return &exponentialFullJitterBackoff{
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		disableJitter: true,
	}
}

// nextDelay calculates the next delay using exponential backoff with full jitter,
// then increments the internal attempt counter.
func (e *exponentialFullJitterBackoff) nextDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	attempt := e.attempt

	// Shifting more than 62 bits would overflow int64.
	if attempt > 62 {
		attempt = 62
	}

	multiplier := int64(1 << attempt)
	baseDelayInt := int64(e.baseDelay)

	var delay time.Duration
	if baseDelayInt > 0 && multiplier > math.MaxInt64/baseDelayInt {
		delay = e.maxDelay
	} else {
		delay = time.Duration(baseDelayInt * multiplier)
		if delay > e.maxDelay {
			delay = e.maxDelay
		}
	}

	// Full Jitter: randomize between 0 and the computed delay.
	// rand.Rand is not thread-safe, so call it while holding the mutex.
	if !e.disableJitter {
		delay = time.Duration(float64(delay) * e.rng.Float64())
	}

	e.attempt++

	return delay
}

func (e *exponentialFullJitterBackoff) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempt = 0
}
