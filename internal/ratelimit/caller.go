package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trailbot/pkg/logger"
)

const (
	backoffInitial = 500 * time.Millisecond
	backoffMax     = 16 * time.Second
)

// RateLimitError — the upstream told us to back off. RetryAfter is the
// server-provided wait; zero falls back to one second.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Call — one external request with its retry contract.
type Call struct {
	Name     string
	Priority int // 1 = highest, shortest spacing
	Critical bool
	Fn       func(ctx context.Context) error
}

// Caller serializes the timing of external requests: minimum spacing
// scaled by priority, retry-after handling for rate limits, and capped
// exponential backoff for critical calls. It does not serialize the
// callers themselves beyond the spacing window.
type Caller struct {
	mu       sync.Mutex
	lastCall time.Time

	baseInterval time.Duration
	maxAttempts  int

	errMu           sync.Mutex
	consecutiveErrs int

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(baseInterval time.Duration, maxAttempts int) *Caller {
	if baseInterval <= 0 {
		baseInterval = 350 * time.Millisecond
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Caller{
		baseInterval: baseInterval,
		maxAttempts:  maxAttempts,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Do runs the call after the spacing window. Non-critical failures
// propagate on the first attempt; critical ones retry with backoff.
func (c *Caller) Do(ctx context.Context, call Call) error {
	if call.Priority < 1 {
		call.Priority = 1
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.waitTurn(ctx, call.Priority); err != nil {
			return err
		}

		err := call.Fn(ctx)
		if err == nil {
			c.resetErrors()
			return nil
		}
		lastErr = err

		var rle *RateLimitError
		if errors.As(err, &rle) {
			wait := rle.RetryAfter
			if wait <= 0 {
				wait = time.Second
			}
			logger.Info("call %s rate limited, sleeping %s", call.Name, wait)
			if serr := c.sleep(ctx, wait); serr != nil {
				return serr
			}
			continue
		}

		c.bumpErrors()
		if !call.Critical {
			return err
		}

		wait := backoffInitial << attempt
		if wait > backoffMax {
			wait = backoffMax
		}
		logger.Error("critical call %s failed (attempt %d/%d): %v", call.Name, attempt+1, c.maxAttempts, err)
		if serr := c.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("call %s exhausted %d attempts: %w", call.Name, c.maxAttempts, lastErr)
}

// ConsecutiveErrors — failures since the last success. Pollers use this
// to stop spinning against a dead dependency.
func (c *Caller) ConsecutiveErrors() int {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.consecutiveErrs
}

func (c *Caller) waitTurn(ctx context.Context, priority int) error {
	c.mu.Lock()
	spacing := c.baseInterval * time.Duration(priority)
	next := c.lastCall.Add(spacing)
	now := c.now()
	var wait time.Duration
	if now.Before(next) {
		wait = next.Sub(now)
	}
	c.lastCall = now.Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		return c.sleep(ctx, wait)
	}
	return nil
}

func (c *Caller) bumpErrors() {
	c.errMu.Lock()
	c.consecutiveErrs++
	c.errMu.Unlock()
}

func (c *Caller) resetErrors() {
	c.errMu.Lock()
	c.consecutiveErrs = 0
	c.errMu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
