// Package ratelimit bounds how often expensive mediation work runs. The
// counter lives in Redis so the bound holds across instances; when Redis is
// unreachable an in-process window enforces the same bound rather than
// failing open.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrRateLimited is returned by Allow when the bound is hit. Callers use
// errors.Is to tell rejection apart from internal failure.
var ErrRateLimited = errors.New("rate limited")

// Counter increments a named counter and reports its value and remaining
// window. The first increment in a window starts the window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Result is the outcome of one limit check.
type Result struct {
	Allowed   bool
	Count     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter applies a fixed-window limit through a distributed counter, with a
// local counter standing in during outages.
type Limiter struct {
	counter Counter
	local   *localCounter
	logger  *slog.Logger

	mu         sync.Mutex
	inFallback bool
}

// LimiterOptions configures a Limiter. A nil Counter means local-only.
type LimiterOptions struct {
	Counter Counter
	Logger  *slog.Logger
}

func NewLimiter(opts LimiterOptions) *Limiter {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &Limiter{
		counter: opts.Counter,
		local:   newLocalCounter(),
		logger:  opts.Logger,
	}
}

// Check counts one hit against name's window and reports whether it fits
// under max. On counter failure the local window takes over with the same
// max; the switch is logged once per outage.
func (l *Limiter) Check(ctx context.Context, name string, max int64, window time.Duration) Result {
	key := "rate_limit:" + name

	count, ttl, err := l.incr(ctx, key, window)
	if err != nil {
		l.noteFallback(name, err)
		count, ttl, _ = l.local.Incr(ctx, key, window)
	} else {
		l.noteRecovery()
	}

	if ttl <= 0 {
		ttl = window
	}
	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= max,
		Count:     count,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}
}

// Allow is Check with a typed rejection: it returns ErrRateLimited when the
// bound is hit.
func (l *Limiter) Allow(ctx context.Context, name string, max int64, window time.Duration) (Result, error) {
	res := l.Check(ctx, name, max, window)
	if !res.Allowed {
		return res, fmt.Errorf("%s: %w", name, ErrRateLimited)
	}
	return res, nil
}

func (l *Limiter) incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if l.counter == nil {
		return 0, 0, errors.New("no counter configured")
	}
	return l.counter.Incr(ctx, key, window)
}

func (l *Limiter) noteFallback(name string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inFallback {
		l.inFallback = true
		l.logger.Warn("rate limit counter unavailable, enforcing locally", "name", name, "error", err)
	}
}

func (l *Limiter) noteRecovery() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFallback {
		l.inFallback = false
		l.logger.Info("rate limit counter recovered")
	}
}

// localCounter is a fixed-window in-process counter.
type localCounter struct {
	mu      sync.Mutex
	windows map[string]*localWindow
}

type localWindow struct {
	count   int64
	resetAt time.Time
}

func newLocalCounter() *localCounter {
	return &localCounter{windows: map[string]*localWindow{}}
}

func (c *localCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	w := c.windows[key]
	if w == nil || now.After(w.resetAt) {
		w = &localWindow{resetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}
