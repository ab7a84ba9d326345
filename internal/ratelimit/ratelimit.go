// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ratelimit provides a keyed fixed-window attempt counter used to
// throttle authentication flows.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter counts attempts per (key, action) pair within a fixed window.
// Check and increment happen under one lock, so two concurrent attempts
// cannot both claim the last slot.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[counterKey]*counter

	now func() time.Time
}

type counterKey struct {
	key    string
	action string
}

type counter struct {
	count       int
	windowStart time.Time
}

// New creates a Limiter allowing limit attempts per key and action within
// each window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:    limit,
		window:   window,
		counters: make(map[counterKey]*counter),
		now:      time.Now,
	}
}

// Allow records an attempt for key and action. It returns true if the
// attempt is within the limit. When throttled it returns false and the
// duration after which a retry is evaluated fresh.
func (l *Limiter) Allow(key, action string) (retryAfter time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := counterKey{key: key, action: action}

	c, exists := l.counters[k]
	if !exists || now.Sub(c.windowStart) >= l.window {
		l.counters[k] = &counter{count: 1, windowStart: now}
		return 0, true
	}

	if c.count < l.limit {
		c.count++
		return 0, true
	}

	return c.windowStart.Add(l.window).Sub(now), false
}

// Prune drops counters whose window has elapsed. Meant to be called
// periodically so idle keys do not accumulate.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, c := range l.counters {
		if now.Sub(c.windowStart) >= l.window {
			delete(l.counters, k)
		}
	}
}

// Len returns the number of tracked counters.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
