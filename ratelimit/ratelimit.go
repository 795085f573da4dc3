// Package ratelimit provides the fixed-window send gate used in front of
// links that are easy to flood, such as the Kaka hub's BLE characteristics.
//
// A denied call is not an error. Callers drop the send and fall back to
// whatever they last observed.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most max sends per window.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	now     func() time.Time
	started time.Time
	count   int
}

type Option func(*Limiter)

// WithClock replaces time.Now. Times returned by time.Now carry a monotonic
// reading, so window arithmetic is immune to wall-clock jumps.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a limiter for max sends per window. max <= 0 disables limiting.
func New(max int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{max: max, window: window, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// PerSecond is shorthand for New(max, time.Second).
func PerSecond(max int) *Limiter { return New(max, time.Second) }

// OkayToSend reports whether one more send fits in the current window and
// counts it if so.
func (l *Limiter) OkayToSend() bool {
	if l == nil || l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.started.IsZero() || now.Sub(l.started) >= l.window {
		l.started = now
		l.count = 0
	}
	if l.count < l.max {
		l.count++
		return true
	}
	return false
}

// Reset starts a fresh window on the next call.
func (l *Limiter) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.started = time.Time{}
	l.count = 0
	l.mu.Unlock()
}
