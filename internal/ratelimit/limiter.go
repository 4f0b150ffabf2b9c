// internal/ratelimit/limiter.go
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed   bool
	Remaining int
}

// window tracks one user's usage inside the current fixed window.
type window struct {
	count   int
	startAt time.Time
}

// Limiter enforces a per-user fixed-window budget. Session creation consumes
// the budget; individual actions do not. The check-and-increment happens
// under one lock so two concurrent requests can never both observe the last
// remaining slot.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	cap    int
	length time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New creates a limiter allowing cap uses per user per window length.
func New(cap int, length time.Duration, logger *zap.Logger) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		cap:     cap,
		length:  length,
		now:     time.Now,
		logger:  logger.Named("ratelimit"),
	}
}

// Check atomically consumes one unit of the user's budget if any remains.
// Absence of prior state means "no usage yet", never an error. An expired
// window restarts at zero before the increment.
func (l *Limiter) Check(userID string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[userID]
	if w == nil || now.Sub(w.startAt) >= l.length {
		w = &window{startAt: now}
		l.windows[userID] = w
	}

	if w.count >= l.cap {
		l.logger.Debug("Rate limit exceeded",
			zap.String("user_id", userID),
			zap.Int("count", w.count),
			zap.Time("window_start", w.startAt),
		)
		return Result{Allowed: false, Remaining: 0}
	}

	w.count++
	return Result{Allowed: true, Remaining: l.cap - w.count}
}

// Peek reports the user's remaining budget without consuming it.
func (l *Limiter) Peek(userID string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[userID]
	if w == nil || now.Sub(w.startAt) >= l.length {
		return Result{Allowed: true, Remaining: l.cap}
	}

	remaining := l.cap - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: remaining > 0, Remaining: remaining}
}

// Prune drops windows that expired before the cutoff, bounding memory for
// long-running processes. Safe to call from a background ticker.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, w := range l.windows {
		if now.Sub(w.startAt) >= l.length {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}
