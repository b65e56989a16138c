// Package ratelimit gates outgoing chat messages behind a cooldown and a
// sliding per-minute window. It never touches the network: the only side
// effects are internal state and listener notification.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the rate-limit policy knobs. Both deployment profiles of the
// chat widget (with and without a cooldown) are expressible here — nothing
// is hard-coded.
type Config struct {
	// Cooldown is the minimum delay between two accepted sends.
	// Zero disables the cooldown check entirely.
	Cooldown time.Duration

	// MaxPerWindow is the maximum number of sends inside the sliding window.
	MaxPerWindow int

	// MaxMessageChars rejects candidate texts longer than this before any
	// budget is consumed. Zero disables the check.
	MaxMessageChars int

	// Window is the sliding-window duration. Defaults to one minute.
	Window time.Duration
}

// DefaultConfig returns the policy used by the richer chat variant:
// 3s cooldown, 10 sends/minute, 200 characters per message.
func DefaultConfig() Config {
	return Config{
		Cooldown:        3 * time.Second,
		MaxPerWindow:    10,
		MaxMessageChars: 200,
		Window:          time.Minute,
	}
}

// Decision is the result of a CanSend check. When Allowed is false,
// RetryAfter tells the UI how long its countdown should run and Reason
// carries the user-facing explanation.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// InWindow is the number of accepted sends still inside the window.
	InWindow int
	Reason   string
}

// Limiter tracks send timestamps within a sliding window plus a fixed
// cooldown. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	sends    []time.Time
	lastSend time.Time
	subs     map[int]func()
	nextSub  int
	cooldown *time.Timer
	now      func() time.Time
}

// New returns a Limiter with the given policy. Zero-value fields fall back
// to DefaultConfig where a zero would make the limiter unusable.
func New(cfg Config) *Limiter {
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = DefaultConfig().MaxPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Limiter{
		cfg:  cfg,
		subs: make(map[int]func()),
		now:  time.Now,
	}
}

// CanSend reports whether candidate may be sent right now. It consumes no
// budget — a rejected send never counts against the window.
func (l *Limiter) CanSend(candidate string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if l.cfg.MaxMessageChars > 0 && len(candidate) > l.cfg.MaxMessageChars {
		return Decision{
			InWindow: len(l.sends),
			Reason:   fmt.Sprintf("message exceeds %d characters", l.cfg.MaxMessageChars),
		}
	}

	if l.cfg.Cooldown > 0 && !l.lastSend.IsZero() {
		if elapsed := now.Sub(l.lastSend); elapsed < l.cfg.Cooldown {
			return Decision{
				RetryAfter: l.cfg.Cooldown - elapsed,
				InWindow:   len(l.sends),
				Reason:     "cooldown between messages is still active",
			}
		}
	}

	if len(l.sends) >= l.cfg.MaxPerWindow {
		// The window frees up when its oldest send slides out.
		retryAfter := l.sends[0].Add(l.cfg.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{
			RetryAfter: retryAfter,
			InWindow:   len(l.sends),
			Reason:     fmt.Sprintf("limit of %d messages per minute reached", l.cfg.MaxPerWindow),
		}
	}

	return Decision{Allowed: true, InWindow: len(l.sends)}
}

// RecordSend registers an accepted send: it pushes the current timestamp,
// prunes stale ones, notifies subscribers, and arms a timer that re-notifies
// them exactly when the cooldown expires so UI countdowns reach zero without
// polling.
func (l *Limiter) RecordSend() {
	l.mu.Lock()

	now := l.now()
	l.sends = append(l.sends, now)
	l.lastSend = now
	l.pruneLocked(now)

	if l.cfg.Cooldown > 0 {
		if l.cooldown != nil {
			l.cooldown.Stop()
		}
		l.cooldown = time.AfterFunc(l.cfg.Cooldown, l.notify)
	}

	l.mu.Unlock()
	l.notify()
}

// ActiveInWindow returns the number of accepted sends still inside the
// sliding window. The UI reads this to render quota feedback.
func (l *Limiter) ActiveInWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return len(l.sends)
}

// Subscribe registers fn to be called whenever the limiter's state changes
// (a send is recorded, or the cooldown expires). The returned function
// removes the subscription.
func (l *Limiter) Subscribe(fn func()) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

// Close stops the cooldown timer. Pending notifications are dropped.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cooldown != nil {
		l.cooldown.Stop()
		l.cooldown = nil
	}
}

// notify invokes every subscriber outside the lock so a listener may call
// back into the limiter.
func (l *Limiter) notify() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// pruneLocked drops timestamps that have fallen outside the window.
// Must be called with mu held.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	valid := l.sends[:0] // reuse backing array
	for _, t := range l.sends {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	l.sends = valid
}
