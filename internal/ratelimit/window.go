// Package ratelimit implements the sliding-window counter the detection
// engine uses for velocity checks: "has this key exceeded N events in W
// milliseconds." Keys are arbitrary strings (domain, tab id, database
// name, API name).
//
// This is a heuristic defense, not a security boundary: clock skew is not
// compensated, and a caller passing an out-of-order timestamp may
// under-count.
package ratelimit

import (
	"sync"
	"time"
)

// Policy selects how stale entries are discarded.
type Policy int

const (
	// PrunePerKey drops expired timestamps lazily on each check. Precise,
	// slightly more bookkeeping.
	PrunePerKey Policy = iota
	// GlobalReset clears the whole map once per window. Coarse but cheap;
	// some callers prefer it for very hot keys.
	GlobalReset
)

// Config defines a limiter. Threshold and window are per-caller: 10
// downloads/min per domain and 100 writes/min per database are different
// limiters, not different keys of one.
type Config struct {
	Window    time.Duration
	Threshold int
	Policy    Policy
}

// Status reports the outcome of a check.
type Status struct {
	Allowed bool
	Count   int
}

// Limiter is a sliding-window counter over string keys. Safe for
// concurrent use.
type Limiter struct {
	mu        sync.Mutex
	cfg       Config
	entries   map[string][]time.Time
	lastReset time.Time
}

// New creates a limiter. Zero window defaults to one minute; zero
// threshold defaults to 10.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	return &Limiter{
		cfg:       cfg,
		entries:   make(map[string][]time.Time),
		lastReset: time.Now(),
	}
}

// Allow prunes the key's window, then either rejects (count already at
// threshold) or records now and accepts. This is the common
// check-then-record path and runs atomically under the limiter lock.
func (l *Limiter) Allow(key string, now time.Time) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeReset(now)
	kept := l.pruneLocked(key, now)
	if len(kept) >= l.cfg.Threshold {
		return Status{Allowed: false, Count: len(kept)}
	}
	l.entries[key] = append(kept, now)
	return Status{Allowed: true, Count: len(kept) + 1}
}

// Check reports the key's standing without recording an event.
func (l *Limiter) Check(key string, now time.Time) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeReset(now)
	kept := l.pruneLocked(key, now)
	if len(kept) > 0 {
		l.entries[key] = kept
	}
	return Status{Allowed: len(kept) < l.cfg.Threshold, Count: len(kept)}
}

// Record registers an event for the key without a threshold decision.
func (l *Limiter) Record(key string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeReset(now)
	l.entries[key] = append(l.pruneLocked(key, now), now)
}

// Keys returns the number of tracked keys.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// pruneLocked returns the key's timestamps within the window, dropping the
// rest. Invariant: everything returned is >= now - window.
func (l *Limiter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.cfg.Window)
	stamps := l.entries[key]
	i := 0
	for ; i < len(stamps); i++ {
		if !stamps[i].Before(cutoff) {
			break
		}
	}
	if i == 0 {
		return stamps
	}
	if i == len(stamps) {
		delete(l.entries, key)
		return nil
	}
	return stamps[i:]
}

func (l *Limiter) maybeReset(now time.Time) {
	if l.cfg.Policy != GlobalReset {
		return
	}
	if now.Sub(l.lastReset) >= l.cfg.Window {
		l.entries = make(map[string][]time.Time)
		l.lastReset = now
	}
}
