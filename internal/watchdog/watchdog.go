// Package watchdog decides when an idle input stream should be forced back
// to the neutral command.
package watchdog

import (
	"sync"
	"time"
)

// Verdict is the outcome of one Evaluate call.
type Verdict int

const (
	NoAction Verdict = iota
	ForceNeutral
)

func (v Verdict) String() string {
	switch v {
	case NoAction:
		return "no_action"
	case ForceNeutral:
		return "force_neutral"
	default:
		return "unknown"
	}
}

// Watchdog tracks the last activity time and whether neutral has already
// been forced since then.
//
// Producers call RecordActivity; the pump loop calls Evaluate once per tick.
// Both fields live under one mutex so a concurrent RecordActivity can never
// leave the flag set against fresh activity.
type Watchdog struct {
	mu             sync.Mutex
	lastActivity   time.Time
	hasActivity    bool
	neutralApplied bool
}

// New returns a watchdog that has seen no activity.
// Until Arm or RecordActivity is called, the last activity is treated as
// infinitely far in the past.
func New() *Watchdog {
	return &Watchdog{}
}

// RecordActivity marks now as the most recent input and re-enables the
// neutral fallback.
func (w *Watchdog) RecordActivity(now time.Time) {
	w.mu.Lock()
	if !w.hasActivity || now.After(w.lastActivity) {
		w.lastActivity = now
	}
	w.hasActivity = true
	w.neutralApplied = false
	w.mu.Unlock()
}

// Arm starts a new idle period at now and clears the neutral flag.
// Used when a session starts so the first fallback happens one idle period
// after start rather than on the very first tick, and happens again for
// every session.
func (w *Watchdog) Arm(now time.Time) {
	w.mu.Lock()
	w.lastActivity = now
	w.hasActivity = true
	w.neutralApplied = false
	w.mu.Unlock()
}

// Evaluate returns ForceNeutral exactly once per idle period: when more than
// idle has elapsed since the last activity and neutral has not yet been
// forced. Returning ForceNeutral sets the flag.
func (w *Watchdog) Evaluate(now time.Time, idle time.Duration) Verdict {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.neutralApplied {
		return NoAction
	}
	if w.hasActivity && now.Sub(w.lastActivity) <= idle {
		return NoAction
	}
	w.neutralApplied = true
	return ForceNeutral
}

// NeutralApplied reports whether neutral has been forced since the last
// activity.
func (w *Watchdog) NeutralApplied() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.neutralApplied
}

// LastActivity returns the last activity time; ok is false before any.
func (w *Watchdog) LastActivity() (t time.Time, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity, w.hasActivity
}
