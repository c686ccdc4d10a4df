package automation

import (
	"sync"
	"time"
)

const (
	ruleCapWindow   = time.Hour
	globalCapWindow = time.Minute
)

// Limiter answers "may this rule fire now?" with two tiers of gating:
// per-rule (cooldown + sliding hourly cap) and global (cooldown + sliding
// per-minute cap). The global tier bounds total action volume so a terminal
// stuck repeating an error string can never cause unbounded keystroke
// injection, no matter how many rules match.
//
// Limiter state is shared by every monitored session in the process; all
// methods are safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	rules map[string]*ruleWindow

	globalCooldown time.Duration
	maxPerMinute   int
	lastGlobal     time.Time
	globalFires    []time.Time
}

type ruleWindow struct {
	lastFired time.Time
	fires     []time.Time // trailing-hour trigger timestamps
}

// NewLimiter creates a limiter with the given global limits.
func NewLimiter(globalCooldown time.Duration, maxPerMinute int) *Limiter {
	return &Limiter{
		rules:          make(map[string]*ruleWindow),
		globalCooldown: globalCooldown,
		maxPerMinute:   maxPerMinute,
	}
}

// SetGlobalLimits updates the global cooldown and per-minute cap. Called when
// the engine configuration changes.
func (l *Limiter) SetGlobalLimits(globalCooldown time.Duration, maxPerMinute int) {
	l.mu.Lock()
	l.globalCooldown = globalCooldown
	l.maxPerMinute = maxPerMinute
	l.mu.Unlock()
}

// MayFire reports whether the rule could fire at now without spending a
// slot. Evaluation uses this for its read-only gate; the decision to commit
// happens only at fire time via TryAcquire.
func (l *Limiter) MayFire(ruleID string, cooldown time.Duration, maxPerHour int, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mayFireLocked(ruleID, cooldown, maxPerHour, now)
}

// TryAcquire atomically checks the gates and, if all pass, records the firing
// in both the rule's and the global sliding windows. Check and commit happen
// under one lock acquisition so concurrent session ticks cannot both spend
// the last global slot.
func (l *Limiter) TryAcquire(ruleID string, cooldown time.Duration, maxPerHour int, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.mayFireLocked(ruleID, cooldown, maxPerHour, now) {
		return false
	}
	l.commitLocked(ruleID, now)
	return true
}

// Commit records a firing without re-checking the gates. Exposed for callers
// that performed the check themselves in a single-threaded context.
func (l *Limiter) Commit(ruleID string, now time.Time) {
	l.mu.Lock()
	l.commitLocked(ruleID, now)
	l.mu.Unlock()
}

// Forget drops tracked state for a deleted rule.
func (l *Limiter) Forget(ruleID string) {
	l.mu.Lock()
	delete(l.rules, ruleID)
	l.mu.Unlock()
}

func (l *Limiter) mayFireLocked(ruleID string, cooldown time.Duration, maxPerHour int, now time.Time) bool {
	// (a) per-rule cooldown: blocked strictly inside the window, allowed at
	// the boundary.
	rw := l.rules[ruleID]
	if rw != nil {
		if !rw.lastFired.IsZero() && now.Sub(rw.lastFired) < cooldown {
			return false
		}
		// (b) per-rule hourly cap
		if maxPerHour > 0 {
			rw.fires = pruneBefore(rw.fires, now.Add(-ruleCapWindow))
			if len(rw.fires) >= maxPerHour {
				return false
			}
		}
	}

	// (c) global cooldown
	if l.globalCooldown > 0 && !l.lastGlobal.IsZero() && now.Sub(l.lastGlobal) < l.globalCooldown {
		return false
	}

	// (d) global per-minute cap
	if l.maxPerMinute > 0 {
		l.globalFires = pruneBefore(l.globalFires, now.Add(-globalCapWindow))
		if len(l.globalFires) >= l.maxPerMinute {
			return false
		}
	}
	return true
}

func (l *Limiter) commitLocked(ruleID string, now time.Time) {
	rw := l.rules[ruleID]
	if rw == nil {
		rw = &ruleWindow{}
		l.rules[ruleID] = rw
	}
	rw.lastFired = now
	rw.fires = append(pruneBefore(rw.fires, now.Add(-ruleCapWindow)), now)

	l.lastGlobal = now
	l.globalFires = append(pruneBefore(l.globalFires, now.Add(-globalCapWindow)), now)
}

// pruneBefore drops timestamps at or before cutoff, keeping the slice sorted.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
