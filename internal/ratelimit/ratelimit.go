// Package ratelimit implements the per-user sliding-window rate limiter
// (spec component C2): each user may start at most N jobs within any
// trailing window of duration D. Modeled on the admission check in
// original_source's app/scheduler.py (_within_rate_limit), reworked into a
// standalone, clock-injectable component so the Admission Gate can call it
// as a pure side-effecting predicate.
package ratelimit

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/fieldkit/flowqueue/pkg/types"
)

// Limiter tracks, per user, the timestamps of recently admitted jobs.
type Limiter struct {
	mu     sync.Mutex
	clock  clock.Clock
	limit  int
	window time.Duration

	// admissions holds admitted-at timestamps per user, oldest first. Pruned
	// lazily on the next TryAdmit/Count call for that user rather than on a
	// timer, since an idle user costs nothing to leave unpruned.
	admissions map[types.UserID][]time.Time
}

// New builds a Limiter allowing at most limit admissions per user within
// window. A limit of 0 or less admits nothing; callers should validate
// configuration before constructing one with such values.
func New(limit int, window time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Limiter{
		clock:      clk,
		limit:      limit,
		window:     window,
		admissions: make(map[types.UserID][]time.Time),
	}
}

// TryAdmit reports whether user may start another job right now. If it
// returns true, the attempt is recorded immediately — TryAdmit is the
// commit point, not just a check, mirroring the R condition in the
// admission gate's W∧U∧B∧R predicate (its side effect only happens when
// every earlier conjunct already passed).
func (l *Limiter) TryAdmit(user types.UserID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	pruned := l.pruneLocked(user, now)

	if len(pruned) >= l.limit {
		l.admissions[user] = pruned
		return false
	}

	l.admissions[user] = append(pruned, now)
	return true
}

// Count returns the number of admissions currently inside the window for
// user, without admitting anything. Used for observability only.
func (l *Limiter) Count(user types.UserID) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := l.pruneLocked(user, l.clock.Now())
	l.admissions[user] = pruned
	return len(pruned)
}

// pruneLocked drops timestamps that have aged out of the window. Caller
// holds l.mu.
func (l *Limiter) pruneLocked(user types.UserID, now time.Time) []time.Time {
	existing := l.admissions[user]
	if len(existing) == 0 {
		return existing
	}

	cutoff := now.Add(-l.window)
	i := 0
	for i < len(existing) && existing[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return existing
	}
	return append([]time.Time(nil), existing[i:]...)
}
