// Package scheduler implements the Admission Gate and Dispatcher (spec
// components C4 and C5) — the heart of the system. Structurally this is a
// generalization of the teacher's internal/controller dispatch loop: same
// mutex-guarded bookkeeping, same "batch a pass, back off if nothing
// happened" dispatch idiom, but the decision of "may this job run right
// now" is now a four-part predicate instead of a flat FIFO pop.
package scheduler

import (
	"sync"

	"github.com/fieldkit/flowqueue/internal/ratelimit"
	"github.com/fieldkit/flowqueue/pkg/types"
)

// Gate is the Admission Gate: a pure-ish predicate over four conditions,
// checked in the order W, B, U, then R —
//
//	W: fewer than MaxWorkers jobs are currently RUNNING globally
//	U: the job's user is already active, or fewer than MaxActiveUsers
//	   distinct users are currently active (tenant fairness)
//	B: no other job from the same (user, branch) is currently RUNNING
//	R: the user's rate limiter has a free slot right now
//
// All four must hold for a job to be admitted. Order matters: R is the only
// condition with a side effect (it consumes a rate-limit slot), so it is
// evaluated last — a job that would fail W, U, or B must never burn a rate
// limit slot it won't use (spec.md §4.4).
type Gate struct {
	mu sync.Mutex

	maxWorkers     int
	maxActiveUsers int

	activeWorkers int

	// runningCountByUser tracks how many of a user's jobs are RUNNING right
	// now; an entry is removed as soon as the count reaches zero.
	runningCountByUser map[types.UserID]int

	// activeUsers is the fairness-slot set (spec.md §3: "users with ≥1
	// RUNNING job has cardinality ≤ MaxActiveUsers"). It is deliberately
	// NOT just "runningCountByUser > 0": a user whose last job just
	// finished keeps its slot here until Release confirms it has no
	// PENDING job left, so a tenant draining between two of its own jobs
	// never loses its place to a different user's job on the very next
	// dispatch pass (spec.md §4.6, grounded on
	// original_source/app/scheduler.py's _running_count_by_user /
	// _active_users split).
	activeUsers   map[types.UserID]bool
	runningBranch map[types.UserBranch]bool

	limiter *ratelimit.Limiter

	// hasPendingForUser reports whether user still has a queued job, used
	// by Release to decide whether a drained user keeps its active-user
	// slot. May be nil only in tests that don't exercise that edge.
	hasPendingForUser func(types.UserID) bool

	// onRateLimited, if set, is called exactly when a job clears W, U, and
	// B but is rejected by R — the one rejection cause precise enough to
	// be worth a dedicated metric (spec.md §4.10's scheduler_rate_limited_total).
	onRateLimited func(types.UserID)
}

// NewGate builds a Gate with the given global worker cap, tenant-fairness
// cap, and rate limiter. hasPendingForUser backs the drained-user check in
// Release (spec.md §4.6) and onRateLimited may be nil.
func NewGate(maxWorkers, maxActiveUsers int, limiter *ratelimit.Limiter, hasPendingForUser func(types.UserID) bool, onRateLimited func(types.UserID)) *Gate {
	return &Gate{
		maxWorkers:         maxWorkers,
		maxActiveUsers:     maxActiveUsers,
		runningCountByUser: make(map[types.UserID]int),
		activeUsers:        make(map[types.UserID]bool),
		runningBranch:      make(map[types.UserBranch]bool),
		limiter:            limiter,
		hasPendingForUser:  hasPendingForUser,
		onRateLimited:      onRateLimited,
	}
}

// Admit evaluates W∧U∧B∧R for job and, only if every condition holds,
// commits the bookkeeping (increments active workers, marks the user
// active, marks the branch occupied) and consumes a rate-limit slot. A
// rejected Admit commits no bookkeeping and consumes no rate-limit slot; its
// only effect is the onRateLimited call when R is the condition that fails.
//
// Admit must only be called from the single dispatcher goroutine (spec.md
// §4: the dispatcher is not itself concurrent). It briefly drops its own
// lock around the rate-limiter call so lock ordering never nests
// gate-then-limiter inside a held gate lock; that window is safe only
// because no second caller is ever racing it for the same decision.
func (g *Gate) Admit(job *types.Job) bool {
	g.mu.Lock()

	if g.activeWorkers >= g.maxWorkers {
		g.mu.Unlock()
		return false
	}

	ub := types.UserBranch{UserID: job.UserID, BranchID: job.BranchID}
	if g.runningBranch[ub] {
		g.mu.Unlock()
		return false
	}

	userAlreadyActive := g.activeUsers[job.UserID]
	if !userAlreadyActive && len(g.activeUsers) >= g.maxActiveUsers {
		g.mu.Unlock()
		return false
	}

	// R is last and side-effecting: release the gate's own lock first so
	// the limiter's lock is never held nested inside it (lock ordering must
	// stay gate -> limiter, never reversed, to avoid deadlock with any
	// future caller that inspects the limiter directly).
	g.mu.Unlock()

	if g.limiter != nil && !g.limiter.TryAdmit(job.UserID) {
		if g.onRateLimited != nil {
			g.onRateLimited(job.UserID)
		}
		return false
	}

	g.mu.Lock()
	g.activeWorkers++
	g.runningCountByUser[job.UserID]++
	g.activeUsers[job.UserID] = true
	g.runningBranch[ub] = true
	g.mu.Unlock()
	return true
}

// Release undoes the bookkeeping Admit committed for job once it has
// reached a terminal state. Never call Release for a job that Admit
// rejected.
//
// A user's activeUsers slot is freed only once its running count reaches
// zero AND it has no PENDING job left (spec.md §4.6, §8 boundary
// behavior). The hasPendingForUser check runs with the gate lock released
// — it calls into the branch queue set, and the established lock order is
// queues -> gate (the dispatcher acquires them in that order every pass),
// so never hold g.mu while making that call.
func (g *Gate) Release(job *types.Job) {
	g.mu.Lock()
	g.activeWorkers--
	ub := types.UserBranch{UserID: job.UserID, BranchID: job.BranchID}
	delete(g.runningBranch, ub)

	n := g.runningCountByUser[job.UserID]
	if n <= 1 {
		delete(g.runningCountByUser, job.UserID)
	} else {
		g.runningCountByUser[job.UserID] = n - 1
	}
	drained := g.runningCountByUser[job.UserID] == 0
	g.mu.Unlock()

	if !drained {
		return
	}
	if g.hasPendingForUser != nil && g.hasPendingForUser(job.UserID) {
		return
	}

	g.mu.Lock()
	delete(g.activeUsers, job.UserID)
	g.mu.Unlock()
}

// ActiveWorkers reports the current global RUNNING count, for metrics.
func (g *Gate) ActiveWorkers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeWorkers
}

// ActiveUsers reports the current distinct active-user count, for metrics.
func (g *Gate) ActiveUsers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.activeUsers)
}
