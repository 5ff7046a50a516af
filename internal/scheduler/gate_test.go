package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	clocktest "k8s.io/utils/clock/testing"

	"github.com/fieldkit/flowqueue/internal/ratelimit"
	"github.com/fieldkit/flowqueue/pkg/types"
)

func jobFor(user types.UserID, branch string) *types.Job {
	return &types.Job{JobID: types.JobID(user + "-" + types.UserID(branch)), UserID: user, BranchID: branch}
}

func TestGateRejectsOverGlobalWorkerCap(t *testing.T) {
	g := NewGate(1, 10, nil, nil, nil)

	require.True(t, g.Admit(jobFor("alice", "a")))
	require.False(t, g.Admit(jobFor("bob", "b")))
}

func TestGateRejectsOverActiveUserCap(t *testing.T) {
	g := NewGate(10, 1, nil, nil, nil)

	require.True(t, g.Admit(jobFor("alice", "a")))
	// alice again is fine: she's already active, doesn't consume a new slot.
	require.True(t, g.Admit(jobFor("alice", "b")))
	// bob is a brand new user and the cap is already saturated.
	require.False(t, g.Admit(jobFor("bob", "c")))
}

func TestGateRejectsSameUserBranchConcurrently(t *testing.T) {
	g := NewGate(10, 10, nil, nil, nil)

	require.True(t, g.Admit(jobFor("alice", "main")))
	require.False(t, g.Admit(jobFor("alice", "main")))
}

func TestGateReleaseFreesCapacity(t *testing.T) {
	g := NewGate(1, 10, nil, nil, nil)
	job := jobFor("alice", "a")

	require.True(t, g.Admit(job))
	require.False(t, g.Admit(jobFor("bob", "b")))

	g.Release(job)
	require.True(t, g.Admit(jobFor("bob", "b")))
}

func TestGateRejectsOverRateLimit(t *testing.T) {
	fc := clocktest.NewFakeClock(time.Unix(0, 0))
	limiter := ratelimit.New(1, time.Minute, clock.Clock(fc))
	g := NewGate(10, 10, limiter, nil, nil)

	require.True(t, g.Admit(jobFor("alice", "a")))
	require.False(t, g.Admit(jobFor("alice", "b")))
}

func TestGateRateLimitNotConsumedWhenOtherConditionsFail(t *testing.T) {
	fc := clocktest.NewFakeClock(time.Unix(0, 0))
	limiter := ratelimit.New(5, time.Minute, clock.Clock(fc))
	g := NewGate(1, 10, limiter, nil, nil)

	require.True(t, g.Admit(jobFor("alice", "a")))
	// Rejected on the global worker cap (W), before R is ever evaluated —
	// bob's rate-limit slot must still be untouched.
	require.False(t, g.Admit(jobFor("bob", "b")))
	require.Equal(t, 0, limiter.Count(types.UserID("bob")))
}

func TestGateReleaseKeepsUserActiveWhilePendingJobExists(t *testing.T) {
	hasPending := true
	g := NewGate(10, 1, nil, func(types.UserID) bool { return hasPending }, nil)
	job1 := jobFor("alice", "a")
	job2 := jobFor("alice", "b")

	require.True(t, g.Admit(job1))
	require.Equal(t, 1, g.ActiveUsers())

	// alice's only running job finishes, but she still has a job queued —
	// she must keep her fairness slot (spec.md §4.6), so bob cannot sneak
	// into the single active-user cap.
	g.Release(job1)
	require.Equal(t, 1, g.ActiveUsers())
	require.False(t, g.Admit(jobFor("bob", "c")))

	// alice's next branch dispatches instead (still her own slot, not a new one).
	require.True(t, g.Admit(job2))
	require.Equal(t, 1, g.ActiveUsers())

	// Once alice genuinely has nothing left queued, her slot frees up.
	hasPending = false
	g.Release(job2)
	require.Equal(t, 0, g.ActiveUsers())
	require.True(t, g.Admit(jobFor("bob", "c")))
}

func TestGateInvokesOnRateLimitedOnlyForActualRateLimitRejection(t *testing.T) {
	fc := clocktest.NewFakeClock(time.Unix(0, 0))
	limiter := ratelimit.New(2, time.Minute, clock.Clock(fc))

	var notified []types.UserID
	g := NewGate(1, 10, limiter, nil, func(u types.UserID) { notified = append(notified, u) })

	require.True(t, g.Admit(jobFor("alice", "a")))
	g.Release(jobFor("alice", "a"))

	require.True(t, g.Admit(jobFor("alice", "b")))
	g.Release(jobFor("alice", "b"))

	// alice's third admission in the window exceeds her limit of 2 — rejected
	// by R specifically, with W, U, and B all satisfied.
	require.False(t, g.Admit(jobFor("alice", "c")))
	require.Equal(t, []types.UserID{"alice"}, notified)
}
