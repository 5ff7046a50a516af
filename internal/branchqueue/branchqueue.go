// Package branchqueue implements the Branch Queue Set (spec component C3):
// a FIFO lane per (user, workflow, branch), exposing only the head of each
// lane as a dispatch candidate. This is what turns "all pending jobs" into
// "the jobs that are actually eligible to run next" before the Admission
// Gate even looks at worker/user/rate limits.
package branchqueue

import (
	"sync"

	"github.com/fieldkit/flowqueue/pkg/types"
)

// Set holds one ordered queue of JobIDs per BranchKey.
type Set struct {
	mu     sync.Mutex
	queues map[types.BranchKey][]types.JobID
}

// New returns an empty Set.
func New() *Set {
	return &Set{queues: make(map[types.BranchKey][]types.JobID)}
}

// Append adds jobID to the tail of key's queue. Callers must append jobs in
// the same order the Store assigned them, or branch FIFO (invariant 7) is
// violated.
func (s *Set) Append(key types.BranchKey, jobID types.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[key] = append(s.queues[key], jobID)
}

// Head returns the job at the front of key's queue, if any.
func (s *Set) Head(key types.BranchKey) (types.JobID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[key]
	if len(q) == 0 {
		return "", false
	}
	return q[0], true
}

// PopHead removes and discards the job at the front of key's queue. It is
// the caller's responsibility to only call this once that job has left
// PENDING state — popping the head is what lets the next branch member
// become a dispatch candidate.
func (s *Set) PopHead(key types.BranchKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[key]
	if len(q) == 0 {
		return
	}
	if len(q) == 1 {
		delete(s.queues, key)
		return
	}
	s.queues[key] = q[1:]
}

// RemoveIfPresent removes jobID from key's queue wherever it sits — used
// when a PENDING job, head or not, is cancelled (spec.md §4.8: cancelling a PENDING job
// anywhere in its branch must not disturb the branch's remaining order). It
// reports whether the removed entry was the branch head, since that's the
// only case where a new job becomes dispatchable and the caller needs to
// wake the dispatcher.
func (s *Set) RemoveIfPresent(key types.BranchKey, jobID types.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[key]
	for i, id := range q {
		if id == jobID {
			s.queues[key] = append(q[:i], q[i+1:]...)
			if len(s.queues[key]) == 0 {
				delete(s.queues, key)
			}
			return i == 0
		}
	}
	return false
}

// HeadCandidates returns the current head job of every non-empty branch
// queue, together with its key. Order is unspecified — fairness across
// branches is the dispatcher's concern (it puts every candidate to the
// Admission Gate each dispatch pass, not just the first), not the queue set's.
func (s *Set) HeadCandidates() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Candidate, 0, len(s.queues))
	for key, q := range s.queues {
		if len(q) > 0 {
			out = append(out, Candidate{Key: key, JobID: q[0]})
		}
	}
	return out
}

// HasPendingForUser reports whether any branch queue currently holds a job
// belonging to user. The Admission Gate uses this to decide whether a user
// whose running count just dropped to zero still holds its fairness slot
// (spec.md §4.6: a drained user only frees its active-user slot if it has
// no PENDING job left).
func (s *Set) HasPendingForUser(user types.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, q := range s.queues {
		if key.UserID == user && len(q) > 0 {
			return true
		}
	}
	return false
}

// Len returns the total number of queued jobs across every branch,
// including non-head entries. Used for the pending-jobs gauge.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, q := range s.queues {
		total += len(q)
	}
	return total
}

// Candidate pairs a branch key with the JobID currently at its head.
type Candidate struct {
	Key   types.BranchKey
	JobID types.JobID
}
