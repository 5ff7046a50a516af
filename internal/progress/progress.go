// Package progress implements the Progress Aggregator (spec component C7):
// it recomputes a workflow's rollup status and progress fraction from its
// member jobs every time a job changes state.
//
// Grounded on original_source's app/progress.py for the general shape
// (derive workflow state from job states, recompute progress as a mean),
// but the rule order below follows the scheduler specification's explicit
// redesign rather than the original's: RUNNING dominates FAILED. A
// workflow with any job still RUNNING reports RUNNING even if another of
// its jobs has already FAILED, so a caller polling workflow status is never
// told "FAILED" while work is still actively in flight.
package progress

import (
	"github.com/fieldkit/flowqueue/internal/store"
	"github.com/fieldkit/flowqueue/pkg/types"
)

// Aggregator recomputes workflow rollups against a Store.
type Aggregator struct {
	store *store.Store
}

// New builds an Aggregator over st.
func New(st *store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Recompute derives id's workflow status and progress from its current
// jobs and persists the result. Safe to call redundantly; it is idempotent
// for a fixed job snapshot.
func (a *Aggregator) Recompute(id types.WorkflowID) error {
	wf, err := a.store.GetWorkflow(id)
	if err != nil {
		return err
	}
	jobs := a.store.ListJobsForWorkflow(id)

	wf.Status = rollupStatus(jobs)
	wf.Progress = rollupProgress(jobs)
	return a.store.UpdateWorkflow(wf)
}

// rollupStatus applies the status rule in priority order:
//  1. any job RUNNING            -> RUNNING
//  2. else any job FAILED        -> FAILED
//  3. else every job SUCCEEDED or CANCELLED (and at least one exists)
//     -> SUCCEEDED
//  4. else                       -> PENDING
func rollupStatus(jobs []*types.Job) types.WorkflowStatus {
	if len(jobs) == 0 {
		return types.WorkflowPending
	}

	anyRunning := false
	anyFailed := false
	allSettled := true

	for _, j := range jobs {
		switch j.State {
		case types.JobRunning:
			anyRunning = true
		case types.JobFailed:
			anyFailed = true
		case types.JobSucceeded, types.JobCancelled:
			// settled, satisfies the all-done condition
		default:
			allSettled = false
		}
	}

	switch {
	case anyRunning:
		return types.WorkflowRunning
	case anyFailed:
		return types.WorkflowFailed
	case allSettled:
		return types.WorkflowSucceeded
	default:
		return types.WorkflowPending
	}
}

// rollupProgress is the mean of per-job progress, each job already clamped
// to [0,1] by the store.
func rollupProgress(jobs []*types.Job) float64 {
	if len(jobs) == 0 {
		return 0
	}
	var sum float64
	for _, j := range jobs {
		sum += j.Progress
	}
	return sum / float64(len(jobs))
}
