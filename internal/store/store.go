// Package store is the Store component (spec C1): the sole owner of
// Workflow and Job records. Every operation here is atomic with respect to
// every other — the contract the rest of the core (branch queues, the
// admission gate, the dispatcher, workers) is built against.
//
// Adapted from the teacher's internal/jobmanager: a single mutex around a
// primary map plus small per-workflow ordering indexes, the same hybrid
// design for O(1) lookups without losing insertion order.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldkit/flowqueue/internal/schederr"
	"github.com/fieldkit/flowqueue/pkg/types"
)

// allowedTransition is the job state machine's adjacency list (spec.md §3
// invariant 1: state monotonically traverses this DAG, no back-edges).
var allowedTransition = map[types.JobState]map[types.JobState]bool{
	types.JobPending: {
		types.JobRunning:   true,
		types.JobCancelled: true,
	},
	types.JobRunning: {
		types.JobSucceeded: true,
		types.JobFailed:    true,
	},
}

// StateUpdate carries the optional fields SetJobState may set alongside the
// new state. Zero-value fields are left untouched except where the new
// state implies them (e.g. progress is forced to 0 on CANCELLED).
type StateUpdate struct {
	Progress     *float64
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	ResultPath   string
}

// Store is the in-memory, mutex-protected record of every workflow and job.
// A durable backend must preserve the same atomicity and insertion-ordering
// guarantees; nothing above this package depends on the backing being
// in-memory.
type Store struct {
	mu sync.RWMutex

	workflows map[types.WorkflowID]*types.Workflow
	jobs      map[types.JobID]*types.Job

	// workflowJobs preserves append order per workflow — the basis for
	// ListJobsForWorkflow's insertion-order guarantee and, transitively,
	// branch FIFO (spec.md §3 invariant 7).
	workflowJobs map[types.WorkflowID][]types.JobID
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		workflows:    make(map[types.WorkflowID]*types.Workflow),
		jobs:         make(map[types.JobID]*types.Job),
		workflowJobs: make(map[types.WorkflowID][]types.JobID),
	}
}

// CreateWorkflow creates a new PENDING, zero-progress workflow owned by user.
func (s *Store) CreateWorkflow(user types.UserID, name string) *types.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf := &types.Workflow{
		WorkflowID: types.WorkflowID(uuid.NewString()),
		UserID:     user,
		Name:       name,
		Status:     types.WorkflowPending,
		Progress:   0,
		CreatedAt:  time.Now(),
	}
	s.workflows[wf.WorkflowID] = wf
	s.workflowJobs[wf.WorkflowID] = nil
	return cloneWorkflow(wf)
}

// GetWorkflow returns the workflow, or schederr.ErrNotFound.
func (s *Store) GetWorkflow(id types.WorkflowID) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, schederr.ErrNotFound
	}
	return cloneWorkflow(wf), nil
}

// ListWorkflowsForUser returns every workflow owned by user, in no
// particular order (the store does not track workflow creation order —
// only job ordering within a workflow is a spec guarantee).
func (s *Store) ListWorkflowsForUser(user types.UserID) []*types.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Workflow
	for _, wf := range s.workflows {
		if wf.UserID == user {
			out = append(out, cloneWorkflow(wf))
		}
	}
	return out
}

// UpdateWorkflow replaces the status/progress fields of an existing
// workflow. Only the Progress Aggregator is expected to call this.
func (s *Store) UpdateWorkflow(wf *types.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.workflows[wf.WorkflowID]
	if !ok {
		return schederr.ErrNotFound
	}
	existing.Status = wf.Status
	existing.Progress = wf.Progress
	return nil
}

// CreateJob enqueues a new PENDING job under an existing workflow owned by
// user, and appends it to that workflow's ordered job list. Returns
// schederr.ErrNotFound if the workflow does not exist or belongs to a
// different user.
func (s *Store) CreateJob(user types.UserID, jc types.JobCreate) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[jc.WorkflowID]
	if !ok || wf.UserID != user {
		return nil, schederr.ErrNotFound
	}

	params := jc.Params
	if params == nil {
		params = map[string]string{}
	}

	job := &types.Job{
		JobID:      types.JobID(uuid.NewString()),
		UserID:     user,
		WorkflowID: jc.WorkflowID,
		BranchID:   jc.BranchID,
		JobType:    jc.JobType,
		ImagePath:  jc.ImagePath,
		Params:     params,
		State:      types.JobPending,
		Progress:   0,
		CreatedAt:  time.Now(),
	}
	s.jobs[job.JobID] = job
	s.workflowJobs[jc.WorkflowID] = append(s.workflowJobs[jc.WorkflowID], job.JobID)
	return cloneJob(job), nil
}

// GetJob returns the job, or schederr.ErrNotFound.
func (s *Store) GetJob(id types.JobID) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, schederr.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListJobsForWorkflow returns the workflow's jobs in enqueue order.
func (s *Store) ListJobsForWorkflow(id types.WorkflowID) []*types.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.workflowJobs[id]
	out := make([]*types.Job, 0, len(ids))
	for _, jid := range ids {
		if job, ok := s.jobs[jid]; ok {
			out = append(out, cloneJob(job))
		}
	}
	return out
}

// SetJobState atomically transitions a job to newState, applying the
// optional fields in update. Illegal transitions (not in allowedTransition)
// are rejected with schederr.ErrIllegalTransition without touching the job.
func (s *Store) SetJobState(id types.JobID, newState types.JobState, update StateUpdate) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, schederr.ErrNotFound
	}
	if !allowedTransition[job.State][newState] {
		return nil, schederr.ErrIllegalTransition
	}

	job.State = newState
	if update.Progress != nil {
		job.Progress = clamp01(*update.Progress)
	}
	if update.StartedAt != nil {
		job.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
	}
	if update.ErrorMessage != "" {
		job.ErrorMessage = update.ErrorMessage
	}
	if update.ResultPath != "" {
		job.ResultPath = update.ResultPath
	}

	switch newState {
	case types.JobCancelled:
		// Invariant 6: a cancelled job has progress 0 and never ran.
		job.Progress = 0
	case types.JobSucceeded:
		job.Progress = 1
	}

	return cloneJob(job), nil
}

// UpdateProgress records a progress report for a RUNNING job. Unlike
// SetJobState this is not a state transition — the Worker's progress
// callback fires many times while a job stays RUNNING, and RUNNING->RUNNING
// is not in allowedTransition — so it is its own atomic operation rather
// than routed through SetJobState. Progress is clamped to [0,1] and only
// ever moves forward, per the executor contract that reports are
// monotonically non-decreasing (spec.md §6.3).
func (s *Store) UpdateProgress(id types.JobID, progress float64) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, schederr.ErrNotFound
	}
	if job.State != types.JobRunning {
		return nil, schederr.ErrIllegalTransition
	}

	if clamped := clamp01(progress); clamped > job.Progress {
		job.Progress = clamped
	}
	return cloneJob(job), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// cloneWorkflow and cloneJob return a defensive copy so callers can't
// mutate Store-owned state through the pointer they were handed back.
func cloneWorkflow(wf *types.Workflow) *types.Workflow {
	cp := *wf
	return &cp
}

func cloneJob(job *types.Job) *types.Job {
	cp := *job
	cp.Params = make(map[string]string, len(job.Params))
	for k, v := range job.Params {
		cp.Params[k] = v
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
