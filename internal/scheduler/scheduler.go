package scheduler

import (
	"time"

	"github.com/fieldkit/flowqueue/internal/branchqueue"
	"github.com/fieldkit/flowqueue/internal/executor"
	"github.com/fieldkit/flowqueue/internal/progress"
	"github.com/fieldkit/flowqueue/internal/ratelimit"
	"github.com/fieldkit/flowqueue/internal/schederr"
	"github.com/fieldkit/flowqueue/internal/store"
	"github.com/fieldkit/flowqueue/internal/worker"
	"github.com/fieldkit/flowqueue/pkg/types"

	"k8s.io/utils/clock"
)

// Config holds the admission limits a Scheduler enforces.
type Config struct {
	MaxWorkers       int
	MaxActiveUsers   int
	RateLimitPerUser int
	RateLimitWindow  time.Duration
	WorkerCount      int
}

// Scheduler is the public facade over the Store, Branch Queue Set,
// Admission Gate, Dispatcher, and Worker Pool — the single object the HTTP
// API and CLI talk to.
type Scheduler struct {
	store  *store.Store
	queues *branchqueue.Set
	gate   *Gate
	disp   *Dispatcher
	pool   *worker.Pool
	hooks  Hooks

	shuttingDown bool
}

// New wires a Scheduler from its components, ready for Start. clk is
// injected into the rate limiter so tests can control time; pass
// clock.RealClock{} in production.
func New(cfg Config, st *store.Store, exec executor.Executor, clk clock.Clock, hooks Hooks) *Scheduler {
	limiter := ratelimit.New(cfg.RateLimitPerUser, cfg.RateLimitWindow, clk)
	queues := branchqueue.New()
	gate := NewGate(cfg.MaxWorkers, cfg.MaxActiveUsers, limiter, queues.HasPendingForUser, hooks.OnRateLimited)
	pool := worker.NewPool(cfg.MaxWorkers * 2)
	agg := progress.New(st)
	disp := NewDispatcher(st, queues, gate, pool, agg, exec, hooks)

	return &Scheduler{store: st, queues: queues, gate: gate, disp: disp, pool: pool, hooks: hooks}
}

// Start launches the dispatcher and its worker pool.
func (s *Scheduler) Start(workerCount int) {
	s.disp.Start(workerCount)
}

// Stop stops the worker pool, which cancels the context of in-flight jobs
// and waits for its workers to exit, then halts the dispatch loop. After
// Stop, SubmitJob returns schederr.ErrShuttingDown.
func (s *Scheduler) Stop() {
	s.shuttingDown = true
	s.pool.Stop()
	s.disp.Stop()
}

// CreateWorkflow creates a new workflow for user.
func (s *Scheduler) CreateWorkflow(user types.UserID, name string) *types.Workflow {
	return s.store.CreateWorkflow(user, name)
}

// GetWorkflow returns a workflow by ID.
func (s *Scheduler) GetWorkflow(id types.WorkflowID) (*types.Workflow, error) {
	return s.store.GetWorkflow(id)
}

// ListWorkflows lists user's workflows.
func (s *Scheduler) ListWorkflows(user types.UserID) []*types.Workflow {
	return s.store.ListWorkflowsForUser(user)
}

// ListJobs lists the jobs belonging to a workflow, in submission order.
func (s *Scheduler) ListJobs(workflowID types.WorkflowID) []*types.Job {
	return s.store.ListJobsForWorkflow(workflowID)
}

// GetJob returns a job by ID.
func (s *Scheduler) GetJob(id types.JobID) (*types.Job, error) {
	return s.store.GetJob(id)
}

// SubmitJob records a new PENDING job, appends it to its branch queue, and
// wakes the dispatcher so it gets a chance to run immediately.
func (s *Scheduler) SubmitJob(user types.UserID, jc types.JobCreate) (*types.Job, error) {
	if s.shuttingDown {
		return nil, schederr.ErrShuttingDown
	}

	job, err := s.store.CreateJob(user, jc)
	if err != nil {
		return nil, err
	}

	key := types.BranchKey{UserID: user, WorkflowID: jc.WorkflowID, BranchID: jc.BranchID}
	s.queues.Append(key, job.JobID)
	if s.hooks.OnEnqueue != nil {
		s.hooks.OnEnqueue(job)
	}
	s.disp.Wake()
	return job, nil
}

// CancelJob cancels a PENDING job. Running jobs are not cooperatively
// cancellable (spec.md §9): cancelling a job that has already left PENDING
// is an idempotent no-op that returns the job unchanged, not an error
// (spec.md §4.8, §8 testable property 5) — a RUNNING job is never
// preempted, and re-cancelling an already-CANCELLED job simply reports it.
func (s *Scheduler) CancelJob(id types.JobID) (*types.Job, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.State != types.JobPending {
		return job, nil
	}

	cancelled, err := s.store.SetJobState(id, types.JobCancelled, store.StateUpdate{})
	if err != nil {
		return nil, err
	}

	key := types.BranchKey{UserID: job.UserID, WorkflowID: job.WorkflowID, BranchID: job.BranchID}
	removedHead := s.queues.RemoveIfPresent(key, id)
	if removedHead {
		s.disp.Wake()
	}
	return cancelled, nil
}

// Stats reports current gate occupancy, for the admin/metrics surface.
func (s *Scheduler) Stats() (activeWorkers, activeUsers int) {
	return s.gate.ActiveWorkers(), s.gate.ActiveUsers()
}

// PendingJobs returns the total number of jobs currently queued (not yet
// RUNNING), across every branch.
func (s *Scheduler) PendingJobs() int {
	return s.queues.Len()
}
