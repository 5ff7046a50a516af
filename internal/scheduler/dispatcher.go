package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/fieldkit/flowqueue/internal/branchqueue"
	"github.com/fieldkit/flowqueue/internal/executor"
	"github.com/fieldkit/flowqueue/internal/progress"
	"github.com/fieldkit/flowqueue/internal/store"
	"github.com/fieldkit/flowqueue/internal/worker"
	"github.com/fieldkit/flowqueue/pkg/types"
)

// Hooks lets callers observe dispatch events for metrics without the
// Dispatcher depending on the metrics package directly.
type Hooks struct {
	OnEnqueue     func(job *types.Job)
	OnDispatch    func(job *types.Job)
	OnComplete    func(job *types.Job)
	OnRateLimited func(user types.UserID)
}

// Dispatcher is the single-threaded admission/dispatch loop: it wakes on
// demand (job submitted, job completed, job cancelled), tries every current
// branch-head candidate against the Gate, and hands admitted jobs to the
// worker pool. Modeled on the teacher's controller.dispatchLoop, with the
// WAL/retry bookkeeping replaced by the Gate's admission predicate.
type Dispatcher struct {
	store    *store.Store
	queues   *branchqueue.Set
	gate     *Gate
	pool     *worker.Pool
	agg      *progress.Aggregator
	exec     executor.Executor
	hooks    Hooks

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewDispatcher wires the queue set, admission gate, worker pool, progress
// aggregator, and executor into one dispatch loop.
func NewDispatcher(st *store.Store, queues *branchqueue.Set, gate *Gate, pool *worker.Pool, agg *progress.Aggregator, exec executor.Executor, hooks Hooks) *Dispatcher {
	return &Dispatcher{
		store:  st,
		queues: queues,
		gate:   gate,
		pool:   pool,
		agg:    agg,
		exec:   exec,
		hooks:  hooks,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Wake schedules a dispatch pass without blocking. Level-triggered: if a
// wake is already pending, this is a no-op — the pending wake will observe
// whatever state exists by the time the loop gets to it, so no event is
// ever lost, and the loop never spins when nothing changed.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop and the worker-result loop. The dispatch
// loop runs until Stop is called; the worker-result loop runs until the
// worker pool's result channel is closed.
func (d *Dispatcher) Start(workerCount int) {
	d.pool.Start(workerCount, d.runJob)
	go d.loop()
	go d.resultLoop()
}

// Stop signals the dispatch loop to exit and waits for it to observe that.
// The worker-result loop is not signalled here: it exits once the worker
// pool's own Stop (called separately by the owner) closes the result channel.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
			d.dispatchPass()
		}
	}
}

// dispatchPass tries every branch's current head candidate once. A single
// pass intentionally does not retry a rejected candidate — the branch stays
// at that head and gets another chance on the next wake, which is how
// fairness across branches falls out of the design: one greedy branch can't
// monopolize repeated attempts within a pass.
func (d *Dispatcher) dispatchPass() {
	for _, cand := range d.queues.HeadCandidates() {
		job, err := d.store.GetJob(cand.JobID)
		if err != nil {
			// Job vanished from the store entirely — nothing sane to do but
			// drop the stale queue entry.
			d.queues.PopHead(cand.Key)
			continue
		}
		if job.State != types.JobPending {
			// Already handled out-of-band (e.g. cancelled); drop the stale
			// head so the branch can advance.
			d.queues.PopHead(cand.Key)
			continue
		}

		if !d.gate.Admit(job) {
			continue
		}

		d.queues.PopHead(cand.Key)
		now := time.Now()
		running, err := d.store.SetJobState(job.JobID, types.JobRunning, store.StateUpdate{StartedAt: &now})
		if err != nil {
			log.Printf("scheduler: admitted job %s but store rejected RUNNING transition: %v", job.JobID, err)
			d.gate.Release(job)
			continue
		}

		if d.hooks.OnDispatch != nil {
			d.hooks.OnDispatch(running)
		}
		if !d.pool.Submit(worker.Task{Job: running}) {
			// Pool is shutting down; put the job back as pending rather than
			// lose it silently.
			d.gate.Release(running)
			d.store.SetJobState(running.JobID, types.JobPending, store.StateUpdate{})
		}
	}
}

// runJob is the Executor-facing adapter the worker pool calls per task. It
// reports progress back into the store as the executor runs, via
// UpdateProgress rather than SetJobState — the job stays RUNNING for every
// intermediate report, and RUNNING->RUNNING is not a legal state
// transition.
func (d *Dispatcher) runJob(ctx context.Context, job *types.Job) (string, error) {
	return d.exec.Execute(ctx, job, func(p float64) {
		if _, err := d.store.UpdateProgress(job.JobID, p); err != nil {
			log.Printf("scheduler: recording progress for job %s: %v", job.JobID, err)
		}
	})
}

// resultLoop drains worker results, finalizes job state, releases gate
// bookkeeping, recomputes workflow progress, and wakes the dispatcher so
// the capacity just freed (and the branch's next job, now head-of-queue)
// gets a chance immediately rather than waiting for some unrelated event.
func (d *Dispatcher) resultLoop() {
	for res := range d.pool.Results() {
		job := res.Job
		now := time.Now()

		var finalState types.JobState
		update := store.StateUpdate{CompletedAt: &now}
		if res.Err != nil {
			finalState = types.JobFailed
			update.ErrorMessage = res.Err.Error()
		} else {
			finalState = types.JobSucceeded
			update.ResultPath = res.ResultPath
		}

		finalJob, err := d.store.SetJobState(job.JobID, finalState, update)
		if err != nil {
			log.Printf("scheduler: finalizing job %s: %v", job.JobID, err)
			finalJob = job
		}

		d.gate.Release(finalJob)
		if d.hooks.OnComplete != nil {
			d.hooks.OnComplete(finalJob)
		}

		d.agg.Recompute(finalJob.WorkflowID)
		d.Wake()
	}
}
