// Worker is the task execution unit: each runs in its own goroutine,
// pulling Tasks off a shared channel and reporting a Result for each.
package worker

import (
	"context"

	"github.com/fieldkit/flowqueue/pkg/types"
)

// ExecFunc runs a single job to completion, returning its result artifact
// path on success. The pool passes a context it cancels on Stop, so a
// well-behaved ExecFunc returns promptly once ctx is done.
type ExecFunc func(ctx context.Context, job *types.Job) (resultPath string, err error)

// Worker receives Tasks from taskCh and sends a Result to resultCh for
// each, until taskCh is closed.
type Worker struct {
	id       int
	taskCh   <-chan Task
	resultCh chan<- Result
	exec     ExecFunc
}

func newWorker(id int, taskCh <-chan Task, resultCh chan<- Result, exec ExecFunc) *Worker {
	return &Worker{id: id, taskCh: taskCh, resultCh: resultCh, exec: exec}
}

// Run is the worker's main loop.
func (w *Worker) Run(ctx context.Context) {
	for task := range w.taskCh {
		path, err := w.exec(ctx, task.Job)
		w.resultCh <- Result{Job: task.Job, ResultPath: path, Err: err}
	}
}
