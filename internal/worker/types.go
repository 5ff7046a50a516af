package worker

import "github.com/fieldkit/flowqueue/pkg/types"

// Task is one unit of dispatched work: a job already marked RUNNING by the
// Store, handed to the pool for execution.
type Task struct {
	Job *types.Job
}

// Result is what a Worker reports back after running a Task. Err is nil on
// success, in which case ResultPath names the artifact the Executor wrote.
type Result struct {
	Job        *types.Job
	ResultPath string
	Err        error
}
