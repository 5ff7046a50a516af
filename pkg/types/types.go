// Package types defines the core domain models shared across the scheduler:
// workflows, jobs, and the enums that describe their lifecycle.
package types

import "time"

// WorkflowID uniquely identifies a workflow.
type WorkflowID string

// JobID uniquely identifies a job.
type JobID string

// UserID is an opaque tenant identifier; the core never interprets it beyond
// equality comparison.
type UserID string

// WorkflowStatus is the rollup status of a workflow, derived by the
// Progress Aggregator from its member jobs.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowSucceeded WorkflowStatus = "SUCCEEDED"
	WorkflowFailed    WorkflowStatus = "FAILED"
)

// JobState is a job's position in its lifecycle state machine. Transitions
// are one-directional: PENDING -> {RUNNING, CANCELLED}, RUNNING ->
// {SUCCEEDED, FAILED}. Once terminal, a job never changes state again.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
	JobCancelled JobState = "CANCELLED"
)

// JobType selects which executor handler processes a job's image payload.
type JobType string

const (
	JobTypeCellSegmentation JobType = "cell_segmentation"
	JobTypeTissueMask       JobType = "tissue_mask"
)

// Workflow groups a set of jobs submitted by one user under one logical run.
// Only the Progress Aggregator mutates status/progress after creation.
type Workflow struct {
	WorkflowID WorkflowID     `json:"workflow_id"`
	UserID     UserID         `json:"user_id"`
	Name       string         `json:"name"`
	Status     WorkflowStatus `json:"status"`
	Progress   float64        `json:"progress"`
	CreatedAt  time.Time      `json:"created_at"`
}

// JobCreate is the caller-supplied payload for enqueuing a new job.
type JobCreate struct {
	WorkflowID WorkflowID        `json:"workflow_id"`
	BranchID   string            `json:"branch_id"`
	JobType    JobType           `json:"job_type"`
	ImagePath  string            `json:"image_path"`
	Params     map[string]string `json:"params"`
}

// Job is a single unit of scheduled work. The Store is its sole owner;
// every other component holds only a JobID and reads/writes through Store
// operations.
type Job struct {
	JobID      JobID      `json:"job_id"`
	UserID     UserID     `json:"user_id"`
	WorkflowID WorkflowID `json:"workflow_id"`
	BranchID   string     `json:"branch_id"`

	JobType   JobType           `json:"job_type"`
	ImagePath string            `json:"image_path"`
	Params    map[string]string `json:"params"`

	State    JobState `json:"state"`
	Progress float64  `json:"progress"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ResultPath   string `json:"result_path,omitempty"`
}

// BranchKey identifies one FIFO lane: a single (user, workflow, branch)
// tuple may have at most one RUNNING job at a time.
type BranchKey struct {
	UserID     UserID
	WorkflowID WorkflowID
	BranchID   string
}

// UserBranch is the narrower (user, branch) pair the Admission Gate checks
// branch mutual exclusion against — spec.md's invariant 2 scopes exclusion
// to the user/branch pair, not to a single workflow.
type UserBranch struct {
	UserID   UserID
	BranchID string
}
