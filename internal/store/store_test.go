package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldkit/flowqueue/internal/schederr"
	"github.com/fieldkit/flowqueue/pkg/types"
)

func TestCreateAndGetWorkflow(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "first run")

	require.NotEmpty(t, wf.WorkflowID)
	require.Equal(t, types.WorkflowPending, wf.Status)

	got, err := s.GetWorkflow(wf.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, wf.WorkflowID, got.WorkflowID)
}

func TestGetWorkflowNotFound(t *testing.T) {
	s := New()
	_, err := s.GetWorkflow("does-not-exist")
	require.True(t, errors.Is(err, schederr.ErrNotFound))
}

func TestCreateJobRejectsForeignWorkflow(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "run")

	_, err := s.CreateJob("mallory", types.JobCreate{WorkflowID: wf.WorkflowID, BranchID: "b"})
	require.True(t, errors.Is(err, schederr.ErrNotFound))
}

func TestCreateJobRejectsUnknownWorkflow(t *testing.T) {
	s := New()
	_, err := s.CreateJob("alice", types.JobCreate{WorkflowID: "ghost", BranchID: "b"})
	require.True(t, errors.Is(err, schederr.ErrNotFound))
}

func TestListJobsForWorkflowPreservesInsertionOrder(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "run")

	var ids []types.JobID
	for i := 0; i < 5; i++ {
		job, err := s.CreateJob("alice", types.JobCreate{WorkflowID: wf.WorkflowID, BranchID: "b"})
		require.NoError(t, err)
		ids = append(ids, job.JobID)
	}

	jobs := s.ListJobsForWorkflow(wf.WorkflowID)
	require.Len(t, jobs, 5)
	for i, job := range jobs {
		require.Equal(t, ids[i], job.JobID)
	}
}

func TestSetJobStateValidTransitions(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "run")
	job, err := s.CreateJob("alice", types.JobCreate{WorkflowID: wf.WorkflowID, BranchID: "b"})
	require.NoError(t, err)

	running, err := s.SetJobState(job.JobID, types.JobRunning, StateUpdate{})
	require.NoError(t, err)
	require.Equal(t, types.JobRunning, running.State)

	succeeded, err := s.SetJobState(job.JobID, types.JobSucceeded, StateUpdate{ResultPath: "out.jsonl"})
	require.NoError(t, err)
	require.Equal(t, types.JobSucceeded, succeeded.State)
	require.Equal(t, float64(1), succeeded.Progress)
	require.Equal(t, "out.jsonl", succeeded.ResultPath)
}

func TestSetJobStateRejectsIllegalTransition(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "run")
	job, err := s.CreateJob("alice", types.JobCreate{WorkflowID: wf.WorkflowID, BranchID: "b"})
	require.NoError(t, err)

	_, err = s.SetJobState(job.JobID, types.JobSucceeded, StateUpdate{})
	require.True(t, errors.Is(err, schederr.ErrIllegalTransition))

	// Job must remain untouched by the rejected attempt.
	unchanged, err := s.GetJob(job.JobID)
	require.NoError(t, err)
	require.Equal(t, types.JobPending, unchanged.State)
}

func TestSetJobStateCancelForcesZeroProgress(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "run")
	job, err := s.CreateJob("alice", types.JobCreate{WorkflowID: wf.WorkflowID, BranchID: "b"})
	require.NoError(t, err)

	cancelled, err := s.SetJobState(job.JobID, types.JobCancelled, StateUpdate{})
	require.NoError(t, err)
	require.Equal(t, types.JobCancelled, cancelled.State)
	require.Equal(t, float64(0), cancelled.Progress)
}

func TestUpdateProgressOnRunningJob(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "run")
	job, err := s.CreateJob("alice", types.JobCreate{WorkflowID: wf.WorkflowID, BranchID: "b"})
	require.NoError(t, err)

	_, err = s.SetJobState(job.JobID, types.JobRunning, StateUpdate{})
	require.NoError(t, err)

	updated, err := s.UpdateProgress(job.JobID, 0.4)
	require.NoError(t, err)
	require.Equal(t, types.JobRunning, updated.State)
	require.Equal(t, 0.4, updated.Progress)

	// A later, higher report advances progress further, and the job is
	// still RUNNING throughout — the reports never attempt a state change.
	updated, err = s.UpdateProgress(job.JobID, 0.9)
	require.NoError(t, err)
	require.Equal(t, types.JobRunning, updated.State)
	require.Equal(t, 0.9, updated.Progress)
}

func TestUpdateProgressIgnoresRegression(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "run")
	job, err := s.CreateJob("alice", types.JobCreate{WorkflowID: wf.WorkflowID, BranchID: "b"})
	require.NoError(t, err)

	_, err = s.SetJobState(job.JobID, types.JobRunning, StateUpdate{})
	require.NoError(t, err)

	_, err = s.UpdateProgress(job.JobID, 0.6)
	require.NoError(t, err)

	// A lower report than what's already recorded must not move progress
	// backward (spec.md §6.3: reports are monotonically non-decreasing).
	regressed, err := s.UpdateProgress(job.JobID, 0.2)
	require.NoError(t, err)
	require.Equal(t, 0.6, regressed.Progress)
}

func TestUpdateProgressRejectsNonRunningJob(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "run")
	job, err := s.CreateJob("alice", types.JobCreate{WorkflowID: wf.WorkflowID, BranchID: "b"})
	require.NoError(t, err)

	_, err = s.UpdateProgress(job.JobID, 0.5)
	require.True(t, errors.Is(err, schederr.ErrIllegalTransition))
}

func TestClonedJobsAreIndependent(t *testing.T) {
	s := New()
	wf := s.CreateWorkflow("alice", "run")
	job, err := s.CreateJob("alice", types.JobCreate{
		WorkflowID: wf.WorkflowID,
		BranchID:   "b",
		Params:     map[string]string{"k": "v"},
	})
	require.NoError(t, err)

	job.Params["k"] = "mutated"

	fromStore, err := s.GetJob(job.JobID)
	require.NoError(t, err)
	require.Equal(t, "v", fromStore.Params["k"])
}
