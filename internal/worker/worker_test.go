package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldkit/flowqueue/pkg/types"
)

func echoExec(path string, err error) ExecFunc {
	return func(ctx context.Context, job *types.Job) (string, error) {
		return path, err
	}
}

func TestPoolRunsSubmittedTask(t *testing.T) {
	p := NewPool(4)
	require.NoError(t, p.Start(2, echoExec("result.jsonl", nil)))
	defer p.Stop()

	job := &types.Job{JobID: "job-1"}
	require.True(t, p.Submit(Task{Job: job}))

	select {
	case res := <-p.Results():
		require.Equal(t, job.JobID, res.Job.JobID)
		require.Equal(t, "result.jsonl", res.ResultPath)
		require.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPoolPropagatesExecError(t *testing.T) {
	p := NewPool(4)
	wantErr := errors.New("boom")
	require.NoError(t, p.Start(1, echoExec("", wantErr)))
	defer p.Stop()

	require.True(t, p.Submit(Task{Job: &types.Job{JobID: "job-2"}}))

	res := <-p.Results()
	require.ErrorIs(t, res.Err, wantErr)
}

func TestPoolSubmitFailsBeforeStart(t *testing.T) {
	p := NewPool(1)
	require.False(t, p.Submit(Task{Job: &types.Job{JobID: "job-3"}}))
}

func TestPoolSubmitFailsAfterStop(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Start(1, echoExec("", nil)))
	p.Stop()

	require.False(t, p.Submit(Task{Job: &types.Job{JobID: "job-4"}}))
}

func TestPoolStopCancelsInFlightWork(t *testing.T) {
	p := NewPool(1)
	blocked := make(chan struct{})
	exec := func(ctx context.Context, job *types.Job) (string, error) {
		close(blocked)
		<-ctx.Done()
		return "", ctx.Err()
	}
	require.NoError(t, p.Start(1, exec))

	require.True(t, p.Submit(Task{Job: &types.Job{JobID: "job-5"}}))
	<-blocked

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
