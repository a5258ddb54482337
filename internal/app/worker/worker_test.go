package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerValidation(t *testing.T) {
	_, err := NewWorker(Options{AgentName: "rias"})
	assert.Error(t, err, "entrypoint is required")

	_, err = NewWorker(Options{EntrypointFunc: func(*JobContext) error { return nil }})
	assert.Error(t, err, "agent name is required")
}

func TestPrewarmRunsOnceBeforeFirstJob(t *testing.T) {
	var prewarmCalls atomic.Int32
	var jobsWithVad atomic.Int32

	w, err := NewWorker(Options{
		AgentName: "rias",
		PrewarmFunc: func(proc *JobProcess) error {
			prewarmCalls.Add(1)
			proc.Set("vad", &fakeVADHandle{})
			return nil
		},
		EntrypointFunc: func(job *JobContext) error {
			if _, ok := job.Proc.Get("vad"); ok {
				jobsWithVad.Add(1)
			}
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	var jobIDs []string
	require.Eventually(t, func() bool {
		id, err := w.DispatchJob(newFakeRoom("r1"))
		if err != nil {
			return false
		}
		jobIDs = append(jobIDs, id)
		return true
	}, time.Second, 10*time.Millisecond)

	id2, err := w.DispatchJob(newFakeRoom("r2"))
	require.NoError(t, err)
	jobIDs = append(jobIDs, id2)
	assert.NotEqual(t, jobIDs[0], jobIDs[1])

	require.Eventually(t, func() bool {
		return jobsWithVad.Load() == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), prewarmCalls.Load(), "prewarm must run exactly once")

	cancel()
	require.NoError(t, <-runDone)
}

func TestPrewarmFailureAbortsWorker(t *testing.T) {
	w, err := NewWorker(Options{
		AgentName: "rias",
		PrewarmFunc: func(*JobProcess) error {
			return errors.New("model file missing")
		},
		EntrypointFunc: func(*JobContext) error {
			t.Error("no job should be served after prewarm failure")
			return nil
		},
	})
	require.NoError(t, err)

	err = w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prewarm failed")

	_, err = w.DispatchJob(newFakeRoom("r1"))
	require.Error(t, err)
}

func TestDispatchBeforeRunFails(t *testing.T) {
	w, err := NewWorker(Options{
		AgentName:      "rias",
		EntrypointFunc: func(*JobContext) error { return nil },
	})
	require.NoError(t, err)

	_, err = w.DispatchJob(newFakeRoom("r1"))
	assert.Error(t, err)
}

func TestShutdownCancelsJobs(t *testing.T) {
	started := make(chan struct{})
	w, err := NewWorker(Options{
		AgentName: "rias",
		EntrypointFunc: func(job *JobContext) error {
			close(started)
			<-job.Ctx.Done()
			return nil
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := w.DispatchJob(newFakeRoom("r1"))
		return err == nil
	}, time.Second, 10*time.Millisecond)

	<-started
	assert.Equal(t, 1, w.ActiveJobs())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Shutdown(shutdownCtx)

	assert.Zero(t, w.ActiveJobs())
	require.NoError(t, <-runDone)
}
