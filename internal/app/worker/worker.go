package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"rias-agent-golang/internal/util/workqueue"
	log "rias-agent-golang/logger"
)

// PrewarmFunc prepares process-wide resources before any job runs.
type PrewarmFunc func(*JobProcess) error

// EntrypointFunc serves one job. It returns when the job is done or
// its context is cancelled.
type EntrypointFunc func(job *JobContext) error

// Options configures a Worker. EntrypointFunc is required, PrewarmFunc
// is optional and registered only when the mode needs it.
type Options struct {
	AgentName      string
	EntrypointFunc EntrypointFunc
	PrewarmFunc    PrewarmFunc
}

// Worker hosts jobs for one agent. Prewarm runs exactly once, strictly
// before the first job is served; every job after that shares the
// prewarmed JobProcess read-only.
type Worker struct {
	opts Options
	proc *JobProcess

	jobs cmap.ConcurrentMap[string, *JobContext]

	prewarmOnce sync.Once
	prewarmErr  error

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker validates options and creates a worker.
func NewWorker(opts Options) (*Worker, error) {
	if opts.AgentName == "" {
		return nil, fmt.Errorf("agent name is empty")
	}
	if opts.EntrypointFunc == nil {
		return nil, fmt.Errorf("entrypoint func is required")
	}
	return &Worker{
		opts: opts,
		proc: NewJobProcess(),
		jobs: cmap.New[*JobContext](),
	}, nil
}

// Proc exposes the shared job process.
func (w *Worker) Proc() *JobProcess {
	return w.proc
}

func (w *Worker) ensurePrewarmed() error {
	w.prewarmOnce.Do(func() {
		if w.opts.PrewarmFunc == nil {
			return
		}
		log.Infof("worker %s prewarming", w.opts.AgentName)
		w.prewarmErr = w.opts.PrewarmFunc(w.proc)
	})
	if w.prewarmErr != nil {
		return fmt.Errorf("prewarm failed: %w", w.prewarmErr)
	}
	return nil
}

// Run prewarms and then serves jobs until ctx is cancelled. A prewarm
// failure aborts before any job can be dispatched.
func (w *Worker) Run(ctx context.Context) error {
	workerCtx, workerCancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.ctx, w.cancel = workerCtx, workerCancel
	w.mu.Unlock()

	if err := w.ensurePrewarmed(); err != nil {
		workerCancel()
		return err
	}
	log.Infof("worker %s registered, waiting for jobs", w.opts.AgentName)
	<-workerCtx.Done()
	w.wg.Wait()
	return nil
}

func (w *Worker) workerContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

// DispatchJob starts serving a room. The job runs on its own goroutine
// with a context derived from the worker's.
func (w *Worker) DispatchJob(room Room) (string, error) {
	if err := w.ensurePrewarmed(); err != nil {
		return "", err
	}
	workerCtx := w.workerContext()
	if workerCtx == nil {
		return "", fmt.Errorf("worker not running")
	}
	if workerCtx.Err() != nil {
		return "", fmt.Errorf("worker shutting down")
	}

	jobID := uuid.New().String()
	jobCtx, jobCancel := context.WithCancel(workerCtx)
	job := &JobContext{
		ID:     jobID,
		Ctx:    jobCtx,
		Room:   room,
		Proc:   w.proc,
		cancel: jobCancel,
	}
	w.jobs.Set(jobID, job)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.jobs.Remove(jobID)
		defer jobCancel()

		log.Infof("job %s started in room %s", jobID, room.Name())
		if err := w.opts.EntrypointFunc(job); err != nil {
			log.Errorf("job %s failed: %v", jobID, err)
			return
		}
		log.Infof("job %s finished", jobID)
	}()

	return jobID, nil
}

// ActiveJobs reports how many jobs are currently being served.
func (w *Worker) ActiveJobs() int {
	return w.jobs.Count()
}

// Shutdown cancels all jobs concurrently and waits for them to drain.
func (w *Worker) Shutdown(ctx context.Context) {
	jobs := make([]*JobContext, 0, w.jobs.Count())
	for item := range w.jobs.IterBuffered() {
		jobs = append(jobs, item.Val)
	}
	workqueue.ParallelizeUntil(ctx, 8, len(jobs), func(i int) {
		jobs[i].Cancel()
	})
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}
