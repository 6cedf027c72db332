// Package jobqueue implements the Job Queue & Worker (C10): single-flight
// FIFO dispatch of pending jobs to the Agent Runtime, one worker goroutine
// per concurrently running job, crash recovery of orphaned running jobs,
// and cooperative cancellation. Grounded on the reference cron.Scheduler's
// ticker-plus-wakeup-channel loop shape (internal/cron/scheduler.go) and the
// jobs package's in-memory store idiom (internal/jobs/store.go), generalized
// from a cron-fire-due-jobs loop into a durable-store poll loop.
package jobqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/store"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Runner executes one job to completion (or to a waiting/oauth pause, or to
// cancellation). It is implemented by the Agent Runtime (C7). ctx is
// cancelled when the queue wants the job to stop promptly (process
// shutdown, or an explicit Cancel call).
type Runner interface {
	Run(ctx context.Context, job models.Job) error
}

// Config holds the queue's tunables.
type Config struct {
	// WorkerID identifies this process for the worker_id column, useful
	// when multiple processes share one durable store.
	WorkerID string
	// PollInterval is the fallback poll cadence when no wakeup is pending.
	PollInterval time.Duration
	// MaxConcurrentJobs bounds how many jobs this process runs at once.
	MaxConcurrentJobs int
}

// DefaultConfig returns documented defaults (§6.6: single-process, modest
// concurrency since conversations are already serialized by exclusivity).
func DefaultConfig() Config {
	return Config{
		WorkerID:          uuid.NewString(),
		PollInterval:      500 * time.Millisecond,
		MaxConcurrentJobs: 8,
	}
}

// Queue dispatches pending jobs to a Runner, enforcing per-conversation
// exclusivity (already guaranteed at CreateJob time by the store) and
// bounding total in-flight work.
type Queue struct {
	cfg     Config
	st      store.JobStore
	runner  Runner
	metrics *observability.Metrics
	logger  *slog.Logger

	wake chan struct{}

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	semaphore chan struct{}
	wg        sync.WaitGroup
}

// New builds a Queue over the given store and Runner.
func New(cfg Config, st store.JobStore, runner Runner, metrics *observability.Metrics, logger *slog.Logger) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:       cfg,
		st:        st,
		runner:    runner,
		metrics:   metrics,
		logger:    logger.With("component", "jobqueue"),
		wake:      make(chan struct{}, 1),
		cancels:   make(map[string]context.CancelFunc),
		semaphore: make(chan struct{}, cfg.MaxConcurrentJobs),
	}
}

// Wake nudges the dispatch loop to poll immediately instead of waiting for
// the next PollInterval tick. Call after CreateJob and after resolving an
// ask_user/oauth wait.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Cancel requests cancellation of a running job by cancelling its worker
// context. Returns false if the job isn't currently running in this
// process (it may be running elsewhere, or already terminal).
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	cancel, ok := q.cancels[jobID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// RecoverCrashed reverts any job this process finds stuck in "running" at
// startup back to "pending" (§4.7's crash-recovery transition), so it gets
// redispatched instead of hanging forever. Call once before Start.
func (q *Queue) RecoverCrashed(ctx context.Context) (int, error) {
	running, err := q.st.JobsInStatus(ctx, models.JobRunning)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range running {
		if err := q.st.UpdateJobStatus(ctx, j.ID, models.JobPending, store.JobUpdate{}); err != nil {
			q.logger.Warn("crash recovery: revert failed", "job_id", j.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		q.logger.Info("crash recovery: reverted orphaned running jobs", "count", n)
	}
	return n, nil
}

// Start runs the dispatch loop until ctx is cancelled, blocking the caller.
// Typically invoked in its own goroutine from main.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		q.dispatchReady(ctx)
		select {
		case <-ctx.Done():
			q.wg.Wait()
			return
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

// dispatchReady claims and launches as many pending jobs as there is
// capacity for, without blocking on any of them.
func (q *Queue) dispatchReady(ctx context.Context) {
	for {
		select {
		case q.semaphore <- struct{}{}:
		default:
			return // at capacity
		}

		job, err := q.st.OldestPendingWithoutRunningPeer(ctx)
		if err != nil {
			<-q.semaphore
			return // store.ErrNotFound (nothing to do) or a transient error
		}

		if err := q.st.UpdateJobStatus(ctx, job.ID, models.JobRunning, store.JobUpdate{WorkerID: strPtr(q.cfg.WorkerID)}); err != nil {
			<-q.semaphore
			// Someone else claimed it first (another worker process); not an error.
			continue
		}
		job.Status = models.JobRunning
		job.WorkerID = q.cfg.WorkerID

		jobCtx, cancel := context.WithCancel(ctx)
		q.mu.Lock()
		q.cancels[job.ID] = cancel
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.JobsInFlight.WithLabelValues(string(models.JobRunning)).Inc()
		}

		q.wg.Add(1)
		go q.run(jobCtx, cancel, job)
	}
}

func (q *Queue) run(ctx context.Context, cancel context.CancelFunc, job models.Job) {
	defer q.wg.Done()
	defer cancel()
	defer func() {
		q.mu.Lock()
		delete(q.cancels, job.ID)
		q.mu.Unlock()
		<-q.semaphore
		if q.metrics != nil {
			q.metrics.JobsInFlight.WithLabelValues(string(models.JobRunning)).Dec()
		}
	}()

	start := time.Now()
	err := q.runner.Run(ctx, job)
	if err != nil {
		q.logger.Warn("job run returned error", "job_id", job.ID, "error", err)
	}

	if q.metrics != nil {
		final, getErr := q.st.GetJob(context.Background(), job.ID)
		if getErr == nil && final.Status.Terminal() {
			q.metrics.RecordJobTerminal(string(final.Status), time.Since(start).Seconds(), 0)
		}
	}
}

func strPtr(s string) *string { return &s }
