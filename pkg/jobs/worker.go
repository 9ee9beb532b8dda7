package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Handler executes one deindex job. Returning an error wrapped with
// backoff.Permanent skips the in-claim retries.
type Handler interface {
	HandleDeindex(ctx context.Context, job *DeindexJob) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *DeindexJob) error

// HandleDeindex calls f.
func (f HandlerFunc) HandleDeindex(ctx context.Context, job *DeindexJob) error { return f(ctx, job) }

// Observer receives job outcomes, typically for metrics.
type Observer interface {
	JobFinished(state JobState, duration time.Duration)
}

// WorkerPool processes queued deindex jobs using a pool of goroutines.
type WorkerPool struct {
	store    *JobStore
	handler  Handler
	cfg      *JobConfig
	logger   *slog.Logger
	observer Observer
	wake     chan struct{}
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *JobStore, handler Handler, cfg *JobConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	return &WorkerPool{
		store:   store,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// SetObserver registers an outcome observer. Must be called before Run.
func (wp *WorkerPool) SetObserver(o Observer) { wp.observer = o }

// Notify wakes one idle worker without waiting for the next poll.
func (wp *WorkerPool) Notify() {
	select {
	case wp.wake <- struct{}{}:
	default:
	}
}

// Run starts the worker pool. It spawns cfg.Concurrency goroutines,
// each polling for jobs. It blocks until the context is cancelled,
// then waits for all workers to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || !wp.cfg.Enabled {
		wp.logger.Info("job worker pool disabled")
		return
	}

	wp.logger.Info("job worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String())

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.cleanupLoop(ctx)
	}()

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("job worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("job worker pool stopped")
}

func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wp.wake:
		}
		// Drain everything that is due before sleeping again.
		for ctx.Err() == nil && wp.ProcessOne(ctx, workerID) {
		}
	}
}

// ProcessOne claims and runs a single job. It reports whether a job was
// claimed.
func (wp *WorkerPool) ProcessOne(ctx context.Context, workerID int) bool {
	job, err := wp.store.Claim(ctx, wp.cfg.MaxRetries)
	if err != nil {
		wp.logger.Error("failed to claim job", "workerID", workerID, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	log := wp.logger.With("workerID", workerID, "jobID", job.ID,
		"artifactKind", job.ArtifactKind, "artifactID", job.ArtifactID, "attempt", job.AttemptCount)
	log.Info("processing deindex job")

	start := time.Now()
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(200*time.Millisecond),
			backoff.WithMaxInterval(2*time.Second),
		), uint64(wp.cfg.InClaimRetries)),
		ctx,
	)
	err = backoff.Retry(func() error { return wp.handler.HandleDeindex(ctx, job) }, policy)
	duration := time.Since(start)

	// Record the outcome even if shutdown started mid-job.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		delay := wp.cfg.RequeueDelay(job.AttemptCount)
		log.Warn("deindex job failed", "error", err, "retryIn", delay.String())
		if failErr := wp.store.Fail(bg, job.ID, err.Error(), wp.cfg.MaxRetries, delay); failErr != nil {
			log.Error("failed to mark job as failed", "error", failErr)
		}
		wp.observe(JobStateFailed, duration)
		return true
	}

	log.Info("deindex job completed", "duration", duration.String())
	if err := wp.store.Complete(bg, job.ID, duration); err != nil {
		log.Error("failed to mark job as complete", "error", err)
	}
	wp.observe(JobStateSucceeded, duration)
	return true
}

func (wp *WorkerPool) observe(state JobState, d time.Duration) {
	if wp.observer != nil {
		wp.observer.JobFinished(state, d)
	}
}

// cleanupLoop periodically recovers stuck jobs and deletes old finished ones.
func (wp *WorkerPool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if wp.cfg.ClaimTimeout > 0 {
				recovered, err := wp.store.CleanupStuckJobs(ctx, wp.cfg.ClaimTimeout)
				if err != nil {
					wp.logger.Error("failed to cleanup stuck jobs", "error", err)
				} else if recovered > 0 {
					wp.logger.Info("recovered stuck jobs", "count", recovered)
				}
			}
			if wp.cfg.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
				deleted, err := wp.store.DeleteOlderThan(ctx, cutoff)
				if err != nil {
					wp.logger.Error("failed to delete old jobs", "error", err)
				} else if deleted > 0 {
					wp.logger.Info("deleted old jobs", "count", deleted)
				}
			}
		}
	}
}
