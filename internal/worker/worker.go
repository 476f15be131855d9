package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"subforge/internal/models"
	"subforge/internal/storage"
)

// JobHandler processes a job and returns the summary shown to the user.
type JobHandler func(ctx context.Context, job *models.Job) (string, error)

// FinishFunc is called after every job with its final status.
type FinishFunc func(job *models.Job, status string, err error, took time.Duration)

// Worker processes queued jobs one at a time.
type Worker struct {
	jobRepo  *storage.JobRepository
	handlers map[string]JobHandler
	interval time.Duration
	classify func(error) string
	onFinish FinishFunc
	logger   *slog.Logger

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.RWMutex

	runningID string
	cancel    context.CancelFunc
}

// NewWorker creates a new worker
func NewWorker(jobRepo *storage.JobRepository, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobRepo:  jobRepo,
		handlers: make(map[string]JobHandler),
		interval: 1 * time.Second,
		classify: func(error) string { return "" },
		logger:   logger,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// RegisterHandler registers a handler for a job kind
func (w *Worker) RegisterHandler(kind string, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = handler
}

// SetInterval sets the polling interval
func (w *Worker) SetInterval(interval time.Duration) {
	if interval > 0 {
		w.interval = interval
	}
}

// SetClassifier sets the function that maps a handler error to the error
// kind stored on the job.
func (w *Worker) SetClassifier(fn func(error) string) {
	if fn != nil {
		w.classify = fn
	}
}

// OnFinish registers a callback for finished jobs.
func (w *Worker) OnFinish(fn FinishFunc) {
	w.onFinish = fn
}

// Start begins processing jobs
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("worker started", "interval", w.interval)
}

// Stop gracefully stops the worker, cancelling the running job.
func (w *Worker) Stop() {
	close(w.stop)
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// Notify wakes the worker without waiting for the next tick.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Cancel stops the job with the given id if it is the one running.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runningID != jobID || w.cancel == nil {
		return false
	}
	w.cancel()
	return true
}

// Running returns the id of the job in progress, if any.
func (w *Worker) Running() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runningID
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		case <-w.wake:
		}
		// drain the queue before sleeping again
		for w.processNextJob(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			default:
			}
		}
	}
}

// processNextJob runs one queued job and reports whether there was one.
func (w *Worker) processNextJob(ctx context.Context) bool {
	job, err := w.jobRepo.GetNextQueued(ctx)
	if err != nil {
		w.logger.Error("failed to get next job", "error", err)
		return false
	}
	if job == nil {
		return false
	}
	return w.runJob(ctx, job)
}

// runJob claims job and runs its handler. It returns false only when the
// claim itself failed.
func (w *Worker) runJob(ctx context.Context, job *models.Job) bool {
	started, err := w.jobRepo.Start(ctx, job.ID)
	if err != nil {
		w.logger.Error("failed to start job", "job", job.ID, "error", err)
		return false
	}
	if !started {
		// cancelled between GetNextQueued and Start
		w.logger.Info("job left the queue before it started", "job", job.ID)
		return true
	}
	job.Status = models.JobStatusRunning

	w.mu.RLock()
	handler, ok := w.handlers[job.Kind]
	w.mu.RUnlock()

	if !ok {
		w.logger.Warn("no handler for job kind", "job", job.ID, "kind", job.Kind)
		err := errors.New("no handler registered for job kind: " + job.Kind)
		if ferr := w.jobRepo.Fail(ctx, job.ID, err.Error(), "input"); ferr != nil {
			w.logger.Error("failed to record job failure", "job", job.ID, "error", ferr)
		}
		w.finish(job, models.JobStatusFailed, err, 0)
		return true
	}

	jobCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.runningID, w.cancel = job.ID, cancel
	w.mu.Unlock()
	defer func() {
		cancel()
		w.mu.Lock()
		w.runningID, w.cancel = "", nil
		w.mu.Unlock()
	}()

	w.logger.Info("processing job", "job", job.ID, "kind", job.Kind)
	start := time.Now()

	summary, err := w.runHandler(jobCtx, handler, job)
	took := time.Since(start)

	// the job context may be gone; persist the outcome regardless
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		kind := w.classify(err)
		w.logger.Warn("job failed", "job", job.ID, "kind", job.Kind, "error_kind", kind, "error", err, "took", took)
		if ferr := w.jobRepo.Fail(persistCtx, job.ID, err.Error(), kind); ferr != nil {
			w.logger.Error("failed to record job failure", "job", job.ID, "error", ferr)
		}
		w.finish(job, models.JobStatusFailed, err, took)
		return true
	}

	if err := w.jobRepo.Complete(persistCtx, job.ID, summary); err != nil {
		w.logger.Error("failed to complete job", "job", job.ID, "error", err)
	}
	w.logger.Info("job completed", "job", job.ID, "kind", job.Kind, "took", took)
	w.finish(job, models.JobStatusCompleted, nil, took)
	return true
}

// runHandler keeps a panicking handler from taking the server down.
func (w *Worker) runHandler(ctx context.Context, handler JobHandler, job *models.Job) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job handler panicked", "job", job.ID, "panic", r)
			err = errors.New("internal error while processing job")
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) finish(job *models.Job, status string, err error, took time.Duration) {
	if w.onFinish != nil {
		w.onFinish(job, status, err, took)
	}
}

// SubmitJob creates a new job, adds it to the queue and wakes the worker.
func (w *Worker) SubmitJob(ctx context.Context, job *models.Job) error {
	if err := w.jobRepo.Create(ctx, job); err != nil {
		return err
	}
	w.logger.Info("job submitted", "job", job.ID, "kind", job.Kind)
	w.Notify()
	return nil
}
