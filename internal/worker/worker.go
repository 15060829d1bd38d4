// Package worker implements the job consumption loop.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/metrics"
	"github.com/JakeFAU/hidden-spot/internal/pipeline"
	"github.com/JakeFAU/hidden-spot/internal/queue"
)

const enqueueTimeout = 5 * time.Second

// Runner executes one job to a terminal outcome.
type Runner interface {
	Run(ctx context.Context, job queue.Job) pipeline.Outcome
}

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts bounds the number of runs of one job, the first included.
	MaxAttempts int
	// Backoff is the delay before each retry; the last value repeats.
	Backoff []time.Duration
	// JobTimeout caps one run. Zero means no limit.
	JobTimeout time.Duration
}

// Worker consumes queue jobs and runs them through the pipeline.
type Worker struct {
	id      int
	queue   queue.Queue
	runner  Runner
	cfg     Config
	logger  *zap.Logger
	pending sync.WaitGroup
}

// New constructs a Worker.
func New(id int, q queue.Queue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}
	}
	return &Worker{
		id:     id,
		queue:  q,
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming jobs until ctx finishes or the queue closes. It
// returns once every scheduled retry has been handed back to the queue.
func (w *Worker) Run(ctx context.Context) {
	defer w.pending.Wait()
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("run_id", job.RunID), zap.Int("attempt", job.Attempt))
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job queue.Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	out := w.runner.Run(runCtx, job)
	logger := w.logger.With(zap.String("run_id", job.RunID), zap.String("outcome", out.Kind.String()))
	switch out.Kind {
	case pipeline.Succeeded:
		logger.Info("job finished", zap.String("gold_path", out.GoldPath))
	case pipeline.Fatal:
		logger.Warn("job failed permanently", zap.String("error_type", out.ErrorType), zap.Error(out.Err))
	case pipeline.Retryable:
		if job.Attempt+1 >= w.cfg.MaxAttempts {
			logger.Error("job exhausted retries",
				zap.Int("attempts", job.Attempt+1),
				zap.String("error_type", out.ErrorType),
				zap.Error(out.Err),
			)
			return
		}
		w.retry(ctx, job, logger)
	}
}

// retry re-enqueues job after its backoff without holding the worker.
func (w *Worker) retry(ctx context.Context, job queue.Job, logger *zap.Logger) {
	delay := w.Backoff(job.Attempt)
	next := job
	next.Attempt++
	metrics.ObserveJobRetry()
	logger.Info("scheduling retry", zap.Int("attempt", next.Attempt), zap.Duration("backoff", delay))

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		enqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
		defer cancel()
		if err := w.queue.Enqueue(enqCtx, next); err != nil {
			logger.Error("retry enqueue failed", zap.Error(err))
		}
	}()
}

// Backoff returns the delay before retry number attempt+1.
func (w *Worker) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(w.cfg.Backoff) {
		return w.cfg.Backoff[len(w.cfg.Backoff)-1]
	}
	return w.cfg.Backoff[attempt]
}
