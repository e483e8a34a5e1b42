package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mailsteward/mailsteward/internal/model"
)

// Progress flush bounds: progress is written back at batch boundaries, at
// most this often unless enough new messages accumulated.
const (
	progressFlushMessages = 10
	progressFlushInterval = 2 * time.Second
)

// pollInterval is the fallback poll when no wakeup arrives.
const pollInterval = 5 * time.Second

// Handler executes one job. It must honor ctx cancellation at batch
// boundaries and may call report with (messages processed, percent done).
type Handler func(ctx context.Context, job *model.Job, report ProgressFunc) (results any, err error)

// ProgressFunc receives cumulative message counts and a 0..100 percentage.
type ProgressFunc func(messages, percent int)

// Worker drains jobs of one type. One worker per type runs per process; each
// work item is single-threaded.
type Worker struct {
	queue   *Queue
	jobType string
	handler Handler
	log     *zap.Logger
}

// NewWorker builds a worker for one job type.
func NewWorker(queue *Queue, jobType string, handler Handler, log *zap.Logger) *Worker {
	return &Worker{
		queue:   queue,
		jobType: jobType,
		handler: handler,
		log:     log.Named("worker").With(zap.String("job_type", jobType)),
	}
}

// Run blocks draining the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	wakeup := w.queue.wakeupChan(w.jobType)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wakeup:
		case <-ticker.C:
		}
	}
}

// drain claims and runs pending jobs until the queue is empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, jobCtx, cancel, err := w.queue.claim(ctx, w.jobType)
		if err != nil {
			w.log.Error("claiming job failed", zap.Error(err))
			return
		}
		if job == nil {
			return
		}
		w.runOne(jobCtx, job)
		cancel()
		w.queue.release(job.ID)
	}
}

func (w *Worker) runOne(ctx context.Context, job *model.Job) {
	w.log.Info("job started", zap.String("job_id", job.ID), zap.String("user_id", job.UserID))

	flusher := newProgressFlusher(w.queue, job)
	results, err := w.handler(ctx, job, flusher.report)
	flusher.close()

	if err != nil && ctx.Err() != nil {
		// Cancellation already wrote the terminal state.
		w.log.Info("job interrupted", zap.String("job_id", job.ID))
		w.queue.finish(context.WithoutCancel(ctx), job, results, err)
		return
	}
	w.queue.finish(context.WithoutCancel(ctx), job, results, err)
	if err != nil {
		w.log.Warn("job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.log.Info("job completed", zap.String("job_id", job.ID))
}

// progressFlusher coalesces progress reports: it writes through when at least
// progressFlushMessages new messages were processed or the flush interval
// elapsed, whichever comes first.
type progressFlusher struct {
	queue *Queue
	job   *model.Job

	mu            sync.Mutex
	lastMessages  int
	lastFlush     time.Time
	latestPercent int
}

func newProgressFlusher(queue *Queue, job *model.Job) *progressFlusher {
	return &progressFlusher{queue: queue, job: job, lastFlush: time.Now()}
}

func (f *progressFlusher) report(messages, percent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestPercent = percent
	if messages-f.lastMessages >= progressFlushMessages || time.Since(f.lastFlush) >= progressFlushInterval {
		f.flushLocked(messages)
	}
}

func (f *progressFlusher) flushLocked(messages int) {
	f.lastMessages = messages
	f.lastFlush = time.Now()
	f.queue.writeProgress(context.Background(), f.job, f.latestPercent)
}

func (f *progressFlusher) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushLocked(f.lastMessages)
}

// RunWorkers starts one worker per registered handler and blocks until the
// context is cancelled.
func RunWorkers(ctx context.Context, queue *Queue, handlers map[string]Handler, log *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	for jobType, h := range handlers {
		w := NewWorker(queue, jobType, h, log)
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}
