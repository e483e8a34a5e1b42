// Package jobs provides the persistent job queue and the long-lived workers
// that drain it. Job records live in the system store; at most one job per
// (user, type) is in progress at a time, and jobs of the same type for one
// user run in submission order.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/cleanup"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
)

// Queue is the persistent job queue. Enqueue wakes the matching worker; Get,
// Cancel, and List enforce the cross-user visibility rule.
type Queue struct {
	system *store.SystemStore
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	wakeups  map[string]chan struct{}
	cancels  map[string]context.CancelFunc
	lastUser map[string]string
}

// NewQueue builds a queue over the system store.
func NewQueue(system *store.SystemStore, log *zap.Logger) *Queue {
	return &Queue{
		system:   system,
		log:      log.Named("jobs"),
		now:      time.Now,
		wakeups:  make(map[string]chan struct{}),
		cancels:  make(map[string]context.CancelFunc),
		lastUser: make(map[string]string),
	}
}

// Enqueue persists a new pending job and wakes the worker for its type.
func (q *Queue) Enqueue(ctx context.Context, userID, jobType string, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding job params: %w", err)
	}
	job := &model.Job{
		ID:            uuid.NewString(),
		UserID:        userID,
		JobType:       jobType,
		Status:        model.JobPending,
		RequestParams: raw,
		CreatedAt:     q.now().UTC(),
	}
	if err := q.system.InsertJob(ctx, job); err != nil {
		return "", err
	}
	q.log.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("job_type", jobType),
		zap.String("user_id", userID))
	q.wake(jobType)
	return job.ID, nil
}

// Get returns a job. When requestingUserID is set and the job belongs to a
// different user, the job does not exist from the caller's point of view.
// System jobs (no user) are visible to everyone.
func (q *Queue) Get(ctx context.Context, id, requestingUserID string) (*model.Job, error) {
	job, err := q.system.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if requestingUserID != "" && job.UserID != "" && job.UserID != requestingUserID {
		return nil, model.NotFoundf("job %s", id)
	}
	return job, nil
}

// Cancel moves a non-terminal job to cancelled and interrupts its worker.
// Cancelling a terminal job is a no-op. The same ownership rule as Get
// applies.
func (q *Queue) Cancel(ctx context.Context, id, requestingUserID string) (*model.Job, error) {
	job, err := q.Get(ctx, id, requestingUserID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	job.Status = model.JobCancelled
	done := q.now().UTC()
	job.CompletedAt = &done
	if err := q.system.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	q.mu.Lock()
	cancel := q.cancels[id]
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.log.Info("job cancelled", zap.String("job_id", id))
	return job, nil
}

// List applies the filter, newest first.
func (q *Queue) List(ctx context.Context, f model.JobFilter) ([]*model.Job, error) {
	return q.system.ListJobs(ctx, f)
}

// SubmitCleanup implements the automation submitter: single-flight conflicts
// are reported as such so continuous mode does not pile up duplicates.
func (q *Queue) SubmitCleanup(ctx context.Context, userID string, req cleanup.CleanupRequest) (string, error) {
	pending, err := q.system.ListJobs(ctx, model.JobFilter{
		UserID: userID, JobType: model.JobTypeCleanup, Status: model.JobPending, Limit: 1,
	})
	if err != nil {
		return "", err
	}
	active, err := q.system.HasActiveJob(ctx, userID, model.JobTypeCleanup)
	if err != nil {
		return "", err
	}
	if len(pending) > 0 || active {
		return "", model.Conflictf("cleanup already queued for user %s", userID)
	}
	return q.Enqueue(ctx, userID, model.JobTypeCleanup, req)
}

// ActiveCleanupJobs counts in-progress cleanup jobs across all users.
func (q *Queue) ActiveCleanupJobs(ctx context.Context) (int, error) {
	jobsInFlight, err := q.system.ListJobs(ctx, model.JobFilter{
		JobType: model.JobTypeCleanup, Status: model.JobInProgress,
	})
	if err != nil {
		return 0, err
	}
	return len(jobsInFlight), nil
}

// claim transitions the oldest eligible pending job of a type to in_progress
// and hands it to the worker with a cancellable context. The last-served user
// is deprioritized so one user's backlog cannot monopolize a worker. Returns
// nil when nothing is runnable.
func (q *Queue) claim(ctx context.Context, jobType string) (*model.Job, context.Context, context.CancelFunc, error) {
	q.mu.Lock()
	last := q.lastUser[jobType]
	q.mu.Unlock()

	job, err := q.system.NextPendingJob(ctx, jobType, last)
	if err != nil || job == nil {
		return nil, nil, nil, err
	}

	// Single-flight per (user, type). With one worker per type this holds by
	// construction, but a second process over the same store must not break it.
	active, err := q.system.HasActiveJob(ctx, job.UserID, jobType)
	if err != nil {
		return nil, nil, nil, err
	}
	if active {
		return nil, nil, nil, nil
	}

	job.Status = model.JobInProgress
	started := q.now().UTC()
	job.StartedAt = &started
	if err := q.system.UpdateJob(ctx, job); err != nil {
		return nil, nil, nil, err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancels[job.ID] = cancel
	q.lastUser[jobType] = job.UserID
	q.mu.Unlock()
	return job, jobCtx, cancel, nil
}

// release drops the cancel registration after a job finishes.
func (q *Queue) release(jobID string) {
	q.mu.Lock()
	delete(q.cancels, jobID)
	q.mu.Unlock()
}

// finish writes the terminal state, unless the job was cancelled underneath
// the worker, in which case cancelled wins.
func (q *Queue) finish(ctx context.Context, job *model.Job, results any, runErr error) {
	current, err := q.system.GetJob(ctx, job.ID)
	if err == nil && current.Status == model.JobCancelled {
		return
	}

	done := q.now().UTC()
	job.CompletedAt = &done
	if runErr != nil {
		job.Status = model.JobFailed
		job.ErrorDetails = runErr.Error()
	} else {
		job.Status = model.JobCompleted
		job.Progress = 100
		if results != nil {
			if raw, err := json.Marshal(results); err == nil {
				job.Results = raw
			}
		}
	}
	if err := q.system.UpdateJob(ctx, job); err != nil {
		q.log.Error("writing terminal job state failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

// writeProgress persists a progress value for an in-flight job.
func (q *Queue) writeProgress(ctx context.Context, job *model.Job, progress int) {
	job.Progress = progress
	if err := q.system.UpdateJob(ctx, job); err != nil {
		q.log.Warn("writing job progress failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (q *Queue) wake(jobType string) {
	ch := q.wakeupChan(jobType)
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *Queue) wakeupChan(jobType string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.wakeups[jobType] == nil {
		q.wakeups[jobType] = make(chan struct{}, 1)
	}
	return q.wakeups[jobType]
}
