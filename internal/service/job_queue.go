package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/mailsync/internal/backoff"
	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
)

// ErrAlreadyQueued is returned by Enqueue when the account already has a
// pending or in-progress job. Callers treat it as "sync in flight".
var ErrAlreadyQueued = errors.New("sync already queued")

const staleJobsBatch = 100

type EnqueueOptions struct {
	Type         models.SyncJobType
	Priority     int
	ScheduledFor time.Time // zero means now
	Metadata     models.JobMetadata
	MaxRetries   int // zero means the queue default
}

// FailOutcome describes what Fail did with the job.
type FailOutcome struct {
	Retrying      bool
	RetryCount    int
	NextAttemptAt time.Time
}

type JobQueue struct {
	jobs       SyncJobRepository
	backoff    backoff.Policy
	maxRetries int
	now        func() time.Time
}

func NewJobQueue(jobs SyncJobRepository, policy backoff.Policy, maxRetries int) *JobQueue {
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}
	return &JobQueue{
		jobs:       jobs,
		backoff:    policy,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Enqueue creates a pending job for the account and returns its ID.
func (q *JobQueue) Enqueue(ctx context.Context, accountID string, opts EnqueueOptions) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("account id is required")
	}
	if opts.Type == "" {
		opts.Type = models.JobTypeIncremental
	}
	if !opts.Type.Valid() {
		return "", fmt.Errorf("unknown sync job type %q", opts.Type)
	}

	now := q.now()
	scheduledFor := opts.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.maxRetries
	}

	job := &models.SyncJob{
		AccountID:    accountID,
		Type:         opts.Type,
		Status:       models.JobStatusPending,
		Priority:     models.ClampPriority(opts.Priority),
		ScheduledFor: scheduledFor,
		MaxRetries:   maxRetries,
		Metadata:     opts.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobAlreadyQueued) {
			return "", ErrAlreadyQueued
		}
		return "", err
	}
	return job.ID, nil
}

// NextEligible returns the most urgent due job or nil.
func (q *JobQueue) NextEligible(ctx context.Context) (*models.SyncJob, error) {
	return q.jobs.NextEligible(ctx, q.now())
}

func (q *JobQueue) Get(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return q.jobs.GetByID(ctx, jobID)
}

// Start claims a pending job. Concurrent callers get repository.ErrJobStateConflict.
func (q *JobQueue) Start(ctx context.Context, jobID string) error {
	return q.jobs.MarkInProgress(ctx, jobID, q.now())
}

func (q *JobQueue) Complete(ctx context.Context, jobID string) error {
	return q.jobs.MarkCompleted(ctx, jobID, q.now())
}

// Fail retries the job with backoff while retries remain, otherwise marks it failed.
func (q *JobQueue) Fail(ctx context.Context, jobID string, message string) (FailOutcome, error) {
	return q.FailAfter(ctx, jobID, message, 0)
}

// FailAfter is Fail with a provider-mandated delay that replaces the backoff when positive.
func (q *JobQueue) FailAfter(ctx context.Context, jobID string, message string, retryAfter time.Duration) (FailOutcome, error) {
	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return FailOutcome{}, err
	}
	if job.Status != models.JobStatusInProgress {
		return FailOutcome{}, repository.ErrJobStateConflict
	}

	now := q.now()
	if job.RetryCount >= job.MaxRetries {
		if err := q.jobs.MarkFailed(ctx, jobID, message, now); err != nil {
			return FailOutcome{}, err
		}
		return FailOutcome{RetryCount: job.RetryCount}, nil
	}

	attempt := job.RetryCount + 1
	next := q.backoff.NextRetryAt(now, attempt, retryAfter)
	if err := q.jobs.Reschedule(ctx, jobID, job.RetryCount, next, message, now); err != nil {
		return FailOutcome{}, err
	}
	return FailOutcome{Retrying: true, RetryCount: attempt, NextAttemptAt: next}, nil
}

// Abandon fails an in-progress job without consuming a retry.
func (q *JobQueue) Abandon(ctx context.Context, jobID string, message string) error {
	return q.jobs.MarkFailed(ctx, jobID, message, q.now())
}

// CancelAccountJobs fails the account's pending jobs with reason "cancelled".
// In-progress work is left to finish.
func (q *JobQueue) CancelAccountJobs(ctx context.Context, accountID string) (int64, error) {
	return q.jobs.CancelPending(ctx, accountID, q.now())
}

// ExpediteResult reports what Expedite found for the account.
type ExpediteResult struct {
	JobID   string
	Pending bool // a pending job exists; false when the active job is already running
	Changed bool // the job was moved forward or raised in priority
}

// Expedite makes the account's pending job due now at priority or better.
func (q *JobQueue) Expedite(ctx context.Context, accountID string, priority int) (ExpediteResult, error) {
	job, changed, err := q.jobs.Expedite(ctx, accountID, models.ClampPriority(priority), q.now())
	if errors.Is(err, repository.ErrJobNotFound) || errors.Is(err, repository.ErrJobStateConflict) {
		return ExpediteResult{}, nil
	}
	if err != nil {
		return ExpediteResult{}, err
	}
	return ExpediteResult{JobID: job.ID, Pending: true, Changed: changed}, nil
}

// Cleanup deletes completed jobs older than the retention window.
func (q *JobQueue) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("retention must not be negative, got %d days", olderThanDays)
	}
	cutoff := q.now().AddDate(0, 0, -olderThanDays)
	return q.jobs.DeleteCompletedBefore(ctx, cutoff)
}

// StaleJobs lists in-progress jobs started longer than timeout ago.
func (q *JobQueue) StaleJobs(ctx context.Context, timeout time.Duration) ([]models.SyncJob, error) {
	return q.jobs.ListStaleInProgress(ctx, q.now().Add(-timeout), staleJobsBatch)
}

func (q *JobQueue) AccountJobs(ctx context.Context, accountID string, limit int) ([]models.SyncJob, error) {
	return q.jobs.ListByAccount(ctx, accountID, limit)
}

// Depth counts jobs by status.
func (q *JobQueue) Depth(ctx context.Context) (map[models.SyncJobStatus]int64, error) {
	return q.jobs.CountByStatus(ctx)
}
