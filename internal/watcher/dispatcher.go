package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vipul43/mailsync/internal/metrics"
	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
	"github.com/vipul43/mailsync/internal/service"
	"github.com/vipul43/mailsync/internal/syncerr"
)

const (
	defaultJobTimeout     = 10 * time.Minute
	defaultPartialFailure = 0.25
	bookkeepingTimeout    = 30 * time.Second

	reapedMessage = "sync timed out"
)

type DispatcherConfig struct {
	JobTimeout              time.Duration
	Throttle                time.Duration
	PartialFailureThreshold float64
}

// Dispatcher drains eligible jobs through the sync executor and records the outcome.
type Dispatcher struct {
	queue    *service.JobQueue
	cursors  *service.CursorStore
	accounts service.AccountRepository
	activity service.ActivityRepository
	executor service.SyncExecutor
	cfg      DispatcherConfig
}

func NewDispatcher(
	queue *service.JobQueue,
	cursors *service.CursorStore,
	accounts service.AccountRepository,
	activity service.ActivityRepository,
	executor service.SyncExecutor,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.PartialFailureThreshold <= 0 {
		cfg.PartialFailureThreshold = defaultPartialFailure
	}
	return &Dispatcher{
		queue:    queue,
		cursors:  cursors,
		accounts: accounts,
		activity: activity,
		executor: executor,
		cfg:      cfg,
	}
}

// ProcessQueue runs jobs until none is eligible or ctx is done, and returns
// how many it ran. A job claimed by another worker is skipped.
func (d *Dispatcher) ProcessQueue(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		job, err := d.queue.NextEligible(ctx)
		if err != nil {
			return processed, fmt.Errorf("failed to fetch next job: %w", err)
		}
		if job == nil {
			return processed, nil
		}

		if err := d.queue.Start(ctx, job.ID); err != nil {
			if errors.Is(err, repository.ErrJobStateConflict) {
				continue
			}
			return processed, fmt.Errorf("failed to start job %s: %w", job.ID, err)
		}

		d.runJob(ctx, job)
		processed++

		if err := sleepWithContext(ctx, d.cfg.Throttle); err != nil {
			return processed, err
		}
	}
}

func (d *Dispatcher) runJob(ctx context.Context, job *models.SyncJob) {
	logger := slog.With("job_id", job.ID, "account_id", job.AccountID, "type", job.Type, "attempt", job.RetryCount+1)

	// bookkeeping must land even when shutdown cancels ctx mid-job
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	state, err := d.loadState(bctx, job)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			d.abandon(bctx, logger, job, "account not found")
			return
		}
		logger.Error("failed to load sync state", "error", err)
		d.recordFailure(bctx, logger, job, err)
		return
	}
	if state.Status == models.SyncStatusPaused {
		d.abandon(bctx, logger, job, "account paused")
		return
	}

	if err := d.cursors.MarkSyncing(bctx, job.AccountID); err != nil {
		logger.Warn("failed to mark account syncing", "error", err)
	}

	req := executeRequest(job, state)
	logger.Info("sync started", "mode", req.Mode)

	execCtx, execCancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	started := time.Now()
	result, err := d.executor.Execute(execCtx, req)
	execCancel()
	metrics.JobDuration.WithLabelValues(string(job.Type), string(req.Mode)).Observe(time.Since(started).Seconds())

	if err == nil && result == nil {
		result = &service.ExecuteResult{}
	}
	if err == nil {
		if ok := result.ItemsTotal - result.ItemsFailed; ok > 0 {
			metrics.ItemsSyncedTotal.WithLabelValues("ok").Add(float64(ok))
		}
		if result.ItemsFailed > 0 {
			metrics.ItemsSyncedTotal.WithLabelValues("failed").Add(float64(result.ItemsFailed))
			rate := result.FailureRate()
			accepted := rate <= d.cfg.PartialFailureThreshold
			metrics.PartialFailuresTotal.WithLabelValues(strconv.FormatBool(accepted)).Inc()
			if !accepted {
				err = fmt.Errorf("partial sync rejected: %d of %d items failed", result.ItemsFailed, result.ItemsTotal)
			} else {
				logger.Warn("partial sync accepted", "items_failed", result.ItemsFailed, "items_total", result.ItemsTotal)
			}
		}
	}
	if err != nil {
		d.recordFailure(bctx, logger, job, err)
		return
	}

	// the job must still be ours before the account state moves
	if err := d.queue.Complete(bctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrJobStateConflict) {
			logger.Warn("job was reaped while running, result discarded", "items_total", result.ItemsTotal)
			metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), "discarded").Inc()
			return
		}
		logger.Error("failed to complete job", "error", err)
		return
	}

	cursor := result.Cursor
	if job.Type == models.JobTypeSelective {
		cursor = nil
	}
	if req.Mode == service.SyncModeIncremental {
		if err := d.activity.RecordEmails(bctx, job.AccountID, result.ItemsTotal, time.Now()); err != nil {
			logger.Warn("failed to record activity", "error", err)
		}
	}
	if err := d.cursors.MarkSuccess(bctx, job.AccountID, cursor); err != nil {
		logger.Error("failed to record sync success", "error", err)
	}

	metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), "completed").Inc()
	logger.Info("sync completed", "items_total", result.ItemsTotal, "items_failed", result.ItemsFailed, "duration", time.Since(started))
}

// recordFailure classifies err and runs the failure bookkeeping. Retry
// decisions belong to the queue; retryability here only feeds logs and metrics.
func (d *Dispatcher) recordFailure(ctx context.Context, logger *slog.Logger, job *models.SyncJob, err error) {
	if errors.Is(err, service.ErrCursorInvalid) {
		if cerr := d.cursors.ClearCursor(ctx, job.AccountID); cerr != nil {
			logger.Error("failed to clear invalid cursor", "error", cerr)
		}
	}

	info := syncerr.Classify(err)
	metrics.JobErrorsTotal.WithLabelValues(string(info.Kind), strconv.FormatBool(info.Retryable)).Inc()

	if merr := d.cursors.MarkFailed(ctx, job.AccountID, info.OperatorMessage()); merr != nil {
		logger.Error("failed to record sync failure", "error", merr)
	}

	out, ferr := d.queue.FailAfter(ctx, job.ID, info.Message, info.RetryAfter)
	if ferr != nil {
		logger.Error("failed to fail job", "error", ferr)
		return
	}

	outcome := "failed"
	if out.Retrying {
		outcome = "retrying"
	}
	metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), outcome).Inc()
	logger.Warn("sync failed",
		"kind", info.Kind,
		"retryable", info.Retryable,
		"retrying", out.Retrying,
		"next_attempt_at", out.NextAttemptAt,
		"error", err)
}

func (d *Dispatcher) abandon(ctx context.Context, logger *slog.Logger, job *models.SyncJob, reason string) {
	if err := d.queue.Abandon(ctx, job.ID, reason); err != nil {
		logger.Error("failed to abandon job", "reason", reason, "error", err)
		return
	}
	metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), "abandoned").Inc()
	logger.Info("job abandoned", "reason", reason)
}

// loadState returns the account's sync state, creating it for accounts that
// were queued before onboarding ran.
func (d *Dispatcher) loadState(ctx context.Context, job *models.SyncJob) (*models.AccountSyncState, error) {
	state, err := d.cursors.GetState(ctx, job.AccountID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, repository.ErrSyncStateNotFound) {
		return nil, err
	}
	account, err := d.accounts.GetByID(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}
	return d.cursors.Ensure(ctx, account.ID, account.UserID)
}

// ReapStale fails in-progress jobs older than staleAfter through the normal
// failure path, so they retry with backoff or go terminal.
func (d *Dispatcher) ReapStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	jobs, err := d.queue.StaleJobs(ctx, staleAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	reaped := 0
	for _, job := range jobs {
		logger := slog.With("job_id", job.ID, "account_id", job.AccountID, "started_at", job.StartedAt)
		out, err := d.queue.Fail(ctx, job.ID, reapedMessage)
		if err != nil {
			if errors.Is(err, repository.ErrJobStateConflict) {
				continue // finished while we looked
			}
			logger.Error("failed to reap job", "error", err)
			continue
		}
		if err := d.cursors.MarkFailed(ctx, job.AccountID, reapedMessage); err != nil {
			logger.Warn("failed to record timeout on account", "error", err)
		}
		reaped++
		metrics.ReapedJobsTotal.Inc()
		logger.Warn("reaped stale job", "retrying", out.Retrying)
	}
	return reaped, nil
}

func executeRequest(job *models.SyncJob, state *models.AccountSyncState) service.ExecuteRequest {
	req := service.ExecuteRequest{
		AccountID: job.AccountID,
		Folders:   job.Metadata.Folders,
		Since:     job.Metadata.Since,
		Limit:     job.Metadata.Limit,
	}
	switch {
	case job.Type == models.JobTypeFull, job.Type == models.JobTypeSelective, state.Cursor == nil:
		req.Mode = service.SyncModeFull
	default:
		req.Mode = service.SyncModeIncremental
		req.Cursor = state.Cursor
	}
	return req
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
