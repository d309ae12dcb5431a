package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/mailsync/internal/models"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound = errors.New("sync job not found")
	// ErrJobStateConflict means a compare-and-swap transition found the job in another state.
	ErrJobStateConflict = errors.New("sync job state conflict")
	// ErrJobAlreadyQueued means the account already holds an active job.
	ErrJobAlreadyQueued = errors.New("account already has an active sync job")
)

const cancelledMessage = "cancelled"

type SyncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create inserts a pending job. The partial unique index on active jobs makes
// the duplicate check atomic across processes.
func (r *SyncJobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	result := r.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrJobAlreadyQueued
		}
		return fmt.Errorf("failed to create sync job: %w", result.Error)
	}
	return nil
}

// GetByID retrieves a job by ID
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, ErrJobNotFound
	}
	var job models.SyncJob
	result := r.db.WithContext(ctx).First(&job, "id = ?", jobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get sync job: %w", result.Error)
	}
	return &job, nil
}

// NextEligible returns the highest priority due job, or nil when none is due
func (r *SyncJobRepository) NextEligible(ctx context.Context, now time.Time) (*models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.JobStatusPending, now).
		Order("priority ASC, scheduled_for ASC, created_at ASC").
		Limit(1).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query eligible jobs: %w", result.Error)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// MarkInProgress claims a pending job. Losing the race returns ErrJobStateConflict.
func (r *SyncJobRepository) MarkInProgress(ctx context.Context, jobID string, at time.Time) error {
	return r.transition(ctx, jobID, models.JobStatusPending, map[string]interface{}{
		"status":     models.JobStatusInProgress,
		"started_at": at,
		"updated_at": at,
	})
}

// MarkCompleted finishes an in-progress job
func (r *SyncJobRepository) MarkCompleted(ctx context.Context, jobID string, at time.Time) error {
	return r.transition(ctx, jobID, models.JobStatusInProgress, map[string]interface{}{
		"status":        models.JobStatusCompleted,
		"completed_at":  at,
		"error_message": gorm.Expr("NULL"),
		"updated_at":    at,
	})
}

// Reschedule puts an in-progress job back to pending for another attempt.
// retryCount is the value observed by the caller; a concurrent change wins.
func (r *SyncJobRepository) Reschedule(ctx context.Context, jobID string, retryCount int, scheduledFor time.Time, message string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ? AND retry_count = ?", jobID, models.JobStatusInProgress, retryCount).
		Updates(map[string]interface{}{
			"status":        models.JobStatusPending,
			"retry_count":   retryCount + 1,
			"scheduled_for": scheduledFor,
			"started_at":    gorm.Expr("NULL"),
			"error_message": message,
			"updated_at":    at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reschedule sync job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, jobID)
	}
	return nil
}

// MarkFailed moves an in-progress job to the terminal failed state
func (r *SyncJobRepository) MarkFailed(ctx context.Context, jobID string, message string, at time.Time) error {
	return r.transition(ctx, jobID, models.JobStatusInProgress, map[string]interface{}{
		"status":        models.JobStatusFailed,
		"completed_at":  at,
		"error_message": message,
		"updated_at":    at,
	})
}

// CancelPending fails every pending job of the account
func (r *SyncJobRepository) CancelPending(ctx context.Context, accountID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("account_id = ? AND status = ?", accountID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":        models.JobStatusFailed,
			"error_message": cancelledMessage,
			"completed_at":  at,
			"updated_at":    at,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel sync jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Expedite pulls the account's pending job forward so it is due at and runs
// at priority or better. changed is false when the job already was. Returns
// ErrJobNotFound when the account has no pending job.
func (r *SyncJobRepository) Expedite(ctx context.Context, accountID string, priority int, at time.Time) (*models.SyncJob, bool, error) {
	var jobs []models.SyncJob
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, models.JobStatusPending).
		Limit(1).
		Find(&jobs).Error; err != nil {
		return nil, false, fmt.Errorf("failed to find pending sync job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, false, ErrJobNotFound
	}
	jobID := jobs[0].ID

	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ? AND (priority > ? OR scheduled_for > ?)", jobID, models.JobStatusPending, priority, at).
		Updates(map[string]interface{}{
			"priority":      gorm.Expr("LEAST(priority, ?)", priority),
			"scheduled_for": gorm.Expr("LEAST(scheduled_for, ?)", at),
			"updated_at":    at,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to expedite sync job: %w", result.Error)
	}

	job, err := r.GetByID(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Status != models.JobStatusPending {
		return nil, false, ErrJobStateConflict
	}
	return job, result.RowsAffected > 0, nil
}

// DeleteCompletedBefore removes completed jobs finished before cutoff.
// Failed and pending jobs are kept.
func (r *SyncJobRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", models.JobStatusCompleted, cutoff).
		Delete(&models.SyncJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete completed jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListStaleInProgress returns in-progress jobs started before the cutoff
func (r *SyncJobRepository) ListStaleInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", models.JobStatusInProgress, startedBefore).
		Order("started_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query stale jobs: %w", result.Error)
	}
	return jobs, nil
}

// ListByAccount returns the account's most recent jobs
func (r *SyncJobRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", result.Error)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs per status
func (r *SyncJobRepository) CountByStatus(ctx context.Context) (map[models.SyncJobStatus]int64, error) {
	var rows []struct {
		Status models.SyncJobStatus
		Count  int64
	}
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to count sync jobs: %w", result.Error)
	}
	counts := make(map[models.SyncJobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *SyncJobRepository) transition(ctx context.Context, jobID string, from models.SyncJobStatus, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update sync job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, jobID)
	}
	return nil
}

func (r *SyncJobRepository) conflictOrMissing(ctx context.Context, jobID string) error {
	if _, err := r.GetByID(ctx, jobID); err != nil {
		return err
	}
	return ErrJobStateConflict
}
