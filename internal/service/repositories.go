package service

import (
	"context"
	"time"

	"github.com/vipul43/mailsync/internal/models"
)

// AccountRepository interface for dependency injection
type AccountRepository interface {
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
	ListByUser(ctx context.Context, userID string) ([]models.Account, error)
	ListUserIDs(ctx context.Context) ([]string, error)
}

// SyncStateRepository persists per-account sync bookkeeping.
type SyncStateRepository interface {
	Get(ctx context.Context, accountID string) (*models.AccountSyncState, error)
	Ensure(ctx context.Context, accountID, userID string, at time.Time) (*models.AccountSyncState, error)
	SaveCursor(ctx context.Context, accountID string, cursor string, at time.Time) error
	ClearCursor(ctx context.Context, accountID string, at time.Time) error
	MarkSyncing(ctx context.Context, accountID string, at time.Time) error
	MarkSuccess(ctx context.Context, accountID string, cursor *string, at time.Time) error
	MarkFailed(ctx context.Context, accountID string, message string, at time.Time) error
	SaveSchedule(ctx context.Context, accountID string, next time.Time, priority int, reason string, at time.Time) error
	RecordRead(ctx context.Context, accountID string, readAt time.Time) error
	SetStatus(ctx context.Context, accountID string, status models.AccountSyncStatus, at time.Time) error
}

// SyncJobRepository persists the job queue. Create must refuse a second
// active job per account atomically.
type SyncJobRepository interface {
	Create(ctx context.Context, job *models.SyncJob) error
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
	NextEligible(ctx context.Context, now time.Time) (*models.SyncJob, error)
	MarkInProgress(ctx context.Context, jobID string, at time.Time) error
	MarkCompleted(ctx context.Context, jobID string, at time.Time) error
	Reschedule(ctx context.Context, jobID string, retryCount int, scheduledFor time.Time, message string, at time.Time) error
	MarkFailed(ctx context.Context, jobID string, message string, at time.Time) error
	CancelPending(ctx context.Context, accountID string, at time.Time) (int64, error)
	Expedite(ctx context.Context, accountID string, priority int, at time.Time) (job *models.SyncJob, changed bool, err error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListStaleInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]models.SyncJob, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.SyncJob, error)
	CountByStatus(ctx context.Context) (map[models.SyncJobStatus]int64, error)
}

// ActivityRepository stores the per-day received-mail counters.
type ActivityRepository interface {
	RecordEmails(ctx context.Context, accountID string, n int, at time.Time) error
	Stats(ctx context.Context, accountID string, now time.Time) (models.ActivityStats, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
