package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/mailsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSyncStateNotFound = errors.New("sync state not found")

type SyncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Get retrieves the sync state row for an account
func (r *SyncStateRepository) Get(ctx context.Context, accountID string) (*models.AccountSyncState, error) {
	var state models.AccountSyncState
	result := r.db.WithContext(ctx).First(&state, "account_id = ?", accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSyncStateNotFound
		}
		return nil, fmt.Errorf("failed to get sync state: %w", result.Error)
	}
	return &state, nil
}

// Ensure creates an idle row for the account if none exists and returns the current row
func (r *SyncStateRepository) Ensure(ctx context.Context, accountID, userID string, at time.Time) (*models.AccountSyncState, error) {
	state := models.AccountSyncState{
		AccountID: accountID,
		UserID:    userID,
		Status:    models.SyncStatusIdle,
		Priority:  models.PriorityNormal,
		CreatedAt: at,
		UpdatedAt: at,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(&state)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create sync state: %w", result.Error)
	}
	return r.Get(ctx, accountID)
}

// SaveCursor stores the resume token without touching status or counters
func (r *SyncStateRepository) SaveCursor(ctx context.Context, accountID string, cursor string, at time.Time) error {
	return r.update(ctx, accountID, map[string]interface{}{
		"cursor":       cursor,
		"last_sync_at": at,
		"updated_at":   at,
	})
}

// ClearCursor drops the resume token so the next sync is a full one
func (r *SyncStateRepository) ClearCursor(ctx context.Context, accountID string, at time.Time) error {
	return r.update(ctx, accountID, map[string]interface{}{
		"cursor":     gorm.Expr("NULL"),
		"updated_at": at,
	})
}

// MarkSyncing flags the account while a job runs against it
func (r *SyncStateRepository) MarkSyncing(ctx context.Context, accountID string, at time.Time) error {
	return r.update(ctx, accountID, map[string]interface{}{
		"status":     models.SyncStatusSyncing,
		"updated_at": at,
	})
}

// MarkSuccess resets the error streak; cursor is only replaced when non-nil
func (r *SyncStateRepository) MarkSuccess(ctx context.Context, accountID string, cursor *string, at time.Time) error {
	updates := map[string]interface{}{
		"status":                  models.SyncStatusSuccess,
		"last_sync_at":            at,
		"last_successful_sync_at": at,
		"error_count":             0,
		"consecutive_errors":      0,
		"last_sync_error":         gorm.Expr("NULL"),
		"updated_at":              at,
	}
	if cursor != nil {
		updates["cursor"] = *cursor
	}
	return r.update(ctx, accountID, updates)
}

// MarkFailed records the error and bumps both counters atomically
func (r *SyncStateRepository) MarkFailed(ctx context.Context, accountID string, message string, at time.Time) error {
	return r.update(ctx, accountID, map[string]interface{}{
		"status":             models.SyncStatusError,
		"last_sync_error":    message,
		"error_count":        gorm.Expr("error_count + 1"),
		"consecutive_errors": gorm.Expr("consecutive_errors + 1"),
		"last_sync_at":       at,
		"updated_at":         at,
	})
}

// SaveSchedule persists the scheduler's latest decision
func (r *SyncStateRepository) SaveSchedule(ctx context.Context, accountID string, next time.Time, priority int, reason string, at time.Time) error {
	return r.update(ctx, accountID, map[string]interface{}{
		"next_scheduled_sync_at": next,
		"priority":               models.ClampPriority(priority),
		"schedule_reason":        reason,
		"updated_at":             at,
	})
}

// RecordRead stores the latest time the user opened the mailbox
func (r *SyncStateRepository) RecordRead(ctx context.Context, accountID string, readAt time.Time) error {
	return r.update(ctx, accountID, map[string]interface{}{
		"last_read_at": gorm.Expr("GREATEST(COALESCE(last_read_at, ?), ?)", readAt, readAt),
		"updated_at":   time.Now(),
	})
}

// SetStatus is used for pause/resume
func (r *SyncStateRepository) SetStatus(ctx context.Context, accountID string, status models.AccountSyncStatus, at time.Time) error {
	return r.update(ctx, accountID, map[string]interface{}{
		"status":     status,
		"updated_at": at,
	})
}

func (r *SyncStateRepository) update(ctx context.Context, accountID string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.AccountSyncState{}).
		Where("account_id = ?", accountID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update sync state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSyncStateNotFound
	}
	return nil
}
