package models

import "time"

type AccountSyncStatus string

const (
	SyncStatusIdle    AccountSyncStatus = "idle"
	SyncStatusSyncing AccountSyncStatus = "syncing"
	SyncStatusPaused  AccountSyncStatus = "paused"
	SyncStatusError   AccountSyncStatus = "error"
	SyncStatusSuccess AccountSyncStatus = "success"
)

// Priority bounds shared by the scheduler and the job queue (0 = run now, 4 = background).
const (
	PriorityImmediate  = 0
	PriorityHigh       = 1
	PriorityNormal     = 2
	PriorityLow        = 3
	PriorityBackground = 4
)

// ClampPriority forces p into [PriorityImmediate, PriorityBackground].
func ClampPriority(p int) int {
	if p < PriorityImmediate {
		return PriorityImmediate
	}
	if p > PriorityBackground {
		return PriorityBackground
	}
	return p
}

// AccountSyncState is the per-mailbox sync bookkeeping row.
// Cursor and the error counters are only written through the cursor store.
type AccountSyncState struct {
	AccountID            string            `gorm:"column:account_id;primaryKey"`
	UserID               string            `gorm:"column:user_id;index"`
	Cursor               *string           `gorm:"column:cursor"`
	Status               AccountSyncStatus `gorm:"column:status"`
	LastSyncAt           *time.Time        `gorm:"column:last_sync_at"`
	LastSuccessfulSyncAt *time.Time        `gorm:"column:last_successful_sync_at"`
	NextScheduledSyncAt  *time.Time        `gorm:"column:next_scheduled_sync_at"`
	ErrorCount           int               `gorm:"column:error_count"`
	ConsecutiveErrors    int               `gorm:"column:consecutive_errors"`
	Priority             int               `gorm:"column:priority"`
	LastSyncError        *string           `gorm:"column:last_sync_error"`
	LastReadAt           *time.Time        `gorm:"column:last_read_at"`
	ScheduleReason       *string           `gorm:"column:schedule_reason"`
	CreatedAt            time.Time         `gorm:"column:created_at"`
	UpdatedAt            time.Time         `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (AccountSyncState) TableName() string {
	return "account_sync_state"
}
