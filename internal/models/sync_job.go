package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type SyncJobStatus string

const (
	JobStatusPending    SyncJobStatus = "pending"
	JobStatusInProgress SyncJobStatus = "in_progress"
	JobStatusCompleted  SyncJobStatus = "completed"
	JobStatusFailed     SyncJobStatus = "failed"
)

// Active reports whether the status occupies the account's single-flight slot.
func (s SyncJobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusInProgress
}

type SyncJobType string

const (
	JobTypeFull             SyncJobType = "full"             // Resync from scratch, ignores cursor
	JobTypeIncremental      SyncJobType = "incremental"      // Resume from stored cursor
	JobTypeSelective        SyncJobType = "selective"        // Subset of folders, cursor untouched
	JobTypeWebhookTriggered SyncJobType = "webhook_triggered" // Push notification from provider
)

// Valid reports whether t is one of the known job types.
func (t SyncJobType) Valid() bool {
	switch t {
	case JobTypeFull, JobTypeIncremental, JobTypeSelective, JobTypeWebhookTriggered:
		return true
	}
	return false
}

const DefaultMaxRetries = 5

// JobMetadata is passed through to the sync executor untouched.
type JobMetadata struct {
	Folders []string   `json:"folders,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// Value implements driver.Valuer for the JSONB metadata column
func (m JobMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for the JSONB metadata column
func (m *JobMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = JobMetadata{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	if len(raw) == 0 {
		*m = JobMetadata{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

type SyncJob struct {
	ID           string        `gorm:"column:id;primaryKey"`
	AccountID    string        `gorm:"column:account_id;index"`
	Type         SyncJobType   `gorm:"column:type"`
	Status       SyncJobStatus `gorm:"column:status;index"`
	Priority     int           `gorm:"column:priority"`
	ScheduledFor time.Time     `gorm:"column:scheduled_for;index"`
	StartedAt    *time.Time    `gorm:"column:started_at"`
	CompletedAt  *time.Time    `gorm:"column:completed_at"`
	RetryCount   int           `gorm:"column:retry_count"`
	MaxRetries   int           `gorm:"column:max_retries"`
	ErrorMessage *string       `gorm:"column:error_message"`
	Metadata     JobMetadata   `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time     `gorm:"column:created_at"`
	UpdatedAt    time.Time     `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_job"
}
