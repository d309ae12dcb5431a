package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vipul43/mailsync/internal/models"
)

// CursorStore is the only writer of an account's cursor, status and error
// counters. It records outcomes; it never decides whether to retry.
type CursorStore struct {
	states SyncStateRepository
	now    func() time.Time
}

func NewCursorStore(states SyncStateRepository) *CursorStore {
	return &CursorStore{states: states, now: time.Now}
}

// GetCursor returns the stored resume token, nil when a full sync is needed.
func (s *CursorStore) GetCursor(ctx context.Context, accountID string) (*string, error) {
	st, err := s.states.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return st.Cursor, nil
}

func (s *CursorStore) GetState(ctx context.Context, accountID string) (*models.AccountSyncState, error) {
	return s.states.Get(ctx, accountID)
}

// Ensure creates the idle row for a newly connected account. Existing rows are returned untouched.
func (s *CursorStore) Ensure(ctx context.Context, accountID, userID string) (*models.AccountSyncState, error) {
	return s.states.Ensure(ctx, accountID, userID, s.now())
}

func (s *CursorStore) SaveCursor(ctx context.Context, accountID string, cursor string, at time.Time) error {
	if err := s.states.SaveCursor(ctx, accountID, cursor, at); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (s *CursorStore) ClearCursor(ctx context.Context, accountID string) error {
	if err := s.states.ClearCursor(ctx, accountID, s.now()); err != nil {
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return nil
}

func (s *CursorStore) MarkSyncing(ctx context.Context, accountID string) error {
	return s.states.MarkSyncing(ctx, accountID, s.now())
}

// MarkSuccess resets the error streak. A nil cursor keeps the stored one.
func (s *CursorStore) MarkSuccess(ctx context.Context, accountID string, cursor *string) error {
	if err := s.states.MarkSuccess(ctx, accountID, cursor, s.now()); err != nil {
		return fmt.Errorf("failed to mark sync success: %w", err)
	}
	return nil
}

func (s *CursorStore) MarkFailed(ctx context.Context, accountID string, message string) error {
	if err := s.states.MarkFailed(ctx, accountID, message, s.now()); err != nil {
		return fmt.Errorf("failed to mark sync failure: %w", err)
	}
	return nil
}

func (s *CursorStore) SaveSchedule(ctx context.Context, accountID string, schedule Schedule) error {
	return s.states.SaveSchedule(ctx, accountID, schedule.NextSyncAt, schedule.Priority, schedule.Reason, s.now())
}

func (s *CursorStore) RecordRead(ctx context.Context, accountID string, readAt time.Time) error {
	if readAt.IsZero() {
		readAt = s.now()
	}
	return s.states.RecordRead(ctx, accountID, readAt)
}

// Pause stops the scheduler from picking the account up.
func (s *CursorStore) Pause(ctx context.Context, accountID string) error {
	return s.states.SetStatus(ctx, accountID, models.SyncStatusPaused, s.now())
}

// Resume returns a paused account to idle.
func (s *CursorStore) Resume(ctx context.Context, accountID string) error {
	st, err := s.states.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if st.Status != models.SyncStatusPaused {
		return nil
	}
	return s.states.SetStatus(ctx, accountID, models.SyncStatusIdle, s.now())
}
