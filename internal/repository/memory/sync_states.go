package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
)

type SyncStateStore struct {
	mu     sync.RWMutex
	states map[string]*models.AccountSyncState
}

func NewSyncStateStore() *SyncStateStore {
	return &SyncStateStore{states: make(map[string]*models.AccountSyncState)}
}

// Put inserts or replaces a row, for seeding tests.
func (s *SyncStateStore) Put(state models.AccountSyncState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.AccountID] = cloneState(&state)
}

func (s *SyncStateStore) Get(_ context.Context, accountID string) (*models.AccountSyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[accountID]
	if !ok {
		return nil, repository.ErrSyncStateNotFound
	}
	return cloneState(st), nil
}

func (s *SyncStateStore) Ensure(ctx context.Context, accountID, userID string, at time.Time) (*models.AccountSyncState, error) {
	s.mu.Lock()
	if _, ok := s.states[accountID]; !ok {
		s.states[accountID] = &models.AccountSyncState{
			AccountID: accountID,
			UserID:    userID,
			Status:    models.SyncStatusIdle,
			Priority:  models.PriorityNormal,
			CreatedAt: at,
			UpdatedAt: at,
		}
	}
	s.mu.Unlock()
	return s.Get(ctx, accountID)
}

func (s *SyncStateStore) SaveCursor(_ context.Context, accountID string, cursor string, at time.Time) error {
	return s.update(accountID, func(st *models.AccountSyncState) {
		st.Cursor = &cursor
		st.LastSyncAt = timePtr(at)
		st.UpdatedAt = at
	})
}

func (s *SyncStateStore) ClearCursor(_ context.Context, accountID string, at time.Time) error {
	return s.update(accountID, func(st *models.AccountSyncState) {
		st.Cursor = nil
		st.UpdatedAt = at
	})
}

func (s *SyncStateStore) MarkSyncing(_ context.Context, accountID string, at time.Time) error {
	return s.update(accountID, func(st *models.AccountSyncState) {
		st.Status = models.SyncStatusSyncing
		st.UpdatedAt = at
	})
}

func (s *SyncStateStore) MarkSuccess(_ context.Context, accountID string, cursor *string, at time.Time) error {
	return s.update(accountID, func(st *models.AccountSyncState) {
		st.Status = models.SyncStatusSuccess
		st.LastSyncAt = timePtr(at)
		st.LastSuccessfulSyncAt = timePtr(at)
		st.ErrorCount = 0
		st.ConsecutiveErrors = 0
		st.LastSyncError = nil
		if cursor != nil {
			st.Cursor = cloneString(cursor)
		}
		st.UpdatedAt = at
	})
}

func (s *SyncStateStore) MarkFailed(_ context.Context, accountID string, message string, at time.Time) error {
	return s.update(accountID, func(st *models.AccountSyncState) {
		st.Status = models.SyncStatusError
		st.LastSyncError = &message
		st.ErrorCount++
		st.ConsecutiveErrors++
		st.LastSyncAt = timePtr(at)
		st.UpdatedAt = at
	})
}

func (s *SyncStateStore) SaveSchedule(_ context.Context, accountID string, next time.Time, priority int, reason string, at time.Time) error {
	return s.update(accountID, func(st *models.AccountSyncState) {
		st.NextScheduledSyncAt = timePtr(next)
		st.Priority = models.ClampPriority(priority)
		st.ScheduleReason = &reason
		st.UpdatedAt = at
	})
}

func (s *SyncStateStore) RecordRead(_ context.Context, accountID string, readAt time.Time) error {
	return s.update(accountID, func(st *models.AccountSyncState) {
		if st.LastReadAt == nil || readAt.After(*st.LastReadAt) {
			st.LastReadAt = timePtr(readAt)
		}
		st.UpdatedAt = time.Now()
	})
}

func (s *SyncStateStore) SetStatus(_ context.Context, accountID string, status models.AccountSyncStatus, at time.Time) error {
	return s.update(accountID, func(st *models.AccountSyncState) {
		st.Status = status
		st.UpdatedAt = at
	})
}

func (s *SyncStateStore) update(accountID string, fn func(*models.AccountSyncState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[accountID]
	if !ok {
		return repository.ErrSyncStateNotFound
	}
	fn(st)
	return nil
}

func cloneState(st *models.AccountSyncState) *models.AccountSyncState {
	c := *st
	c.Cursor = cloneString(st.Cursor)
	c.LastSyncError = cloneString(st.LastSyncError)
	c.ScheduleReason = cloneString(st.ScheduleReason)
	return &c
}

func timePtr(t time.Time) *time.Time {
	return &t
}
