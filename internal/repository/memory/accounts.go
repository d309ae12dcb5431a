package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
)

type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]models.Account)}
}

// Put inserts or replaces an account.
func (s *AccountStore) Put(account models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

func (s *AccountStore) GetByID(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return &a, nil
}

func (s *AccountStore) UpdateTokens(_ context.Context, accountID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.AccessToken = &accessToken
	a.RefreshToken = &refreshToken
	a.AccessTokenExpiresAt = &accessTokenExpiresAt
	a.UpdatedAt = time.Now()
	s.accounts[accountID] = a
	return nil
}

func (s *AccountStore) ListByUser(_ context.Context, userID string) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Account
	for _, a := range s.accounts {
		if a.UserID == userID && a.ProviderID == models.ProviderGoogle {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *AccountStore) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, a := range s.accounts {
		if a.ProviderID != models.ProviderGoogle || seen[a.UserID] {
			continue
		}
		seen[a.UserID] = true
		out = append(out, a.UserID)
	}
	sort.Strings(out)
	return out, nil
}
