package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vipul43/mailsync/internal/models"
)

type activityKey struct {
	accountID string
	day       time.Time
}

type ActivityStore struct {
	mu      sync.Mutex
	buckets map[activityKey]int
}

func NewActivityStore() *ActivityStore {
	return &ActivityStore{buckets: make(map[activityKey]int)}
}

func (s *ActivityStore) RecordEmails(_ context.Context, accountID string, n int, at time.Time) error {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[activityKey{accountID, models.ActivityDay(at)}] += n
	return nil
}

func (s *ActivityStore) Stats(_ context.Context, accountID string, now time.Time) (models.ActivityStats, error) {
	from24h, from7d := models.ActivityWindows(now)
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats models.ActivityStats
	for k, n := range s.buckets {
		if k.accountID != accountID || k.day.Before(from7d) {
			continue
		}
		stats.Emails7d += n
		if !k.day.Before(from24h) {
			stats.Emails24h += n
		}
	}
	return stats, nil
}

func (s *ActivityStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	day := models.ActivityDay(cutoff)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.buckets {
		if k.day.Before(day) {
			delete(s.buckets, k)
			n++
		}
	}
	return n, nil
}
