package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
)

func pendingJob(accountID string, priority int, at time.Time) *models.SyncJob {
	return &models.SyncJob{
		AccountID:    accountID,
		Type:         models.JobTypeIncremental,
		Status:       models.JobStatusPending,
		Priority:     priority,
		ScheduledFor: at,
		MaxRetries:   models.DefaultMaxRetries,
	}
}

func TestJobStore_CreateDedupesConcurrently(t *testing.T) {
	s := NewJobStore()
	now := time.Now()

	const N = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			defer wg.Done()
			err := s.Create(context.Background(), pendingJob("acct_1", 2, now))
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else if !errors.Is(err, repository.ErrJobAlreadyQueued) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected 1 job, got %d", created)
	}
}

func TestJobStore_NextEligibleOrdering(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_ = s.Create(ctx, pendingJob("late_high", 0, now.Add(time.Hour)))
	_ = s.Create(ctx, pendingJob("p2_old", 2, now.Add(-time.Hour)))
	_ = s.Create(ctx, pendingJob("p1_new", 1, now.Add(-time.Minute)))
	_ = s.Create(ctx, pendingJob("p1_old", 1, now.Add(-10*time.Minute)))

	var order []string
	for {
		j, err := s.NextEligible(ctx, now)
		if err != nil {
			t.Fatal(err)
		}
		if j == nil {
			break
		}
		order = append(order, j.AccountID)
		if err := s.MarkInProgress(ctx, j.ID, now); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"p1_old", "p1_new", "p2_old"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestJobStore_TransitionsAreGuarded(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()
	now := time.Now()
	job := pendingJob("acct", 2, now)
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkCompleted(ctx, job.ID, now); !errors.Is(err, repository.ErrJobStateConflict) {
		t.Fatalf("completing a pending job: got %v", err)
	}
	if err := s.MarkInProgress(ctx, job.ID, now); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkInProgress(ctx, job.ID, now); !errors.Is(err, repository.ErrJobStateConflict) {
		t.Fatalf("double claim: got %v", err)
	}
	if err := s.Reschedule(ctx, job.ID, 3, now, "x", now); !errors.Is(err, repository.ErrJobStateConflict) {
		t.Fatalf("stale retry count: got %v", err)
	}
	if err := s.MarkFailed(ctx, "missing", "x", now); !errors.Is(err, repository.ErrJobNotFound) {
		t.Fatalf("missing job: got %v", err)
	}
}

func TestSyncStateStore_Isolation(t *testing.T) {
	s := NewSyncStateStore()
	ctx := context.Background()
	now := time.Now()

	if _, err := s.Ensure(ctx, "acct", "user", now); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCursor(ctx, "acct", "c1", now); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "acct")
	*got.Cursor = "mutated"

	again, _ := s.Get(ctx, "acct")
	if *again.Cursor != "c1" {
		t.Fatalf("store leaked internal pointer, cursor = %q", *again.Cursor)
	}
}

func TestActivityStore_Windows(t *testing.T) {
	s := NewActivityStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	_ = s.RecordEmails(ctx, "a", 4, now)
	_ = s.RecordEmails(ctx, "a", 10, now.AddDate(0, 0, -1))
	_ = s.RecordEmails(ctx, "a", 30, now.AddDate(0, 0, -6))
	_ = s.RecordEmails(ctx, "a", 99, now.AddDate(0, 0, -7))
	_ = s.RecordEmails(ctx, "b", 1000, now)

	stats, err := s.Stats(ctx, "a", now)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Emails24h != 14 || stats.Emails7d != 44 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
