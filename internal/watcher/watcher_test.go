package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vipul43/mailsync/internal/config"
	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/service"
)

func newTestWatcher(f *dispatchFixture, workers int) *Watcher {
	cfg := &config.Config{
		PollInterval:     time.Hour,
		ScheduleInterval: time.Hour,
		CleanupInterval:  time.Hour,
		Workers:          workers,
		StaleAfter:       time.Hour,
		RetentionDays:    7,
	}
	scheduler := service.NewScheduler(f.store.Accounts, f.cursors, f.store.Activity, f.queue, service.ModeBalanced)
	return New(cfg, f.dispatcher, scheduler, f.queue, f.store.Activity)
}

func TestWatcher_RunOnceRunsEachJobOnce(t *testing.T) {
	f := newDispatchFixture(t, 5)
	var running, peak int32
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &service.ExecuteResult{Cursor: strPtr("next")}, nil
	}

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("acct_%02d", i)
		f.seedAccount(t, id, nil)
		f.enqueue(t, id, service.EnqueueOptions{})
	}

	w := newTestWatcher(f, 4)
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	seen := map[string]int{}
	for _, c := range f.exec.Calls() {
		seen[c.AccountID]++
	}
	if len(seen) != 20 {
		t.Fatalf("executed %d accounts, want 20", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("%s executed %d times", id, n)
		}
	}
	for _, j := range f.store.Jobs.All() {
		if j.Status != models.JobStatusCompleted {
			t.Errorf("job %s left %s", j.ID, j.Status)
		}
	}
	if peak > 4 {
		t.Errorf("peak concurrency %d exceeds worker count", peak)
	}
}

func TestWatcher_RunOnceReapsFirst(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.seedAccount(t, "stuck", strPtr("h"))
	longAgo := time.Now().Add(-3 * time.Hour)
	stuck := &models.SyncJob{AccountID: "stuck", Type: models.JobTypeIncremental, Status: models.JobStatusInProgress, StartedAt: &longAgo, MaxRetries: 5, ScheduledFor: longAgo}
	if err := f.store.Jobs.Create(context.Background(), stuck); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(f, 1)
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	// reaped job is rescheduled with backoff, so nothing ran in this pass
	if len(f.exec.Calls()) != 0 {
		t.Fatalf("unexpected executions: %v", f.exec.Calls())
	}
	if j := f.job(t, stuck.ID); j.Status != models.JobStatusPending || j.RetryCount != 1 {
		t.Fatalf("stuck job = %+v", j)
	}
}

func TestWatcher_TriggerWakesPoll(t *testing.T) {
	f := newDispatchFixture(t, 5)
	done := make(chan string, 4)
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		done <- req.AccountID
		return &service.ExecuteResult{}, nil
	}
	w := newTestWatcher(f, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	// give the startup pass time to find an empty queue
	time.Sleep(20 * time.Millisecond)

	f.seedAccount(t, "pushed", strPtr("h1"))
	f.enqueue(t, "pushed", service.EnqueueOptions{Type: models.JobTypeWebhookTriggered, Priority: models.PriorityImmediate})
	w.Trigger()
	w.Trigger() // collapses into the pending trigger

	select {
	case id := <-done:
		if id != "pushed" {
			t.Fatalf("ran %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not wake the watcher")
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Start returned %v", err)
	}
}

func TestWatcher_Cleanup(t *testing.T) {
	f := newDispatchFixture(t, 5)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -10)
	recent := time.Now().Add(-time.Hour)
	oldJob := &models.SyncJob{AccountID: "a", Type: models.JobTypeFull, Status: models.JobStatusCompleted, CompletedAt: &old}
	newJob := &models.SyncJob{AccountID: "a", Type: models.JobTypeFull, Status: models.JobStatusCompleted, CompletedAt: &recent}
	_ = f.store.Jobs.Create(ctx, oldJob)
	_ = f.store.Jobs.Create(ctx, newJob)
	_ = f.store.Activity.RecordEmails(ctx, "a", 5, time.Now().AddDate(0, 0, -45))
	_ = f.store.Activity.RecordEmails(ctx, "a", 3, time.Now())

	w := newTestWatcher(f, 1)
	if err := w.Cleanup(ctx); err != nil {
		t.Fatal(err)
	}

	jobs := f.store.Jobs.All()
	if len(jobs) != 1 || jobs[0].ID != newJob.ID {
		t.Fatalf("remaining jobs = %+v", jobs)
	}
	stats, _ := f.store.Activity.Stats(ctx, "a", time.Now())
	if stats.Emails7d != 3 {
		t.Fatalf("activity after prune = %+v", stats)
	}
}
