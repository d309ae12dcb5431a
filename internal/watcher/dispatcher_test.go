package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vipul43/mailsync/internal/backoff"
	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository/memory"
	"github.com/vipul43/mailsync/internal/service"
	"github.com/vipul43/mailsync/internal/syncerr"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []service.ExecuteRequest
	fn    func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return &service.ExecuteResult{}, nil
}

func (f *fakeExecutor) Calls() []service.ExecuteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.ExecuteRequest(nil), f.calls...)
}

type dispatchFixture struct {
	store      *memory.Store
	queue      *service.JobQueue
	cursors    *service.CursorStore
	exec       *fakeExecutor
	dispatcher *Dispatcher
}

func newDispatchFixture(t *testing.T, maxRetries int) *dispatchFixture {
	t.Helper()
	store := memory.New()
	policy := backoff.Policy{Base: 5 * time.Second, Max: time.Hour, Rand: func() float64 { return 0.5 }}
	queue := service.NewJobQueue(store.Jobs, policy, maxRetries)
	cursors := service.NewCursorStore(store.States)
	exec := &fakeExecutor{}
	d := NewDispatcher(queue, cursors, store.Accounts, store.Activity, exec, DispatcherConfig{
		JobTimeout:              time.Second,
		PartialFailureThreshold: 0.25,
	})
	return &dispatchFixture{store: store, queue: queue, cursors: cursors, exec: exec, dispatcher: d}
}

func (f *dispatchFixture) seedAccount(t *testing.T, accountID string, cursor *string) {
	t.Helper()
	access, refresh := "a", "r"
	f.store.Accounts.Put(models.Account{ID: accountID, UserID: "user_1", ProviderID: models.ProviderGoogle, AccessToken: &access, RefreshToken: &refresh})
	if _, err := f.cursors.Ensure(context.Background(), accountID, "user_1"); err != nil {
		t.Fatal(err)
	}
	if cursor != nil {
		if err := f.cursors.SaveCursor(context.Background(), accountID, *cursor, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *dispatchFixture) enqueue(t *testing.T, accountID string, opts service.EnqueueOptions) string {
	t.Helper()
	id, err := f.queue.Enqueue(context.Background(), accountID, opts)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (f *dispatchFixture) job(t *testing.T, id string) *models.SyncJob {
	t.Helper()
	j, err := f.queue.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func (f *dispatchFixture) state(t *testing.T, accountID string) *models.AccountSyncState {
	t.Helper()
	st, err := f.cursors.GetState(context.Background(), accountID)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func strPtr(s string) *string { return &s }

func TestDispatcher_IncrementalSuccess(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.seedAccount(t, "acct_1", strPtr("h1"))
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		return &service.ExecuteResult{Cursor: strPtr("h2"), ItemsTotal: 12}, nil
	}
	id := f.enqueue(t, "acct_1", service.EnqueueOptions{Type: models.JobTypeIncremental})

	n, err := f.dispatcher.ProcessQueue(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ProcessQueue = %d, %v", n, err)
	}

	calls := f.exec.Calls()
	if calls[0].Mode != service.SyncModeIncremental || calls[0].Cursor == nil || *calls[0].Cursor != "h1" {
		t.Fatalf("request = %+v", calls[0])
	}
	if j := f.job(t, id); j.Status != models.JobStatusCompleted || j.CompletedAt == nil {
		t.Fatalf("job = %+v", j)
	}
	st := f.state(t, "acct_1")
	if st.Status != models.SyncStatusSuccess || st.Cursor == nil || *st.Cursor != "h2" {
		t.Fatalf("state = %+v", st)
	}
	stats, _ := f.store.Activity.Stats(context.Background(), "acct_1", time.Now())
	if stats.Emails24h != 12 {
		t.Fatalf("activity = %+v, want 12 emails", stats)
	}
}

func TestDispatcher_ModeSelection(t *testing.T) {
	tests := []struct {
		name     string
		cursor   *string
		jobType  models.SyncJobType
		wantMode service.SyncMode
	}{
		{"incremental without cursor runs full", nil, models.JobTypeIncremental, service.SyncModeFull},
		{"full ignores cursor", strPtr("h"), models.JobTypeFull, service.SyncModeFull},
		{"selective runs full", strPtr("h"), models.JobTypeSelective, service.SyncModeFull},
		{"webhook runs incremental", strPtr("h"), models.JobTypeWebhookTriggered, service.SyncModeIncremental},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(t, 5)
			f.seedAccount(t, "acct", tt.cursor)
			f.enqueue(t, "acct", service.EnqueueOptions{Type: tt.jobType})
			if _, err := f.dispatcher.ProcessQueue(context.Background()); err != nil {
				t.Fatal(err)
			}
			if got := f.exec.Calls()[0].Mode; got != tt.wantMode {
				t.Fatalf("mode = %s, want %s", got, tt.wantMode)
			}
		})
	}
}

func TestDispatcher_SelectiveKeepsCursor(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.seedAccount(t, "acct", strPtr("h1"))
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		return &service.ExecuteResult{Cursor: strPtr("h9"), ItemsTotal: 3}, nil
	}
	f.enqueue(t, "acct", service.EnqueueOptions{
		Type:     models.JobTypeSelective,
		Metadata: models.JobMetadata{Folders: []string{"INBOX", "Receipts"}, Limit: 50},
	})
	if _, err := f.dispatcher.ProcessQueue(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := f.exec.Calls()[0]
	if len(req.Folders) != 2 || req.Limit != 50 {
		t.Fatalf("metadata not passed through: %+v", req)
	}
	if st := f.state(t, "acct"); *st.Cursor != "h1" {
		t.Fatalf("selective sync moved cursor to %q", *st.Cursor)
	}
}

func TestDispatcher_PartialFailurePolicy(t *testing.T) {
	tests := []struct {
		total       int
		failed      int
		wantStatus  models.SyncJobStatus
		wantAccount models.AccountSyncStatus
	}{
		{100, 10, models.JobStatusCompleted, models.SyncStatusSuccess},
		{100, 25, models.JobStatusCompleted, models.SyncStatusSuccess},
		{100, 30, models.JobStatusPending, models.SyncStatusError},
		{0, 2, models.JobStatusPending, models.SyncStatusError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d of %d", tt.failed, tt.total), func(t *testing.T) {
			f := newDispatchFixture(t, 5)
			f.seedAccount(t, "acct", strPtr("h1"))
			f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
				return &service.ExecuteResult{Cursor: strPtr("h2"), ItemsTotal: tt.total, ItemsFailed: tt.failed}, nil
			}
			id := f.enqueue(t, "acct", service.EnqueueOptions{})
			if _, err := f.dispatcher.ProcessQueue(context.Background()); err != nil {
				t.Fatal(err)
			}

			j := f.job(t, id)
			if j.Status != tt.wantStatus {
				t.Fatalf("job status = %s, want %s", j.Status, tt.wantStatus)
			}
			st := f.state(t, "acct")
			if st.Status != tt.wantAccount {
				t.Fatalf("account status = %s, want %s", st.Status, tt.wantAccount)
			}
			if tt.wantStatus == models.JobStatusPending {
				if j.RetryCount != 1 {
					t.Errorf("retry count = %d, want 1", j.RetryCount)
				}
				if *st.Cursor != "h1" {
					t.Errorf("rejected batch advanced cursor to %q", *st.Cursor)
				}
			}
		})
	}
}

func TestDispatcher_AuthFailureSurfacesAction(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.seedAccount(t, "acct", strPtr("h1"))
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		return nil, &syncerr.ProviderError{StatusCode: 401, Message: "invalid credentials"}
	}
	id := f.enqueue(t, "acct", service.EnqueueOptions{})
	if _, err := f.dispatcher.ProcessQueue(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := f.state(t, "acct")
	if st.Status != models.SyncStatusError || st.ConsecutiveErrors != 1 {
		t.Fatalf("state = %+v", st)
	}
	if st.LastSyncError == nil || !strings.Contains(*st.LastSyncError, "Reconnect") {
		t.Fatalf("last error = %v", st.LastSyncError)
	}
	// the queue still owns the retry decision
	j := f.job(t, id)
	if j.Status != models.JobStatusPending || j.ErrorMessage == nil || !strings.Contains(*j.ErrorMessage, "401") {
		t.Fatalf("job = %+v", j)
	}
}

func TestDispatcher_RateLimitUsesRetryAfter(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.seedAccount(t, "acct", strPtr("h1"))
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		return nil, &syncerr.ProviderError{StatusCode: 429, RetryAfter: "120"}
	}
	id := f.enqueue(t, "acct", service.EnqueueOptions{})
	before := time.Now()
	if _, err := f.dispatcher.ProcessQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	j := f.job(t, id)
	if wait := j.ScheduledFor.Sub(before); wait < 119*time.Second || wait > 125*time.Second {
		t.Fatalf("retry scheduled in %s, want about 120s", wait)
	}
}

func TestDispatcher_TerminalAfterMaxRetries(t *testing.T) {
	f := newDispatchFixture(t, 1)
	f.seedAccount(t, "acct", strPtr("h1"))
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		return nil, errors.New("boom")
	}
	id := f.enqueue(t, "acct", service.EnqueueOptions{})

	// first failure retries; force the job due again and fail once more
	_, _ = f.dispatcher.ProcessQueue(context.Background())
	if j := f.job(t, id); j.Status != models.JobStatusPending {
		t.Fatalf("after first failure status = %s", j.Status)
	}
	if err := f.queue.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	f.dispatcher.runJob(context.Background(), f.job(t, id))

	j := f.job(t, id)
	if j.Status != models.JobStatusFailed || j.RetryCount != 1 {
		t.Fatalf("job = %+v, want failed with 1 retry", j)
	}
	if st := f.state(t, "acct"); st.ConsecutiveErrors != 2 || st.ErrorCount != 2 {
		t.Fatalf("state counters = %d/%d", st.ConsecutiveErrors, st.ErrorCount)
	}
}

func TestDispatcher_InvalidCursorForcesFullResync(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.seedAccount(t, "acct", strPtr("expired"))
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		return nil, fmt.Errorf("history list: %w", service.ErrCursorInvalid)
	}
	f.enqueue(t, "acct", service.EnqueueOptions{})
	_, _ = f.dispatcher.ProcessQueue(context.Background())

	if st := f.state(t, "acct"); st.Cursor != nil {
		t.Fatalf("cursor = %q, want cleared", *st.Cursor)
	}
}

func TestDispatcher_JobTimeout(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.dispatcher.cfg.JobTimeout = 20 * time.Millisecond
	f.seedAccount(t, "acct", nil)
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	id := f.enqueue(t, "acct", service.EnqueueOptions{})
	if _, err := f.dispatcher.ProcessQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	j := f.job(t, id)
	if j.Status != models.JobStatusPending || j.RetryCount != 1 {
		t.Fatalf("timed out job = %+v", j)
	}
}

func TestDispatcher_SkipsPausedAndUnknownAccounts(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.seedAccount(t, "paused", nil)
	_ = f.cursors.Pause(context.Background(), "paused")
	pausedJob := f.enqueue(t, "paused", service.EnqueueOptions{})
	ghostJob := f.enqueue(t, "ghost", service.EnqueueOptions{})

	n, err := f.dispatcher.ProcessQueue(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("ProcessQueue = %d, %v", n, err)
	}
	if len(f.exec.Calls()) != 0 {
		t.Fatal("executor must not run for paused or unknown accounts")
	}
	for _, id := range []string{pausedJob, ghostJob} {
		if j := f.job(t, id); j.Status != models.JobStatusFailed || j.RetryCount != 0 {
			t.Fatalf("job %s = %+v", id, j)
		}
	}
}

func TestDispatcher_CreatesMissingSyncState(t *testing.T) {
	f := newDispatchFixture(t, 5)
	access, refresh := "a", "r"
	f.store.Accounts.Put(models.Account{ID: "late", UserID: "user_9", ProviderID: models.ProviderGoogle, AccessToken: &access, RefreshToken: &refresh})
	id := f.enqueue(t, "late", service.EnqueueOptions{Type: models.JobTypeWebhookTriggered})

	if _, err := f.dispatcher.ProcessQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if j := f.job(t, id); j.Status != models.JobStatusCompleted {
		t.Fatalf("job = %+v", j)
	}
	if st := f.state(t, "late"); st.UserID != "user_9" || st.Status != models.SyncStatusSuccess {
		t.Fatalf("state = %+v", st)
	}
}

func TestDispatcher_PriorityOrder(t *testing.T) {
	f := newDispatchFixture(t, 5)
	for _, id := range []string{"bg", "urgent", "normal"} {
		f.seedAccount(t, id, strPtr("h"))
	}
	f.enqueue(t, "bg", service.EnqueueOptions{Priority: 4})
	f.enqueue(t, "urgent", service.EnqueueOptions{Priority: 0})
	f.enqueue(t, "normal", service.EnqueueOptions{Priority: 2})

	if _, err := f.dispatcher.ProcessQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, c := range f.exec.Calls() {
		order = append(order, c.AccountID)
	}
	if strings.Join(order, ",") != "urgent,normal,bg" {
		t.Fatalf("order = %v", order)
	}
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.dispatcher.cfg.Throttle = time.Hour
	f.seedAccount(t, "a", nil)
	f.seedAccount(t, "b", nil)
	f.enqueue(t, "a", service.EnqueueOptions{})
	f.enqueue(t, "b", service.EnqueueOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	f.exec.fn = func(context.Context, service.ExecuteRequest) (*service.ExecuteResult, error) {
		cancel()
		return &service.ExecuteResult{}, nil
	}

	n, err := f.dispatcher.ProcessQueue(ctx)
	if !errors.Is(err, context.Canceled) || n != 1 {
		t.Fatalf("ProcessQueue = %d, %v", n, err)
	}
	// the finished job was still recorded despite the cancellation
	ran := f.exec.Calls()[0].AccountID
	if st := f.state(t, ran); st.Status != models.SyncStatusSuccess {
		t.Fatalf("completed job lost its bookkeeping: %+v", st)
	}
}

func TestDispatcher_ReapStale(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.seedAccount(t, "stuck", strPtr("h"))
	f.seedAccount(t, "fresh", strPtr("h"))

	ctx := context.Background()
	longAgo := time.Now().Add(-time.Hour)
	recent := time.Now()
	stuck := &models.SyncJob{AccountID: "stuck", Type: models.JobTypeIncremental, Status: models.JobStatusInProgress, StartedAt: &longAgo, MaxRetries: 5, ScheduledFor: longAgo}
	fresh := &models.SyncJob{AccountID: "fresh", Type: models.JobTypeIncremental, Status: models.JobStatusInProgress, StartedAt: &recent, MaxRetries: 5, ScheduledFor: recent}
	_ = f.store.Jobs.Create(ctx, stuck)
	_ = f.store.Jobs.Create(ctx, fresh)

	n, err := f.dispatcher.ReapStale(ctx, 20*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("ReapStale = %d, %v", n, err)
	}
	j := f.job(t, stuck.ID)
	if j.Status != models.JobStatusPending || j.RetryCount != 1 || *j.ErrorMessage != "sync timed out" {
		t.Fatalf("reaped job = %+v", j)
	}
	if st := f.state(t, "stuck"); st.ConsecutiveErrors != 1 || *st.LastSyncError != "sync timed out" {
		t.Fatalf("stuck account state = %+v", st)
	}
	if j := f.job(t, fresh.ID); j.Status != models.JobStatusInProgress {
		t.Fatal("fresh job was reaped")
	}
}

func TestDispatcher_ReapedJobResultIsDiscarded(t *testing.T) {
	f := newDispatchFixture(t, 5)
	f.seedAccount(t, "acct_1", strPtr("h1"))

	var id string
	f.exec.fn = func(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
		// the reaper gives up on the job while the provider call is still running
		if _, err := f.queue.Fail(ctx, id, "sync timed out"); err != nil {
			t.Errorf("Fail: %v", err)
		}
		return &service.ExecuteResult{Cursor: strPtr("h2"), ItemsTotal: 4}, nil
	}
	id = f.enqueue(t, "acct_1", service.EnqueueOptions{Type: models.JobTypeIncremental})

	if _, err := f.dispatcher.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}

	j := f.job(t, id)
	if j.Status != models.JobStatusPending || j.RetryCount != 1 {
		t.Fatalf("job = %+v, want pending retry 1", j)
	}
	st := f.state(t, "acct_1")
	if st.Cursor == nil || *st.Cursor != "h1" {
		t.Fatalf("cursor moved to %v after the job was reaped", st.Cursor)
	}
	if st.Status == models.SyncStatusSuccess || st.LastSuccessfulSyncAt != nil {
		t.Fatalf("account marked successful: %+v", st)
	}
	stats, _ := f.store.Activity.Stats(context.Background(), "acct_1", time.Now())
	if stats.Emails24h != 0 {
		t.Errorf("activity recorded for a discarded result: %+v", stats)
	}
}
