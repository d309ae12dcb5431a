package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/vipul43/mailsync/internal/models"
)

type Mode string

const (
	ModeAggressive   Mode = "aggressive"
	ModeBalanced     Mode = "balanced"
	ModeConservative Mode = "conservative"
)

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAggressive, ModeBalanced, ModeConservative:
		return m, nil
	}
	return "", fmt.Errorf("unknown schedule mode %q", s)
}

const (
	errorBackoffThreshold  = 3
	errorBackoffUnit       = 5 * time.Minute
	errorBackoffMax        = 240 * time.Minute
	activeWindow           = 2 * time.Hour
	highVolumeDailyAverage = 50
)

// Schedule is the scheduler's decision for one account.
type Schedule struct {
	Immediate  bool
	NextSyncAt time.Time
	Priority   int
	Reason     string
}

type threshold struct {
	interval time.Duration
	priority int
}

// thresholds[mode] is indexed by activityBucket.
var thresholds = map[Mode][4]threshold{
	ModeAggressive: {
		{5 * time.Minute, 0},
		{5 * time.Minute, 0},
		{15 * time.Minute, 1},
		{30 * time.Minute, 2},
	},
	ModeBalanced: {
		{15 * time.Minute, 1},
		{30 * time.Minute, 2},
		{60 * time.Minute, 2},
		{4 * time.Hour, 3},
	},
	ModeConservative: {
		{2 * time.Hour, 3},
		{2 * time.Hour, 3},
		{2 * time.Hour, 3},
		{12 * time.Hour, 4},
	},
}

var bucketNames = [4]string{"active, high volume", "active", "high volume", "quiet"}

func activityBucket(active, highVolume bool) int {
	switch {
	case active && highVolume:
		return 0
	case active:
		return 1
	case highVolume:
		return 2
	}
	return 3
}

// Analyze decides when and how urgently an account should sync.
// Rules in order: error backoff, never synced, then the activity table.
func Analyze(state *models.AccountSyncState, activity models.ActivityStats, mode Mode, now time.Time) Schedule {
	if state.ConsecutiveErrors >= errorBackoffThreshold {
		delay := errorBackoffMax
		// 2^n * 5 min overflows long before n gets large; cap the exponent first
		if state.ConsecutiveErrors < 16 {
			d := time.Duration(math.Pow(2, float64(state.ConsecutiveErrors))) * errorBackoffUnit
			if d < delay {
				delay = d
			}
		}
		return Schedule{
			Immediate:  false,
			NextSyncAt: now.Add(delay),
			Priority:   models.PriorityBackground,
			Reason:     fmt.Sprintf("backing off after %d consecutive errors", state.ConsecutiveErrors),
		}
	}

	if state.LastSyncAt == nil {
		return Schedule{
			Immediate:  true,
			NextSyncAt: now,
			Priority:   models.PriorityImmediate,
			Reason:     "initial sync required",
		}
	}

	table, ok := thresholds[mode]
	if !ok {
		table = thresholds[ModeBalanced]
	}
	active := activity.LastReadAt != nil && now.Sub(*activity.LastReadAt) <= activeWindow
	highVolume := float64(activity.Emails7d)/7 > highVolumeDailyAverage
	bucket := activityBucket(active, highVolume)
	t := table[bucket]

	sinceLast := now.Sub(*state.LastSyncAt)
	return Schedule{
		Immediate:  sinceLast > t.interval,
		NextSyncAt: now.Add(t.interval),
		Priority:   models.ClampPriority(t.priority),
		Reason:     fmt.Sprintf("%s account, %s mode, every %s", bucketNames[bucket], mode, t.interval),
	}
}

// ScheduleResult reports what AutoSchedule did for one account.
type ScheduleResult struct {
	AccountID string
	Schedule  Schedule
	JobType   models.SyncJobType
	JobID     string
	InFlight  bool
	Skipped   string
}

type Scheduler struct {
	accounts AccountRepository
	cursors  *CursorStore
	activity ActivityRepository
	queue    *JobQueue
	mode     Mode
	now      func() time.Time
}

func NewScheduler(accounts AccountRepository, cursors *CursorStore, activity ActivityRepository, queue *JobQueue, mode Mode) *Scheduler {
	return &Scheduler{
		accounts: accounts,
		cursors:  cursors,
		activity: activity,
		queue:    queue,
		mode:     mode,
		now:      time.Now,
	}
}

func (s *Scheduler) Mode() Mode {
	return s.mode
}

// AutoSchedule analyzes and enqueues every connected account of the user.
// One failing account does not stop the others; their errors are joined.
func (s *Scheduler) AutoSchedule(ctx context.Context, userID string) ([]ScheduleResult, error) {
	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	results := make([]ScheduleResult, 0, len(accounts))
	var errs []error
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.scheduleAccount(ctx, account)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", account.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// AutoScheduleAll runs AutoSchedule for every user with a connected account.
func (s *Scheduler) AutoScheduleAll(ctx context.Context) ([]ScheduleResult, error) {
	userIDs, err := s.accounts.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var all []ScheduleResult
	var errs []error
	for _, userID := range userIDs {
		results, err := s.AutoSchedule(ctx, userID)
		all = append(all, results...)
		if err != nil {
			if ctx.Err() != nil {
				return all, err
			}
			errs = append(errs, err)
		}
	}
	return all, errors.Join(errs...)
}

func (s *Scheduler) scheduleAccount(ctx context.Context, account models.Account) (ScheduleResult, error) {
	res := ScheduleResult{AccountID: account.ID}
	if !account.HasTokens() {
		res.Skipped = "missing tokens"
		return res, nil
	}

	state, err := s.cursors.Ensure(ctx, account.ID, account.UserID)
	if err != nil {
		return res, fmt.Errorf("failed to load sync state: %w", err)
	}
	if state.Status == models.SyncStatusPaused {
		res.Skipped = "paused"
		return res, nil
	}

	now := s.now()
	stats, err := s.activity.Stats(ctx, account.ID, now)
	if err != nil {
		return res, err
	}
	stats.LastReadAt = state.LastReadAt

	schedule := Analyze(state, stats, s.mode, now)
	res.Schedule = schedule

	jobType := models.JobTypeIncremental
	if state.Cursor == nil {
		jobType = models.JobTypeFull
	}
	res.JobType = jobType
	scheduledFor := schedule.NextSyncAt
	if schedule.Immediate {
		scheduledFor = now
	}

	jobID, err := s.queue.Enqueue(ctx, account.ID, EnqueueOptions{
		Type:         jobType,
		Priority:     schedule.Priority,
		ScheduledFor: scheduledFor,
	})
	switch {
	case errors.Is(err, ErrAlreadyQueued):
		res.InFlight = true
	case err != nil:
		return res, err
	default:
		res.JobID = jobID
	}

	if err := s.cursors.SaveSchedule(ctx, account.ID, schedule); err != nil {
		return res, fmt.Errorf("failed to save schedule: %w", err)
	}

	slog.Debug("account scheduled",
		"account_id", account.ID,
		"priority", schedule.Priority,
		"immediate", schedule.Immediate,
		"in_flight", res.InFlight,
		"reason", schedule.Reason)
	return res, nil
}
