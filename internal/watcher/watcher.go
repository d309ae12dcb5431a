package watcher

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vipul43/mailsync/internal/config"
	"github.com/vipul43/mailsync/internal/metrics"
	"github.com/vipul43/mailsync/internal/service"
)

// activity buckets older than this are pruned by Cleanup
const activityRetention = 30 * 24 * time.Hour

type Watcher struct {
	cfg        *config.Config
	dispatcher *Dispatcher
	scheduler  *service.Scheduler
	queue      *service.JobQueue
	activity   service.ActivityRepository
	trigger    chan struct{}
}

func New(
	cfg *config.Config,
	dispatcher *Dispatcher,
	scheduler *service.Scheduler,
	queue *service.JobQueue,
	activity service.ActivityRepository,
) *Watcher {
	return &Watcher{
		cfg:        cfg,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		queue:      queue,
		activity:   activity,
		trigger:    make(chan struct{}, 1),
	}
}

// Trigger asks the watcher to poll now instead of waiting for the next tick.
// It never blocks; triggers that arrive during a poll collapse into one.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Start polls the queue until ctx is cancelled. It also runs the scheduler
// and retention cleanup on their own intervals.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("starting watcher",
		"workers", w.cfg.Workers,
		"poll_interval", w.cfg.PollInterval,
		"schedule_interval", w.cfg.ScheduleInterval,
		"schedule_mode", w.scheduler.Mode())

	// Process any pending jobs from previous runs
	w.schedule(ctx)
	w.poll(ctx)

	pollTicker := time.NewTicker(w.cfg.PollInterval)
	defer pollTicker.Stop()
	scheduleTicker := time.NewTicker(w.cfg.ScheduleInterval)
	defer scheduleTicker.Stop()
	cleanupTicker := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watcher shutting down")
			return ctx.Err()
		case <-pollTicker.C:
			w.poll(ctx)
		case <-w.trigger:
			w.poll(ctx)
		case <-scheduleTicker.C:
			w.schedule(ctx)
			w.poll(ctx)
		case <-cleanupTicker.C:
			if err := w.Cleanup(ctx); err != nil {
				slog.Error("cleanup failed", "error", err)
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		slog.Error("error processing jobs", "error", err)
	}
	w.reportDepth(ctx)
}

func (w *Watcher) schedule(ctx context.Context) {
	results, err := w.scheduler.AutoScheduleAll(ctx)
	for _, r := range results {
		if r.Skipped != "" {
			continue
		}
		metrics.ScheduleDecisionsTotal.WithLabelValues(strconv.Itoa(r.Schedule.Priority), strconv.FormatBool(r.Schedule.Immediate)).Inc()
		result := "queued"
		if r.InFlight {
			result = "already_queued"
		}
		metrics.EnqueuesTotal.WithLabelValues(string(r.JobType), result, "scheduler").Inc()
	}
	if err != nil && ctx.Err() == nil {
		slog.Error("auto schedule failed", "error", err)
		return
	}
	slog.Debug("auto schedule pass finished", "accounts", len(results))
}

// RunOnce reaps stale jobs and then drains the queue with the configured
// number of dispatcher loops.
func (w *Watcher) RunOnce(ctx context.Context) error {
	reaped, err := w.dispatcher.ReapStale(ctx, w.cfg.StaleAfter)
	if err != nil {
		slog.Error("stale job reaper failed", "error", err)
	} else if reaped > 0 {
		slog.Warn("reaped stale jobs", "count", reaped)
	}

	workers := w.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			n, err := w.dispatcher.ProcessQueue(gctx)
			if n > 0 {
				slog.Debug("dispatcher drained queue", "worker", worker, "jobs", n)
			}
			return err
		})
	}
	return g.Wait()
}

// Cleanup drops completed jobs past retention and old activity buckets.
func (w *Watcher) Cleanup(ctx context.Context) error {
	deleted, err := w.queue.Cleanup(ctx, w.cfg.RetentionDays)
	if err != nil {
		return err
	}
	metrics.CleanupDeletedTotal.WithLabelValues("sync_job").Add(float64(deleted))

	pruned, err := w.activity.DeleteBefore(ctx, time.Now().Add(-activityRetention))
	if err != nil {
		return err
	}
	metrics.CleanupDeletedTotal.WithLabelValues("account_activity").Add(float64(pruned))

	slog.Info("cleanup finished", "jobs_deleted", deleted, "activity_pruned", pruned)
	return nil
}

func (w *Watcher) reportDepth(ctx context.Context) {
	counts, err := w.queue.Depth(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("failed to read queue depth", "error", err)
		}
		return
	}
	for _, status := range []string{"pending", "in_progress", "completed", "failed"} {
		metrics.QueueDepth.WithLabelValues(status).Set(0)
	}
	for status, n := range counts {
		metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}
