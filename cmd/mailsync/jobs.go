package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/service"
)

// withApp runs fn with wired services and a signal-aware context.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

var scheduleUser string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run one auto-schedule pass over every account, or one user's accounts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			var (
				results []service.ScheduleResult
				err     error
			)
			if scheduleUser != "" {
				results, err = a.scheduler.AutoSchedule(ctx, scheduleUser)
			} else {
				results, err = a.scheduler.AutoScheduleAll(ctx)
			}
			for _, r := range results {
				if r.Skipped != "" {
					slog.Info("account skipped", "account_id", r.AccountID, "reason", r.Skipped)
					continue
				}
				slog.Info("account scheduled",
					"account_id", r.AccountID,
					"job_type", r.JobType,
					"job_id", r.JobID,
					"in_flight", r.InFlight,
					"priority", r.Schedule.Priority,
					"next_sync_at", r.Schedule.NextSyncAt,
					"reason", r.Schedule.Reason)
			}
			return err
		})
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Reap stale jobs and drain the queue once, then exit.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.watcher.RunOnce(ctx)
		})
	},
}

var enqueueFlags struct {
	jobType  string
	priority int
	folders  []string
	since    string
	limit    int
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <account-id>",
	Short: "Queue a sync for one account.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := enqueueOptions(enqueueFlags.jobType, enqueueFlags.priority, enqueueFlags.folders, enqueueFlags.since, enqueueFlags.limit)
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			id, err := a.queue.Enqueue(ctx, args[0], opts)
			if errors.Is(err, service.ErrAlreadyQueued) {
				slog.Info("sync already queued", "account_id", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			slog.Info("sync queued", "account_id", args[0], "job_id", id, "type", opts.Type, "priority", opts.Priority)
			return nil
		})
	},
}

func init() {
	f := enqueueCmd.Flags()
	f.StringVar(&enqueueFlags.jobType, "type", string(models.JobTypeIncremental), "job type: full, incremental, selective, webhook_triggered")
	f.IntVar(&enqueueFlags.priority, "priority", models.PriorityNormal, "0 (now) to 4 (background)")
	f.StringSliceVar(&enqueueFlags.folders, "folders", nil, "folders to sync (selective jobs)")
	f.StringVar(&enqueueFlags.since, "since", "", "only sync mail after this date (YYYY-MM-DD)")
	f.IntVar(&enqueueFlags.limit, "limit", 0, "maximum messages to fetch")

	scheduleCmd.Flags().StringVar(&scheduleUser, "user", "", "only schedule this user's accounts")
}

func enqueueOptions(jobType string, priority int, folders []string, since string, limit int) (service.EnqueueOptions, error) {
	t := models.SyncJobType(strings.ToLower(strings.TrimSpace(jobType)))
	if !t.Valid() {
		return service.EnqueueOptions{}, usageError("unknown job type %q", jobType)
	}
	if priority < models.PriorityImmediate || priority > models.PriorityBackground {
		return service.EnqueueOptions{}, usageError("priority must be between %d and %d", models.PriorityImmediate, models.PriorityBackground)
	}
	if limit < 0 {
		return service.EnqueueOptions{}, usageError("limit must not be negative")
	}
	if t == models.JobTypeSelective && len(folders) == 0 {
		return service.EnqueueOptions{}, usageError("selective jobs need --folders")
	}

	opts := service.EnqueueOptions{
		Type:     t,
		Priority: priority,
		Metadata: models.JobMetadata{Folders: folders, Limit: limit},
	}
	if since != "" {
		ts, err := time.Parse(time.DateOnly, since)
		if err != nil {
			return service.EnqueueOptions{}, usageError("invalid --since: %w", err)
		}
		opts.Metadata.Since = &ts
	}
	return opts, nil
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <account-id>",
	Short: "Cancel an account's pending syncs.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			n, err := a.queue.CancelAccountJobs(ctx, args[0])
			if err != nil {
				return err
			}
			slog.Info("pending syncs cancelled", "account_id", args[0], "count", n)
			return nil
		})
	},
}

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor <account-id>",
	Short: "Forget an account's sync cursor so the next run is a full sync.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.cursors.ClearCursor(ctx, args[0]); err != nil {
				return err
			}
			slog.Info("cursor cleared", "account_id", args[0])
			return nil
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <account-id>",
	Short: "Stop scheduling and running syncs for an account.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.cursors.Pause(ctx, args[0]); err != nil {
				return err
			}
			n, err := a.queue.CancelAccountJobs(ctx, args[0])
			if err != nil {
				return err
			}
			slog.Info("account paused", "account_id", args[0], "cancelled", n)
			return nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <account-id>",
	Short: "Resume a paused account.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.cursors.Resume(ctx, args[0]); err != nil {
				return err
			}
			slog.Info("account resumed", "account_id", args[0])
			return nil
		})
	},
}

var onboardCmd = &cobra.Command{
	Use:   "onboard <account-id>",
	Short: "Create sync state for a newly connected account and queue its initial full sync.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			id, err := a.processor.ProcessAccount(ctx, args[0])
			if err != nil {
				return err
			}
			if id == "" {
				slog.Info("initial sync already queued", "account_id", args[0])
				return nil
			}
			slog.Info("initial sync queued", "account_id", args[0], "job_id", id)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <account-id>",
	Short: "Print an account's sync state and recent jobs as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			state, err := a.cursors.GetState(ctx, args[0])
			if err != nil {
				return err
			}
			jobs, err := a.queue.AccountJobs(ctx, args[0], 10)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"state": state, "jobs": jobs})
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete completed jobs and activity past retention.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return a.watcher.Cleanup(ctx)
		})
	},
}
