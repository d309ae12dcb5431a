package main

import (
	"context"
	"log/slog"
	"net/http"

	"gorm.io/gorm"

	"github.com/vipul43/mailsync/internal/backoff"
	"github.com/vipul43/mailsync/internal/config"
	"github.com/vipul43/mailsync/internal/database"
	"github.com/vipul43/mailsync/internal/gmail"
	"github.com/vipul43/mailsync/internal/httpapi"
	"github.com/vipul43/mailsync/internal/httpapi/webhookauth"
	"github.com/vipul43/mailsync/internal/repository"
	"github.com/vipul43/mailsync/internal/service"
	"github.com/vipul43/mailsync/internal/watcher"
)

// app holds the wired services every command works against.
type app struct {
	cfg *config.Config
	db  *gorm.DB

	cursors    *service.CursorStore
	queue      *service.JobQueue
	scheduler  *service.Scheduler
	processor  *service.AccountProcessor
	dispatcher *watcher.Dispatcher
	watcher    *watcher.Watcher
}

// openApp loads config, connects to Postgres and wires the services.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	slog.Debug("database connected")

	a, err := newApp(cfg, db)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return a, nil
}

func newApp(cfg *config.Config, db *gorm.DB) (*app, error) {
	mode, err := service.ParseMode(cfg.ScheduleMode)
	if err != nil {
		return nil, err
	}

	accounts := repository.NewAccountRepository(db)
	states := repository.NewSyncStateRepository(db)
	jobs := repository.NewSyncJobRepository(db)
	activity := repository.NewActivityRepository(db)

	policy := backoff.Policy{Base: cfg.BackoffBase, Max: cfg.BackoffMax}
	cursors := service.NewCursorStore(states)
	queue := service.NewJobQueue(jobs, policy, cfg.MaxRetries)
	scheduler := service.NewScheduler(accounts, cursors, activity, queue, mode)

	client := gmail.NewClient(cfg.GmailClientID, cfg.GmailClientSecret)
	executor := gmail.NewExecutor(client, accounts, gmail.LogSink{}, cfg.GmailMaxMessages)

	dispatcher := watcher.NewDispatcher(queue, cursors, accounts, activity, executor, watcher.DispatcherConfig{
		JobTimeout:              cfg.JobTimeout,
		Throttle:                cfg.Throttle,
		PartialFailureThreshold: cfg.PartialFailureThreshold,
	})

	return &app{
		cfg:        cfg,
		db:         db,
		cursors:    cursors,
		queue:      queue,
		scheduler:  scheduler,
		processor:  service.NewAccountProcessor(accounts, cursors, queue),
		dispatcher: dispatcher,
		watcher:    watcher.New(cfg, dispatcher, scheduler, queue, activity),
	}, nil
}

func (a *app) handler() http.Handler {
	verifier, err := webhookauth.NewVerifier(a.cfg.WebhookSecret)
	if err != nil {
		slog.Warn("webhook routes disabled", "error", err)
	}
	return httpapi.NewRouter(httpapi.Deps{
		Queue:    a.queue,
		Cursors:  a.cursors,
		DB:       httpapi.PingerFunc(func(ctx context.Context) error { return database.Ping(ctx, a.db) }),
		Webhooks: verifier,
		Trigger:  a.watcher.Trigger,
	})
}

func (a *app) Close() {
	if err := database.Close(a.db); err != nil {
		slog.Warn("failed to close database", "error", err)
	}
}
