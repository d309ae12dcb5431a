package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/mailsync/internal/database"
	"github.com/vipul43/mailsync/internal/httpapi"
)

var workerSkipMigrations bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the scheduler, the dispatcher loops and the HTTP trigger surface.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerSkipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
}

func runWorker() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !workerSkipMigrations {
		slog.Info("running database migrations")
		if err := database.RunMigrations(a.db); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.watcher.Start(gctx)
	})
	if a.cfg.HTTPEnabled() {
		gin.SetMode(gin.ReleaseMode)
		g.Go(func() error {
			return httpapi.Serve(gctx, a.cfg.HTTPAddr, a.handler(), a.cfg.ShutdownTimeout)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return ignoreCanceled(err)
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, waiting for in-flight jobs", "timeout", a.cfg.ShutdownTimeout)
	timer := time.NewTimer(a.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err = ignoreCanceled(err); err != nil {
			return err
		}
		slog.Info("worker stopped")
		return nil
	case <-timer.C:
		return shutdownTimeoutError(a.cfg.ShutdownTimeout)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
