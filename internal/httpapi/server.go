// Package httpapi exposes health, metrics and the webhook triggers that
// enqueue syncs ahead of the scheduler.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vipul43/mailsync/internal/httpapi/webhookauth"
	"github.com/vipul43/mailsync/internal/service"
)

const (
	readHeaderTimeout = 5 * time.Second
	maxBodyBytes      = 1 << 20
	recentJobsLimit   = 10
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type Deps struct {
	Queue   *service.JobQueue
	Cursors *service.CursorStore
	DB      Pinger
	Now     func() time.Time

	// Webhooks authenticates pushes. Nil leaves the /webhooks routes unmounted.
	Webhooks *webhookauth.Verifier

	// Trigger wakes the watcher after a webhook enqueue. Optional.
	Trigger func()
}

type handlers struct {
	Deps
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Trigger == nil {
		deps.Trigger = func() {}
	}
	h := &handlers{Deps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logging())

	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Webhooks != nil {
		hooks := r.Group("/webhooks")
		hooks.Use(h.verifySignature)
		hooks.POST("/sync", h.syncWebhook)
		hooks.POST("/activity", h.activityWebhook)
	}

	r.GET("/accounts/:id/sync", h.accountSync)
	return r
}

// Serve runs handler on addr until ctx is done, then shuts down within shutdownTimeout.
func Serve(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
