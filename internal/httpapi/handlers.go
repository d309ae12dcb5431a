package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vipul43/mailsync/internal/httpapi/webhookauth"
	"github.com/vipul43/mailsync/internal/metrics"
	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
	"github.com/vipul43/mailsync/internal/service"
)

type syncWebhookRequest struct {
	AccountID string   `json:"accountId"`
	Folders   []string `json:"folders"`
}

type activityWebhookRequest struct {
	AccountID string     `json:"accountId"`
	ReadAt    *time.Time `json:"readAt"`
}

type accountSyncResponse struct {
	State *models.AccountSyncState `json:"state"`
	Jobs  []models.SyncJob         `json:"jobs"`
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) readyz(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()
	if err := h.DB.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// verifySignature rejects unsigned or stale deliveries and leaves the raw
// body readable for the handler.
func (h *handlers) verifySignature(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) > maxBodyBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	err = h.Webhooks.Check(c.GetHeader(webhookauth.TimestampHeader), c.GetHeader(webhookauth.SignatureHeader), body, h.Now())
	if err != nil {
		switch {
		case errors.Is(err, webhookauth.ErrBadTimestamp),
			errors.Is(err, webhookauth.ErrStaleDelivery):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		}
		return
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	c.Next()
}

func (h *handlers) syncWebhook(c *gin.Context) {
	var req syncWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountId is required"})
		return
	}

	jobID, err := h.Queue.Enqueue(c.Request.Context(), req.AccountID, service.EnqueueOptions{
		Type:     models.JobTypeWebhookTriggered,
		Priority: models.PriorityImmediate,
		Metadata: models.JobMetadata{Folders: req.Folders},
	})
	if errors.Is(err, service.ErrAlreadyQueued) {
		h.expedite(c, req.AccountID)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue sync"})
		return
	}

	metrics.EnqueuesTotal.WithLabelValues(string(models.JobTypeWebhookTriggered), "queued", "webhook").Inc()
	h.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "jobId": jobID})
}

// expedite handles a push for an account that already holds an active job.
// A pending job waiting on its schedule is pulled forward instead of being
// left at its scheduled time.
func (h *handlers) expedite(c *gin.Context, accountID string) {
	res, err := h.Queue.Expedite(c.Request.Context(), accountID, models.PriorityImmediate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to expedite sync"})
		return
	}
	if res.Changed {
		metrics.EnqueuesTotal.WithLabelValues(string(models.JobTypeWebhookTriggered), "expedited", "webhook").Inc()
		h.Trigger()
		c.JSON(http.StatusAccepted, gin.H{"status": "expedited", "jobId": res.JobID})
		return
	}

	metrics.EnqueuesTotal.WithLabelValues(string(models.JobTypeWebhookTriggered), "already_queued", "webhook").Inc()
	resp := gin.H{"status": "already_queued"}
	if res.Pending {
		resp["jobId"] = res.JobID
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) activityWebhook(c *gin.Context) {
	var req activityWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountId is required"})
		return
	}

	var readAt time.Time
	if req.ReadAt != nil {
		readAt = *req.ReadAt
	}
	err := h.Cursors.RecordRead(c.Request.Context(), req.AccountID, readAt)
	if errors.Is(err, repository.ErrSyncStateNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record activity"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) accountSync(c *gin.Context) {
	accountID := c.Param("id")
	state, err := h.Cursors.GetState(c.Request.Context(), accountID)
	if errors.Is(err, repository.ErrSyncStateNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sync state"})
		return
	}

	jobs, err := h.Queue.AccountJobs(c.Request.Context(), accountID, recentJobsLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load jobs"})
		return
	}
	if jobs == nil {
		jobs = []models.SyncJob{}
	}
	c.JSON(http.StatusOK, accountSyncResponse{State: state, Jobs: jobs})
}
