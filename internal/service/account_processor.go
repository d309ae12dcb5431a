package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vipul43/mailsync/internal/models"
)

type AccountProcessor struct {
	accountRepo AccountRepository
	cursors     *CursorStore
	queue       *JobQueue
}

func NewAccountProcessor(accountRepo AccountRepository, cursors *CursorStore, queue *JobQueue) *AccountProcessor {
	return &AccountProcessor{
		accountRepo: accountRepo,
		cursors:     cursors,
		queue:       queue,
	}
}

// ProcessAccount prepares a newly connected account and queues its initial full sync.
// An already queued job is not an error.
func (p *AccountProcessor) ProcessAccount(ctx context.Context, accountID string) (string, error) {
	// Fetch account details
	account, err := p.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("failed to get account: %w", err)
	}

	// Validate tokens exist
	if !account.HasTokens() {
		return "", fmt.Errorf("account missing tokens")
	}

	if _, err := p.cursors.Ensure(ctx, account.ID, account.UserID); err != nil {
		return "", fmt.Errorf("failed to create sync state: %w", err)
	}

	jobID, err := p.queue.Enqueue(ctx, account.ID, EnqueueOptions{
		Type:     models.JobTypeFull,
		Priority: models.PriorityImmediate,
	})
	if errors.Is(err, ErrAlreadyQueued) {
		slog.Info("initial sync already queued", "account_id", accountID)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to queue initial sync: %w", err)
	}

	slog.Info("account onboarded", "account_id", accountID, "user_id", account.UserID, "job_id", jobID)
	return jobID, nil
}
