package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/service"
	"github.com/vipul43/mailsync/internal/syncerr"
)

const (
	defaultMaxMessages = 500
	tokenExpirySkew    = 5 * time.Minute
)

// AccountStore is the slice of the account repository the executor needs.
type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
	UpdateTokens(ctx context.Context, accountID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error
}

// Executor runs one sync pass against Gmail. It implements service.SyncExecutor.
type Executor struct {
	client      *Client
	accounts    AccountStore
	sink        MessageSink
	maxMessages int
	now         func() time.Time
}

func NewExecutor(client *Client, accounts AccountStore, sink MessageSink, maxMessages int) *Executor {
	if sink == nil {
		sink = LogSink{}
	}
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &Executor{
		client:      client,
		accounts:    accounts,
		sink:        sink,
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

func (e *Executor) Execute(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error) {
	account, err := e.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	accessToken, err := e.accessToken(ctx, account)
	if err != nil {
		return nil, err
	}
	svc, err := e.client.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	limit := e.maxMessages
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}

	var (
		ids    []string
		cursor uint64
	)
	switch req.Mode {
	case service.SyncModeIncremental:
		ids, cursor, err = e.incremental(ctx, svc, req, limit)
	default:
		ids, cursor, err = e.full(ctx, svc, req, limit)
	}
	if err != nil {
		return nil, err
	}

	messages, failed, gone, err := e.fetchAll(ctx, svc, ids)
	if err != nil {
		return nil, err
	}
	if len(messages) > 0 {
		if err := e.sink.Deliver(ctx, req.AccountID, messages); err != nil {
			return nil, fmt.Errorf("failed to deliver messages: %w", err)
		}
	}

	next := strconv.FormatUint(cursor, 10)
	return &service.ExecuteResult{
		Cursor:      &next,
		ItemsTotal:  len(ids) - gone,
		ItemsFailed: failed,
	}, nil
}

// full lists matching messages. The history id is read first so changes
// made while listing are replayed by the next incremental run.
func (e *Executor) full(ctx context.Context, svc *gmail.Service, req service.ExecuteRequest, limit int) ([]string, uint64, error) {
	historyID, err := e.client.HistoryID(ctx, svc)
	if err != nil {
		return nil, 0, err
	}
	query := BuildQuery(req.Folders, req.Since)
	slog.Debug("gmail full sync", "account_id", req.AccountID, "query", query, "limit", limit)

	ids, err := e.client.ListMessageIDs(ctx, svc, query, limit)
	if err != nil {
		return nil, 0, err
	}
	return ids, historyID, nil
}

func (e *Executor) incremental(ctx context.Context, svc *gmail.Service, req service.ExecuteRequest, limit int) ([]string, uint64, error) {
	if req.Cursor == nil {
		return nil, 0, fmt.Errorf("incremental sync without cursor: %w", service.ErrCursorInvalid)
	}
	start, err := strconv.ParseUint(*req.Cursor, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("history id %q: %w", *req.Cursor, service.ErrCursorInvalid)
	}

	labelID := ""
	if len(req.Folders) == 1 {
		labelID = req.Folders[0]
	}
	ids, latest, err := e.client.HistorySince(ctx, svc, start, labelID, limit)
	if err != nil {
		// Gmail answers 404 once the start id falls out of its history window
		if isStatus(err, http.StatusNotFound) {
			return nil, 0, fmt.Errorf("%w: %v", service.ErrCursorInvalid, err)
		}
		return nil, 0, err
	}
	return ids, latest, nil
}

// fetchAll fetches metadata for each id. Per-message failures are counted
// in failed. Messages deleted since they were listed (drafts, auto-purged
// mail) answer 404 and are counted in gone, outside the batch. Auth and rate
// limit errors abort the run.
func (e *Executor) fetchAll(ctx context.Context, svc *gmail.Service, ids []string) (messages []Message, failed, gone int, err error) {
	messages = make([]Message, 0, len(ids))
	for _, id := range ids {
		msg, ferr := e.client.FetchMessage(ctx, svc, id)
		if ferr == nil {
			messages = append(messages, *msg)
			continue
		}
		if ctx.Err() != nil {
			return nil, 0, 0, ctx.Err()
		}
		if isStatus(ferr, http.StatusNotFound) {
			slog.Debug("message no longer exists", "message_id", id)
			gone++
			continue
		}
		switch syncerr.Classify(ferr).Kind {
		case syncerr.KindAuth, syncerr.KindRateLimit:
			return nil, 0, 0, ferr
		}
		slog.Warn("failed to fetch message", "message_id", id, "error", ferr)
		failed++
	}
	return messages, failed, gone, nil
}

func (e *Executor) accessToken(ctx context.Context, account *models.Account) (string, error) {
	if account.AccessToken != nil && *account.AccessToken != "" && !e.isTokenExpired(account.AccessTokenExpiresAt) {
		return *account.AccessToken, nil
	}
	return e.refreshToken(ctx, account)
}

// isTokenExpired checks if access token is expired or will expire within 5 minutes
func (e *Executor) isTokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return e.now().Add(tokenExpirySkew).After(*expiresAt)
}

// refreshToken refreshes the access token and updates the account
func (e *Executor) refreshToken(ctx context.Context, account *models.Account) (string, error) {
	if account.RefreshToken == nil || *account.RefreshToken == "" {
		return "", &syncerr.ProviderError{StatusCode: http.StatusUnauthorized, Message: "no refresh token available"}
	}

	result, err := e.client.RefreshAccessToken(ctx, *account.RefreshToken)
	if err != nil {
		return "", err
	}

	if err := e.accounts.UpdateTokens(ctx, account.ID, result.AccessToken, result.RefreshToken, result.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to update tokens in database: %w", err)
	}

	slog.Info("access token refreshed", "account_id", account.ID, "expires_at", result.ExpiresAt)
	return result.AccessToken, nil
}

func isStatus(err error, code int) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == code
}
