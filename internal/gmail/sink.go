package gmail

import (
	"context"
	"log/slog"
)

// MessageSink receives the messages fetched by a sync pass.
type MessageSink interface {
	Deliver(ctx context.Context, accountID string, messages []Message) error
}

// LogSink only logs what was fetched. Message storage lives outside this service.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, accountID string, messages []Message) error {
	slog.Debug("messages synced", "account_id", accountID, "count", len(messages))
	return nil
}
