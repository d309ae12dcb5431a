package service

import (
	"context"
	"errors"
	"time"
)

// ErrCursorInvalid is wrapped by executors when the provider no longer
// accepts the stored cursor. The dispatcher clears it so the retry runs full.
var ErrCursorInvalid = errors.New("sync cursor is no longer valid")

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

type ExecuteRequest struct {
	AccountID string
	Mode      SyncMode
	Cursor    *string
	Folders   []string
	Since     *time.Time
	Limit     int
}

// ExecuteResult is what a provider round trip produced. Cursor is nil when
// the position did not move.
type ExecuteResult struct {
	Cursor      *string
	ItemsTotal  int
	ItemsFailed int
}

// FailureRate is ItemsFailed/ItemsTotal. A result reporting more failures
// than items (including failures on an empty batch) rates 1.
func (r *ExecuteResult) FailureRate() float64 {
	if r == nil || r.ItemsFailed <= 0 {
		return 0
	}
	if r.ItemsFailed >= r.ItemsTotal {
		return 1
	}
	return float64(r.ItemsFailed) / float64(r.ItemsTotal)
}

// SyncExecutor performs one provider round trip for an account.
type SyncExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)
}

// SyncExecutorFunc adapts a function to SyncExecutor.
type SyncExecutorFunc func(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)

func (f SyncExecutorFunc) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	return f(ctx, req)
}
