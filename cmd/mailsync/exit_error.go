package main

import (
	"fmt"
	"time"
)

// Exit codes reported by mailsync.
const (
	exitFailure         = 1
	exitUsage           = 2
	exitShutdownTimeout = 3
	exitCanceled        = 130
)

// exitError carries a specific exit code and log message out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) message() string {
	switch e.code {
	case exitUsage:
		return "invalid command usage"
	case exitShutdownTimeout:
		return "shutdown timed out with jobs in flight"
	}
	return "command failed"
}

// usageError rejects flag or argument values before any work starts.
func usageError(format string, args ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

// shutdownTimeoutError reports jobs still running at the deadline. The stale
// job reaper picks them up on the next start.
func shutdownTimeoutError(timeout time.Duration) error {
	return &exitError{code: exitShutdownTimeout, err: fmt.Errorf("sync jobs still running after %s", timeout)}
}
