package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vipul43/mailsync/internal/logging"
)

func main() {
	code := runMain(Execute, os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

func runMain(execute func() error, stderr io.Writer) int {
	if err := execute(); err != nil {
		return exitCodeForError(err, stderr)
	}
	return 0
}

func exitCodeForError(err error, stderr io.Writer) int {
	var ee *exitError
	if errors.As(err, &ee) {
		emitCommandError(err, ee.message(), ee.code, stderr)
		return ee.code
	}

	if errors.Is(err, context.Canceled) {
		emitCommandError(err, "command canceled", exitCanceled, stderr)
		return exitCanceled
	}

	emitCommandError(err, "command failed", exitFailure, stderr)
	return exitFailure
}

// emitCommandError logs structured output once logging is configured and
// falls back to plain text for failures before that (bad flags, bad env).
func emitCommandError(err error, message string, exitCode int, stderr io.Writer) {
	command := currentCommandPath()
	if command == "" {
		if exitCode == exitCanceled {
			fmt.Fprintln(stderr, "canceled")
			return
		}
		fmt.Fprintln(stderr, err)
		return
	}

	opts, optsErr := logging.OptionsFromEnv()
	if optsErr != nil {
		opts = logging.Options{JSON: true}
	}
	logging.New(opts, stderr, command).Error(message, "exit_code", exitCode, "error", err)
}
