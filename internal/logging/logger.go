// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	EnvFormat = "LOG_FORMAT"
	EnvLevel  = "LOG_LEVEL"

	appName = "mailsync"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Options is the parsed LOG_FORMAT / LOG_LEVEL pair.
type Options struct {
	JSON  bool
	Level slog.Level
}

// OptionsFromEnv parses logging options, defaulting to JSON at info level.
func OptionsFromEnv() (Options, error) {
	opts := Options{JSON: true, Level: slog.LevelInfo}

	switch format := strings.ToLower(strings.TrimSpace(os.Getenv(EnvFormat))); format {
	case "", "json":
	case "text":
		opts.JSON = false
	default:
		return Options{}, fmt.Errorf("%s must be one of: json, text", EnvFormat)
	}

	if raw := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLevel))); raw != "" {
		level, ok := levels[raw]
		if !ok {
			return Options{}, fmt.Errorf("%s must be one of: debug, info, warn, error", EnvLevel)
		}
		opts.Level = level
	}
	return opts, nil
}

// New builds a logger tagged with the app and the running command.
func New(opts Options, w io.Writer, command string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler = slog.NewTextHandler(w, handlerOpts)
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	command = strings.TrimSpace(command)
	if command == "" {
		command = appName
	}
	return slog.New(handler).With("app", appName, "command", command)
}

// Setup reads the environment, installs the logger as slog's default and returns it.
func Setup(w io.Writer, command string) (*slog.Logger, error) {
	opts, err := OptionsFromEnv()
	if err != nil {
		return nil, err
	}
	logger := New(opts, w, command)
	slog.SetDefault(logger)
	return logger, nil
}
