// Package logging builds the service logger: JSON on stdout, optionally
// mirrored to a Graylog server over GELF.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Graylog2/go-gelf/gelf"
)

type Options struct {
	Level  slog.Level
	Output io.Writer

	// GraylogAddr enables the GELF sink when set, e.g. "localhost:12201"
	GraylogAddr string
}

// ParseLevel maps a level name to a slog level, falling back to def
func ParseLevel(s string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}

// New returns the service logger. A GELF failure is returned together with
// a working stdout-only logger.
func New(opts Options) (*slog.Logger, error) {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	handlers := []slog.Handler{slog.NewJSONHandler(opts.Output, handlerOpts)}

	var gelfErr error
	if opts.GraylogAddr != "" {
		w, err := gelf.NewWriter(opts.GraylogAddr)
		if err != nil {
			gelfErr = fmt.Errorf("connecting to graylog at %s: %w", opts.GraylogAddr, err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
		}
	}

	return slog.New(NewMultiHandler(handlers...)), gelfErr
}
