// Package logging configures log/slog for the manifest services.
//
// Loggers obtained through FromContext carry the chi request id of HTTP
// triggers and the trigger name attached with WithTrigger, so every line
// written while a batch is processed can be traced back to what started it.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const triggerKey ctxKey = iota

// Setup configures the global slog logger to write to stdout.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTrigger records which entry point (http, amqp, cli) started the work
// carried by ctx, plus an optional identifier such as a delivery tag.
func WithTrigger(ctx context.Context, name, id string) context.Context {
	return context.WithValue(ctx, triggerKey, [2]string{name, id})
}

// FromContext returns the default logger enriched with the request id and
// trigger stored in ctx, if any.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if t, ok := ctx.Value(triggerKey).([2]string); ok {
		logger = logger.With("trigger", t[0])
		if t[1] != "" {
			logger = logger.With("trigger_id", t[1])
		}
	}

	return logger
}

// WithFields returns a context logger with additional structured fields.
//
//	log := logging.WithFields(ctx, "batch_id", batchID, "table", table)
//	log.Info("processing table")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
