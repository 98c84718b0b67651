// Package telemetry wires the engine's structured logging: a global
// zerolog logger, optionally enriched per-request with OpenTelemetry
// trace/span identifiers.
package telemetry

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init configures the global zerolog logger. levelName is one of
// "debug", "info", "warn", "error" (case-insensitive); unrecognized or
// empty values default to "info". When pretty is true, output is a
// human-readable console writer instead of JSON lines — useful for
// local development, matching the teacher's dev/prod logging split.
func Init(levelName string, pretty bool) {
	level := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(levelName)) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
}

// WithTrace returns a zerolog.Logger enriched with trace_id/span_id
// from ctx, if a sampled span is present. Grounded directly on the
// teacher's internal/observability/ctxlogger.go LoggerWithTrace.
func WithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
		if sc.HasSpanID() {
			l = l.With().Str("span_id", sc.SpanID().String()).Logger()
		}
		if sc.IsSampled() {
			l = l.With().Bool("trace_sampled", true).Logger()
		}
	}
	return &l
}

// WithSession returns a logger scoped to a session id, for use across
// the orchestrator, tiering, and kvcache packages.
func WithSession(ctx context.Context, sessionID string) *zerolog.Logger {
	l := WithTrace(ctx).With().Str("session_id", sessionID).Logger()
	return &l
}
