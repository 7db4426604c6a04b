// Package logger configures zerolog for the service binaries and carries a
// scan-cycle trace ID through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Config selects level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// Init builds the process logger, tags it with the service name and installs
// it as the zerolog global so log.Info() etc. share the same output.
func Init(service string, cfg Config) (zerolog.Logger, error) {
	return initTo(os.Stdout, service, cfg)
}

func initTo(w io.Writer, service string, cfg Config) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Logger()
	log.Logger = l
	return l, nil
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// NewTraceID returns a random ID for one scan cycle.
func NewTraceID() string {
	return uuid.NewString()
}

// From returns the global logger with the context's trace ID attached, if any.
func From(ctx context.Context) zerolog.Logger {
	tid := TraceID(ctx)
	if tid == "" {
		return log.Logger
	}
	return log.Logger.With().Str("trace_id", tid).Logger()
}
