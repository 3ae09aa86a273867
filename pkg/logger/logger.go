// Package logger builds the structured zap logger used across the service
// and provides domain field helpers and context propagation.
package logger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values fall back to info.
	Level string

	// Format is "json" or "console".
	Format string

	// AddCaller annotates entries with file:line.
	AddCaller bool
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Level:     "info",
		Format:    "json",
		AddCaller: true,
	}
}

// ParseLevel parses a level name into a zapcore.Level.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// New creates a new zap logger with the given options.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))
	cfg.Encoding = "json"
	if opts.Format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.DisableCaller = !opts.AddCaller

	return cfg.Build()
}

// Nop returns a logger that discards everything. Handy as a default in tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// ─────────────────────────────────────────────────────────────────────────────
// Context propagation
// ─────────────────────────────────────────────────────────────────────────────

type ctxKey struct{}

// WithContext adds the logger to the context.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns fallback.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// ─────────────────────────────────────────────────────────────────────────────
// Domain-specific field constructors
// ─────────────────────────────────────────────────────────────────────────────

func MemberID(id string) zap.Field      { return zap.String("member_id", id) }
func GroupID(id string) zap.Field       { return zap.String("group_id", id) }
func ChannelID(id string) zap.Field     { return zap.String("channel_id", id) }
func RoleID(id string) zap.Field        { return zap.String("role_id", id) }
func Level(level int) zap.Field         { return zap.Int("level", level) }
func XPAmount(xp int64) zap.Field       { return zap.Int64("xp_amount", xp) }
func TotalXP(xp int64) zap.Field        { return zap.Int64("total_xp", xp) }
func Component(name string) zap.Field   { return zap.String("component", name) }
func Operation(name string) zap.Field   { return zap.String("operation", name) }
func RequestID(id string) zap.Field     { return zap.String("request_id", id) }
func Latency(d time.Duration) zap.Field { return zap.Duration("latency", d) }
