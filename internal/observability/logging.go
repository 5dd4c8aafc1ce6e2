// Package observability carries the console's logging, metrics, tracing and
// health endpoints.
package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/model"
)

type loggerKey struct{}

// NewLogger builds the process logger. The "json" format is for
// production; "console" prints human-readable lines for local work.
//
// Level conventions:
//   - error: backend unreachable, panics, 5xx responses
//   - warn:  rejected mutations, failed reference fetches, breaker trips
//   - info:  sign-in and sign-out, screen mount and unmount, completed mutations
//   - debug: filter and page changes, backend request bodies, upload resizing
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "", "json":
		zc.Encoding = "json"
		// Long-polling screens repeat the same lines; keep the first 100
		// per second and every 100th after that.
		zc.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	case "console":
		zc.Encoding = "console"
		zc.Development = true
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("observability: unknown log format %q (supported: json, console)", cfg.LogFormat)
	}
	return zc.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// SessionFields identifies a session in log lines. The bearer token is
// never included.
func SessionFields(sctx *model.SessionContext) []zap.Field {
	if sctx == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("session_id", sctx.SessionID),
		zap.String("subject_id", sctx.SubjectID),
	}
	if sctx.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", sctx.CorrelationID))
	}
	if sctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", sctx.TraceID))
	}
	return fields
}

// RequestLogger returns the context logger tagged with the request's
// session.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	if fields := SessionFields(model.SessionContextFrom(ctx)); len(fields) > 0 {
		return logger.With(fields...)
	}
	return logger
}

// redacted lists lower-cased field names whose values never reach logs.
var redacted = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"accesstoken":   true,
	"access_token":  true,
	"refreshtoken":  true,
	"refresh_token": true,
	"api_key":       true,
	"authorization": true,
	"cookie":        true,
	"card_number":   true,
	"cvv":           true,
}

// RedactBody returns a copy of body with sensitive values replaced by
// "[REDACTED]". Names match case-insensitively; extra adds names to the
// built-in list. Nested objects and arrays are walked.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	names := redacted
	if len(extra) > 0 {
		names = make(map[string]bool, len(redacted)+len(extra))
		for k := range redacted {
			names[k] = true
		}
		for _, f := range extra {
			names[strings.ToLower(f)] = true
		}
	}
	return redactMap(body, names)
}

func redactMap(body map[string]any, names map[string]bool) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if names[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redactValue(v, names)
	}
	return out
}

func redactValue(v any, names map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, names)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item, names)
		}
		return out
	default:
		return v
	}
}
