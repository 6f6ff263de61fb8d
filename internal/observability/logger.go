// Package observability provides logging and metrics for tambayan.
package observability

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/m-mizutani/masq"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
)

// LevelTrace is more verbose than debug. Relay byte accounting logs here.
const LevelTrace = slog.Level(-8)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = masq.DefaultRedactMessage

var defaultSensitiveFields = []string{
	"password", "secret", "token", "apikey", "api_key", "credential",
	"authorization", "cookie", "watchsb",
}

var requestLogging atomic.Bool

func init() {
	requestLogging.Store(true)
}

// SetRequestLogging toggles per-request access logs.
func SetRequestLogging(enabled bool) {
	requestLogging.Store(enabled)
}

// IsRequestLoggingEnabled reports whether per-request access logs are written.
func IsRequestLoggingEnabled() bool {
	return requestLogging.Load()
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided writer.
// Attributes whose key names a sensitive field are redacted, as are
// sensitive query parameters inside URL-valued strings.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	sensitive := make(map[string]bool)
	for _, f := range defaultSensitiveFields {
		sensitive[f] = true
	}
	for _, f := range cfg.RedactFields {
		sensitive[strings.ToLower(f)] = true
	}

	redact := masq.New(
		masq.WithCensor(func(fieldName string, _ any, _ string) bool {
			return sensitive[strings.ToLower(fieldName)]
		}),
	)

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch a.Key {
				case slog.TimeKey:
					if t, ok := a.Value.Any().(time.Time); ok && cfg.TimeFormat != "" {
						return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
					}
					return a
				case slog.LevelKey:
					if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
						return slog.String(slog.LevelKey, "TRACE")
					}
					return a
				case slog.MessageKey, slog.SourceKey:
					return a
				}
			}
			if sensitive[strings.ToLower(a.Key)] || a.Value.Kind() == slog.KindAny {
				return redact(groups, a)
			}
			if a.Value.Kind() == slog.KindString {
				if s := a.Value.String(); strings.Contains(s, "://") && strings.Contains(s, "?") {
					return slog.String(a.Key, redactURLParams(s, sensitive))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// redactURLParams masks the values of sensitive query parameters, keeping
// the parameter names and the rest of the URL intact.
func redactURLParams(raw string, sensitive map[string]bool) string {
	idx := strings.Index(raw, "?")
	if idx < 0 {
		return raw
	}
	query := raw[idx+1:]
	fragment := ""
	if f := strings.Index(query, "#"); f >= 0 {
		query, fragment = query[:f], query[f:]
	}

	pairs := strings.Split(query, "&")
	for i, pair := range pairs {
		name, _, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		key := name
		if unescaped, err := url.QueryUnescape(name); err == nil {
			key = unescaped
		}
		if sensitive[strings.ToLower(key)] {
			pairs[i] = name + "=" + RedactedValue
		}
	}
	return raw[:idx+1] + strings.Join(pairs, "&") + fragment
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithApp tags the logger with the application name and version.
func WithApp(logger *slog.Logger, name, version string) *slog.Logger {
	return logger.With(slog.String("app", name), slog.String("version", version))
}

// WithRequestID adds a request ID to the logger.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String("request_id", requestID))
}

// WithComponent adds a component name to the logger.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation adds an operation name to the logger.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError adds an error to the logger. A nil error leaves the logger unchanged.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext returns the logger stored in ctx, or the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// RequestIDFromContext returns the request ID stored in ctx.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID stores a request ID in the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// SetDefault sets the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperation logs the duration of an operation when the returned func is called.
//
//	defer observability.TimedOperation(ctx, logger, "probe")()
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string) func() {
	start := time.Now()
	logger.DebugContext(ctx, "operation started", slog.String("operation", operation))
	return func() {
		logger.DebugContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// TimedOperationWithError is TimedOperation that also records the error
// pointed to by errPtr, logging at error level when it is non-nil.
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.DebugContext(ctx, "operation started", slog.String("operation", operation))
	return func() {
		attrs := []any{
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if errPtr != nil && *errPtr != nil {
			attrs = append(attrs, slog.String("error", (*errPtr).Error()))
			logger.ErrorContext(ctx, "operation failed", attrs...)
			return
		}
		logger.DebugContext(ctx, "operation completed", attrs...)
	}
}
