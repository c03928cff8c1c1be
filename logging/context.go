package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	RequestIDKey      ctxKey = "request_id"
	UserIDKey         ctxKey = "user_id"
	OrganizationIDKey ctxKey = "organization_id"
	EventIDKey        ctxKey = "event_id"
	CorrelationIDKey  ctxKey = "correlation_id"
)

var contextKeys = []ctxKey{
	RequestIDKey,
	UserIDKey,
	OrganizationIDKey,
	EventIDKey,
	CorrelationIDKey,
}

// WithContext creates a child logger carrying every known identifier found in
// ctx as a string field.
func WithContext(logger Logger, ctx context.Context) Logger {
	if ctx == nil {
		return logger
	}

	var fields []zap.Field
	for _, key := range contextKeys {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}

	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

func GetRequestID(ctx context.Context) string      { return stringValue(ctx, RequestIDKey) }
func GetUserID(ctx context.Context) string         { return stringValue(ctx, UserIDKey) }
func GetOrganizationID(ctx context.Context) string { return stringValue(ctx, OrganizationIDKey) }
func GetEventID(ctx context.Context) string        { return stringValue(ctx, EventIDKey) }
func GetCorrelationID(ctx context.Context) string  { return stringValue(ctx, CorrelationIDKey) }

// SetRequestID adds request ID to context.
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// SetUserID adds user ID to context.
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// SetOrganizationID adds the tenant to context.
func SetOrganizationID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, orgID)
}

// SetEventID adds the id of the event being handled to context.
func SetEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

// SetCorrelationID adds a correlation ID to context.
func SetCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

type loggerKey struct{}

// FromContext returns the Logger stored in the context, or the global logger if none.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return Global()
	}
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return Global()
}

// ToContext stores the Logger in the context.
func ToContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}
