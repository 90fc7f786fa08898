package logging

import (
	"context"
	"log/slog"
	"strings"
)

type contextKey int

const (
	ownerIDKey contextKey = iota
	taskIDKey
)

// WithTask stores task identity on the context so downstream log lines carry it.
func WithTask(ctx context.Context, ownerID, taskID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if ownerID = strings.TrimSpace(ownerID); ownerID != "" {
		ctx = context.WithValue(ctx, ownerIDKey, ownerID)
	}
	if taskID = strings.TrimSpace(taskID); taskID != "" {
		ctx = context.WithValue(ctx, taskIDKey, taskID)
	}
	return ctx
}

// TaskFromContext returns the owner and task identifiers stored by WithTask.
func TaskFromContext(ctx context.Context) (ownerID, taskID string) {
	if ctx == nil {
		return "", ""
	}
	ownerID, _ = ctx.Value(ownerIDKey).(string)
	taskID, _ = ctx.Value(taskIDKey).(string)
	return ownerID, taskID
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	ownerID, taskID := TaskFromContext(ctx)
	fields := make([]slog.Attr, 0, 2)
	if ownerID != "" {
		fields = append(fields, slog.String(FieldOwnerID, ownerID))
	}
	if taskID != "" {
		fields = append(fields, slog.String(FieldTaskID, taskID))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
