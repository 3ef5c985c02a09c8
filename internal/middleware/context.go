package middleware

import (
	"context"

	"github.com/google/uuid"
)

// Context keys
type contextKey string

const requestIDKey contextKey = "request_id"

// GetRequestID извлекает request_id из контекста
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID добавляет request_id в контекст
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GenerateRequestID генерирует уникальный ID запроса
func GenerateRequestID() string {
	return uuid.NewString()
}
