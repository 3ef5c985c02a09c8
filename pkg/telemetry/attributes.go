package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Стандартные ключи атрибутов
const (
	// Батч
	AttrBatchSize = "batch.size"

	// Классификация
	AttrClassifierModel    = "classifier.model"
	AttrClassifierAttempts = "classifier.attempts"
	AttrClassifierFallback = "classifier.fallback"

	// HTTP
	AttrHTTPMethod    = "http.method"
	AttrHTTPRoute     = "http.route"
	AttrHTTPStatus    = "http.status_code"
	AttrHTTPRequestID = "http.request_id"

	// Upstream
	AttrUpstreamStatus  = "upstream.status_code"
	AttrUpstreamAttempt = "upstream.attempt"
)

// BatchAttributes возвращает атрибуты батча
func BatchAttributes(size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrBatchSize, size),
	}
}

// ClassifierAttributes возвращает атрибуты вызова классификатора
func ClassifierAttributes(model string, attempts int, fallback bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrClassifierModel, model),
		attribute.Int(AttrClassifierAttempts, attempts),
		attribute.Bool(AttrClassifierFallback, fallback),
	}
}

// RequestAttributes возвращает атрибуты HTTP запроса
func RequestAttributes(method, route, requestID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPRequestID, requestID),
	}
}
