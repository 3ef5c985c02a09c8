// Package middleware contains the HTTP middleware chain of the sidecar:
// request-id propagation, request logging, metrics, the optional X-API-Key
// gate, and panic recovery.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"aisorter/pkg/logger"
	"aisorter/pkg/metrics"
)

// Middleware стандартная сигнатура HTTP middleware
type Middleware func(http.Handler) http.Handler

// Chain применяет middleware в порядке объявления: первый — внешний
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// statusWriter запоминает код ответа для логирования и метрик
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestID генерирует request_id для каждого запроса и кладёт его в
// контекст и заголовок ответа. Уже присланный X-Request-ID сохраняется.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = GenerateRequestID()
			}

			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
		})
	}
}

// Logging логирует начало и завершение запроса с длительностью и исходом
func Logging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := GetRequestID(r.Context())

			logger.Log.Debug("Request started",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestID,
			)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			duration := time.Since(start)
			logFields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", duration.Milliseconds(),
				"request_id", requestID,
			}

			if sw.status >= http.StatusInternalServerError {
				logger.Log.Error("Request failed", logFields...)
			} else {
				logger.Log.Info("Request completed", logFields...)
			}
		})
	}
}

// Metrics ведёт гистограмму сквозной длительности запроса — единственное
// место наблюдения, один раз на запрос при любом исходе.
// Gauge активных запросов живёт в orchestrator: он считает только
// допущенные через семафор запросы и потому не превышает лимит.
func Metrics(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			m.RequestDuration.Observe(time.Since(start).Seconds())
		})
	}
}

// Auth проверяет заголовок X-API-Key. Пустой настроенный ключ оставляет
// endpoint открытым внутри pod-сети.
func Auth(apiKey string, m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				m.RecordRequest(metrics.StatusRejected)
				logger.Log.Warn("Request rejected: missing or invalid API key",
					"request_id", GetRequestID(r.Context()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":      "unauthorized",
					"code":       "MISSING_API_KEY",
					"details":    "missing or invalid X-API-Key header",
					"request_id": GetRequestID(r.Context()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Recover превращает панику handler в 500 вместо падения процесса
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Log.Error("Handler panic",
						"panic", rec,
						"path", r.URL.Path,
						"request_id", GetRequestID(r.Context()),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error":      "internal error",
						"code":       "INTERNAL_ERROR",
						"request_id": GetRequestID(r.Context()),
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
