package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"aisorter/internal/middleware"
	"aisorter/pkg/apperror"
	"aisorter/pkg/domain"
	"aisorter/pkg/metrics"
	"aisorter/pkg/redact"
)

// maxBodyBytes предел тела /sort запроса
const maxBodyBytes = 10 << 20 // 10MB

// errorResponse тело ошибки API
type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// handleSort принимает батч, классифицирует и возвращает элементы с
// категорией и назначением. Не-2xx означает, что sidecar сам не принял
// работу; отказ upstream возвращает 200 с fallback классификациями.
func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	// Отсутствие upstream ключа делает /sort невызываемым
	if !s.config.Ready() {
		s.metrics.RecordRequest(metrics.StatusRejected)
		s.writeError(w, requestID, apperror.ErrMissingAPIKey.WithDetails("reason", "AI_API_KEY is not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var batch domain.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.metrics.RecordRequest(metrics.StatusRejected)
		s.writeError(w, requestID, apperror.Wrap(err, apperror.CodeInvalidRequest, "request body is not a valid batch"))
		return
	}

	// Сквозной дедлайн запроса; отмена каскадирует в semaphore, limiter
	// и upstream вызов
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Server.RequestDeadline())
	defer cancel()

	result, err := s.sorter.Sort(ctx, batch, requestID)
	if err != nil {
		s.recordFailure(err)
		s.writeError(w, requestID, err)
		return
	}

	status := metrics.StatusOK
	if result.Degraded && !apperror.ShortCircuitedCode(result.DegradedKind) {
		// Жёсткий отказ upstream после retry: 200 для caller, error в метриках
		status = metrics.StatusError
	}
	s.metrics.RecordRequest(status)

	s.writeJSON(w, http.StatusOK, result.Items)
}

// handleHealth liveness проба: процесс принимает соединения.
// Breaker и upstream не опрашиваются.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady readiness проба: все singletons собраны, конфигурация
// валидна, upstream ключ на месте. Выключается первым шагом shutdown.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.Ready() {
		s.writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
}

// recordFailure ведёт requests_total для ошибок Sort: отказы допуска идут
// как rejected, прочие ошибки — как error
func (s *Server) recordFailure(err error) {
	switch apperror.Code(err) {
	case apperror.CodeInvalidRequest, apperror.CodeOverloaded, apperror.CodeMissingAPIKey:
		s.metrics.RecordRequest(metrics.StatusRejected)
	default:
		s.metrics.RecordRequest(metrics.StatusError)
	}
}

// writeError сериализует ошибку в формат API. Детали проходят redact:
// пользовательские сообщения не должны выносить PII.
func (s *Server) writeError(w http.ResponseWriter, requestID string, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.Wrap(err, apperror.CodeInternal, "unexpected error")
	}

	status := appErr.HTTPStatus()
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	resp := errorResponse{
		Error:     http.StatusText(status),
		Code:      string(appErr.Code),
		Details:   redact.Redact(appErr.Message),
		RequestID: requestID,
	}

	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Ответ уже начат отправляться, исправить нечего
		return
	}
}
