// Package sorter implements the classification orchestrator: batch
// validation, the global concurrency gate, delegation to the AI client, and
// the graceful-degradation contract. A classification failure never drops
// telemetry — every item leaves with a category and a destination.
package sorter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"aisorter/pkg/apperror"
	"aisorter/pkg/audit"
	"aisorter/pkg/domain"
	"aisorter/pkg/logger"
	"aisorter/pkg/metrics"
)

// Classifier интерфейс для AI клиента
type Classifier interface {
	Classify(ctx context.Context, items []domain.Item) ([]domain.Classification, error)
}

// Config конфигурация orchestrator
type Config struct {
	ServiceName           string
	MaxBatchSize          int
	MaxConcurrentRequests int

	// AdmissionWait ожидание слота семафора; 0 = немедленный отказ
	AdmissionWait time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		ServiceName:           "ai-sorter",
		MaxBatchSize:          100,
		MaxConcurrentRequests: 10,
	}
}

// Result результат сортировки батча. Degraded означает, что классификации
// получены через fallback: запрос для вызывающей стороны успешен, но
// метрики фиксируют деградацию.
type Result struct {
	Items        []domain.SortedItem
	Degraded     bool
	DegradedKind apperror.ErrorCode
}

// Sorter валидирует батчи, ограничивает параллелизм и превращает ответ
// модели (или его отсутствие) в полный набор классификаций.
type Sorter struct {
	classifier Classifier
	sem        *semaphore.Weighted
	config     *Config
	metrics    *metrics.Metrics
	audit      audit.Logger
}

// New создаёт orchestrator
func New(cfg *Config, classifier Classifier, m *metrics.Metrics, auditLog audit.Logger) *Sorter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 10
	}
	if auditLog == nil {
		auditLog = &audit.NoopLogger{}
	}

	return &Sorter{
		classifier: classifier,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		config:     cfg,
		metrics:    m,
		audit:      auditLog,
	}
}

// Sort классифицирует батч. Порядок и количество элементов ответа совпадают
// со входом. Ошибка возвращается, если sidecar сам не может принять работу
// (валидация, перегрузка), и для неожиданной невосстановимой ошибки
// классификатора (INTERNAL_ERROR); отказ upstream деградирует в fallback.
func (s *Sorter) Sort(ctx context.Context, batch domain.Batch, requestID string) (*Result, error) {
	start := time.Now()

	if err := s.validate(batch); err != nil {
		s.auditSort(ctx, requestID, len(batch.Items), start, audit.OutcomeDenied, err)
		return nil, err
	}

	if err := s.admit(ctx); err != nil {
		s.auditSort(ctx, requestID, len(batch.Items), start, audit.OutcomeDenied, err)
		return nil, err
	}
	defer s.sem.Release(1)

	// Gauge считает допущенные запросы и не превышает ёмкость семафора
	s.metrics.ActiveRequests.Inc()
	defer s.metrics.ActiveRequests.Dec()

	classifications, err := s.classifier.Classify(ctx, batch.Items)

	result := &Result{Items: make([]domain.SortedItem, len(batch.Items))}

	switch {
	case err == nil:
		for i, item := range batch.Items {
			c := domain.Normalize(classifications[i])
			result.Items[i] = domain.SortedItem{Item: item, Category: c.Category, ForwardTo: c.ForwardTo}
		}

	case apperror.Recoverable(err):
		// Graceful degradation: весь батч уходит в archive, вызывающая
		// сторона получает 200 и не теряет телеметрию
		result.Degraded = true
		result.DegradedKind = apperror.Code(err)

		fb := domain.Fallback()
		for i, item := range batch.Items {
			result.Items[i] = domain.SortedItem{Item: item, Category: fb.Category, ForwardTo: fb.ForwardTo}
		}

		if apperror.ShortCircuited(err) {
			s.metrics.RecordShortCircuit()
		}

		logger.Log.Warn("Classification degraded to fallback",
			"request_id", requestID,
			"kind", string(result.DegradedKind),
			"items", len(batch.Items),
			"error", err.Error(),
		)

	default:
		s.auditSort(ctx, requestID, len(batch.Items), start, audit.OutcomeFailure, err)
		return nil, apperror.Wrap(err, apperror.CodeInternal, "classification failed")
	}

	counts := make(map[string]int, 3)
	for _, item := range result.Items {
		counts[string(item.Category)]++
	}
	s.metrics.RecordItems(counts)

	outcome := audit.OutcomeSuccess
	if result.Degraded {
		outcome = audit.OutcomeDegraded
	}
	s.auditSort(ctx, requestID, len(batch.Items), start, outcome, err)

	return result, nil
}

// validate проверяет батч до захвата слота
func (s *Sorter) validate(batch domain.Batch) error {
	if len(batch.Items) == 0 {
		return apperror.ErrEmptyBatch
	}

	if len(batch.Items) > s.config.MaxBatchSize {
		return apperror.New(apperror.CodeInvalidRequest,
			fmt.Sprintf("batch size %d exceeds limit %d", len(batch.Items), s.config.MaxBatchSize)).
			WithDetails("max_batch_size", s.config.MaxBatchSize)
	}

	for i, item := range batch.Items {
		if !domain.ValidItemType(item.Type) {
			return apperror.New(apperror.CodeInvalidRequest,
				fmt.Sprintf("item %d has unknown type %q", i, item.Type)).
				WithDetails("item_index", i)
		}
		if item.Content == nil {
			return apperror.New(apperror.CodeInvalidRequest,
				fmt.Sprintf("item %d has no content", i)).
				WithDetails("item_index", i)
		}
	}

	return nil
}

// admit захватывает слот глобального семафора. Это основной механизм
// backpressure: при нулевом ожидании лишние запросы отклоняются сразу.
func (s *Sorter) admit(ctx context.Context) error {
	if s.config.AdmissionWait <= 0 {
		if !s.sem.TryAcquire(1) {
			return apperror.ErrOverloaded
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.config.AdmissionWait)
	defer cancel()

	if err := s.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return apperror.Wrap(ctx.Err(), apperror.CodeOverloaded, "request cancelled while waiting for a slot")
		}
		return apperror.ErrOverloaded
	}
	return nil
}

func (s *Sorter) auditSort(ctx context.Context, requestID string, batchSize int, start time.Time, outcome audit.Outcome, err error) {
	b := audit.NewEntry().
		Service(s.config.ServiceName).
		Method("/sort").
		Action(audit.ActionClassify).
		Outcome(outcome).
		RequestID(requestID).
		BatchSize(batchSize).
		Duration(time.Since(start))

	if err != nil {
		b.Error(string(apperror.Code(err)), err.Error())
	}

	if aerr := s.audit.Log(ctx, b.Build()); aerr != nil {
		logger.Log.Warn("Failed to log audit entry", "error", aerr)
	}
}
