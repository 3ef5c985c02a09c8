package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcome labels for RequestsTotal.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Upstream call outcome labels for APICallsTotal.
const (
	APIStatusOK             = "ok"
	APIStatusError          = "error"
	APIStatusRetried        = "retried"
	APIStatusShortCircuited = "short_circuited"
)

const namespace = "ai_sorter"

// Metrics контейнер метрик сервиса
type Metrics struct {
	registry *prometheus.Registry

	// Запросы /sort
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ActiveRequests  prometheus.Gauge

	// Классификация
	ItemsClassifiedTotal *prometheus.CounterVec

	// Upstream вызовы
	APICallsTotal   *prometheus.CounterVec
	APICallDuration prometheus.Histogram

	// Circuit breaker
	CircuitBreakerOpensTotal prometheus.Counter
	CircuitBreakerState      prometheus.Gauge

	// Информация о сервисе
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// New создаёт контейнер метрик на собственном registry.
// Тесты создают изолированные экземпляры.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Terminal outcome of /sort requests",
			},
			[]string{"status"},
		),

		RequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end /sort latency",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		ActiveRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "In-flight /sort handlers",
			},
		),

		ItemsClassifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_classified_total",
				Help:      "Items returned with each category",
			},
			[]string{"category"},
		),

		APICallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_calls_total",
				Help:      "Outcomes of upstream classification calls",
			},
			[]string{"status"},
		),

		APICallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Upstream call latency, successful and failed",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		CircuitBreakerOpensTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_opens_total",
				Help:      "Closed to Open transitions of the upstream circuit breaker",
			},
		),

		CircuitBreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state: 0=Closed, 1=HalfOpen, 2=Open",
			},
		),

		ServiceInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get возвращает глобальные метрики
func Get() *Metrics {
	if defaultMetrics == nil {
		return New()
	}
	return defaultMetrics
}

// RecordRequest записывает терминальный исход /sort запроса.
// Гистограмму длительности ведёт только metrics middleware — одно
// наблюдение на запрос независимо от исхода.
func (m *Metrics) RecordRequest(status string) {
	m.RequestsTotal.WithLabelValues(status).Inc()
}

// RecordItems записывает категории возвращённых элементов
func (m *Metrics) RecordItems(counts map[string]int) {
	for category, n := range counts {
		m.ItemsClassifiedTotal.WithLabelValues(category).Add(float64(n))
	}
}

// RecordAPICall записывает исход одной upstream попытки: счётчик и
// длительность вместе, чтобы они не расходились
func (m *Metrics) RecordAPICall(status string, duration time.Duration) {
	m.APICallsTotal.WithLabelValues(status).Inc()
	m.APICallDuration.Observe(duration.Seconds())
}

// RecordShortCircuit отмечает логический вызов, не дошедший до upstream:
// HTTP обмена не было, наблюдать нечего
func (m *Metrics) RecordShortCircuit() {
	m.APICallsTotal.WithLabelValues(APIStatusShortCircuited).Inc()
}

// SetServiceInfo устанавливает информацию о сервисе
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler возвращает HTTP handler для /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
