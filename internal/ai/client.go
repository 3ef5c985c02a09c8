// Package ai implements the upstream classification client: prompt
// construction, the HTTP exchange with an OpenAI-compatible endpoint, retry
// with jittered exponential backoff, and the rate-limiter / circuit-breaker
// gates in front of every call.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"aisorter/pkg/apperror"
	"aisorter/pkg/breaker"
	"aisorter/pkg/domain"
	"aisorter/pkg/logger"
	"aisorter/pkg/metrics"
	"aisorter/pkg/ratelimit"
	"aisorter/pkg/telemetry"
)

// Config конфигурация клиента
type Config struct {
	Endpoint          string
	APIKey            string
	Model             string
	MaxRetries        int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	PerAttemptTimeout time.Duration
	ConnectTimeout    time.Duration
	RateLimitWait     time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Model:             "grok-beta",
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
		PerAttemptTimeout: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		RateLimitWait:     5 * time.Second,
	}
}

// Client клиент upstream классификатора. Безопасен для конкурентного
// использования: всё изменяемое состояние живёт в limiter и breaker.
type Client struct {
	config     *Config
	httpClient *http.Client
	limiter    ratelimit.Limiter
	breaker    *breaker.Breaker
	metrics    *metrics.Metrics
}

// New создаёт клиента
func New(cfg *Config, limiter ratelimit.Limiter, brk *breaker.Breaker, m *metrics.Metrics) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2.0
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Transport: transport,
			// Таймаут попытки задаётся контекстом, не клиентом
		},
		limiter: limiter,
		breaker: brk,
		metrics: m,
	}
}

// Close освобождает idle соединения при остановке сервиса
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// attemptResult исход одной HTTP попытки
type attemptResult struct {
	classifications []domain.Classification
	err             *apperror.Error
	retryable       bool
	breakerCounts   bool          // только network/timeout/5xx/429
	completed       bool          // обмен с upstream завершился HTTP статусом
	retryAfter      time.Duration // подсказка из заголовка Retry-After
}

// Classify классифицирует items одним логическим вызовом модели.
// len(result) == len(items) при nil ошибке. Breaker опрашивается один раз
// до попыток и получает ровно один терминальный исход — серия retry
// считается одним логическим вызовом.
func (c *Client) Classify(ctx context.Context, items []domain.Item) ([]domain.Classification, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	reqBody, err := buildRequest(c.config.Model, items)
	if err != nil {
		c.breaker.Release() // probe не состоялся, это локальная ошибка
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to build classification request")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		c.breaker.Release()
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to marshal classification request")
	}

	var last *attemptResult

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		// Токен на каждую попытку: между любыми двумя запросами к upstream
		// расходуется минимум один токен. Отмена не возвращает токен.
		allowed, lerr := c.limiter.Acquire(ctx, c.config.RateLimitWait)
		if lerr != nil && !errors.Is(lerr, context.Canceled) && !errors.Is(lerr, context.DeadlineExceeded) {
			c.breaker.Release()
			return nil, apperror.Wrap(lerr, apperror.CodeRateLimited, "rate limiter unavailable")
		}
		if !allowed {
			c.breaker.Release()
			return nil, apperror.ErrRateLimited
		}

		start := time.Now()
		res := c.doAttempt(ctx, payload, len(items), attempt)
		duration := time.Since(start)

		if res.err == nil {
			c.breaker.RecordSuccess()
			c.metrics.RecordAPICall(metrics.APIStatusOK, duration)
			return res.classifications, nil
		}

		last = res

		// Попытка получает ровно одну метку: retried если за ней последует
		// ещё одна, иначе error
		if res.retryable && attempt < c.config.MaxRetries {
			logger.Log.Warn("Upstream call failed, retrying",
				"attempt", attempt,
				"max_retries", c.config.MaxRetries,
				"error", res.err.Error(),
			)

			if c.sleepBackoff(ctx, attempt, res.retryAfter) {
				c.metrics.RecordAPICall(metrics.APIStatusRetried, duration)
				continue
			}

			// Дедлайн истёк в backoff: попытка становится терминальной
			last = &attemptResult{
				err:           apperror.Wrap(ctx.Err(), apperror.CodeUpstreamTimeout, "request deadline reached during backoff"),
				breakerCounts: errors.Is(ctx.Err(), context.DeadlineExceeded),
			}
		}

		c.metrics.RecordAPICall(metrics.APIStatusError, duration)
		break
	}

	switch {
	case last.breakerCounts:
		c.breaker.RecordFailure()
	case last.completed:
		// Завершённый обмен с upstream (4xx, мусорный ответ) сбрасывает
		// счётчик последовательных ошибок
		c.breaker.RecordSuccess()
	default:
		// До upstream не дошли (отмена клиента) — состояние не меняем
		c.breaker.Release()
	}

	return nil, last.err
}

// doAttempt выполняет одну HTTP попытку с собственным дедлайном и span
func (c *Client) doAttempt(ctx context.Context, payload []byte, want, attempt int) *attemptResult {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if c.config.PerAttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.config.PerAttemptTimeout)
		defer cancel()
	}

	attemptCtx, span := telemetry.StartSpan(attemptCtx, "classifier.upstream_attempt")
	defer span.End()
	telemetry.SetAttributes(attemptCtx,
		attribute.String(telemetry.AttrClassifierModel, c.config.Model),
		attribute.Int(telemetry.AttrUpstreamAttempt, attempt),
	)

	res := c.exchange(attemptCtx, payload, want)
	if res.err != nil {
		telemetry.SetError(attemptCtx, res.err)
	}
	return res
}

// exchange выполняет сам HTTP обмен и разбор ответа
func (c *Client) exchange(attemptCtx context.Context, payload []byte, want int) *attemptResult {
	resp, err := c.post(attemptCtx, payload)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &attemptResult{
				err:           apperror.Wrap(err, apperror.CodeUpstreamTimeout, "upstream call timed out"),
				retryable:     true,
				breakerCounts: true,
			}
		}
		if errors.Is(err, context.Canceled) {
			return &attemptResult{
				err: apperror.Wrap(err, apperror.CodeUpstreamTimeout, "upstream call cancelled"),
			}
		}
		return &attemptResult{
			err:           apperror.Wrap(err, apperror.CodeNetworkError, "upstream call failed"),
			retryable:     true,
			breakerCounts: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Тело дочитываем для переиспользования соединения
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		appErr := apperror.New(apperror.CodeUpstreamStatus,
			fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode)).
			WithDetails("status_code", resp.StatusCode)

		return &attemptResult{
			err:           appErr,
			retryable:     retryableStatus(resp.StatusCode),
			breakerCounts: breakerStatus(resp.StatusCode),
			completed:     true,
			retryAfter:    parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &attemptResult{
			err:           apperror.Wrap(err, apperror.CodeNetworkError, "failed to read upstream response"),
			retryable:     true,
			breakerCounts: true,
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &attemptResult{
			err:       apperror.Wrap(err, apperror.CodeInvalidResponse, "upstream response is not valid JSON"),
			completed: true,
		}
	}
	if parsed.Error != nil {
		return &attemptResult{
			err: apperror.New(apperror.CodeInvalidResponse, "upstream reported an error").
				WithDetails("upstream_error", parsed.Error.Message),
			completed: true,
		}
	}
	if len(parsed.Choices) == 0 {
		return &attemptResult{
			err:       apperror.New(apperror.CodeInvalidResponse, "upstream response has no choices"),
			completed: true,
		}
	}

	classifications, err := parseClassifications(parsed.Choices[0].Message.Content, want)
	if err != nil {
		return &attemptResult{
			err:       apperror.Wrap(err, apperror.CodeInvalidResponse, "model output is not a classification array"),
			completed: true,
		}
	}

	return &attemptResult{classifications: classifications, completed: true}
}

// post выполняет сам HTTP запрос
func (c *Client) post(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error оборачивает контекстные ошибки; разворачиваем для errors.Is
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

// sleepBackoff ждёт перед следующей попыткой. Full jitter поверх
// экспоненциальной задержки; Retry-After имеет приоритет. false при отмене.
func (c *Client) sleepBackoff(ctx context.Context, attempt int, retryAfter time.Duration) bool {
	delay := c.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
		if delay > c.config.MaxBackoff {
			delay = c.config.MaxBackoff
			break
		}
	}
	if delay > c.config.MaxBackoff {
		delay = c.config.MaxBackoff
	}

	// Full jitter: равномерно в (0, delay]
	if delay > 0 {
		delay = time.Duration(rand.Int63n(int64(delay))) + 1
	}

	if retryAfter > 0 {
		delay = retryAfter
		if delay > c.config.MaxBackoff {
			delay = c.config.MaxBackoff
		}
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// retryableStatus статусы, после которых попытка повторяется
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, // 408
		http.StatusTooEarly,            // 425
		http.StatusTooManyRequests,     // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	}
	return false
}

// breakerStatus статусы, которые считаются отказом upstream.
// Клиентские 4xx (кроме 429) breaker не трогают.
func breakerStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// parseRetryAfter разбирает Retry-After: секунды или HTTP дата
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
