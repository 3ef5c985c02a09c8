// pkg/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config - главная структура конфигурации
type Config struct {
	App       AppConfig       `koanf:"app"`
	AI        AIConfig        `koanf:"ai"`
	Server    ServerConfig    `koanf:"server"`
	Limits    LimitsConfig    `koanf:"limits"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Retry     RetryConfig     `koanf:"retry"`
	Circuit   CircuitConfig   `koanf:"circuit"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Audit     AuditConfig     `koanf:"audit"`
}

// AppConfig - общие настройки приложения
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
}

// AIConfig - настройки upstream классификатора.
// Отсутствие APIKey не валит старт: /readyz отвечает 503, /healthz живёт.
type AIConfig struct {
	Endpoint            string `koanf:"endpoint"`
	APIKey              string `koanf:"api_key"`
	Model               string `koanf:"model"`
	ConnectTimeoutMS    int    `koanf:"connect_timeout_ms"`
	PerAttemptTimeoutMS int    `koanf:"per_attempt_timeout_ms"`
}

// ConnectTimeout возвращает таймаут установки соединения
func (c AIConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// PerAttemptTimeout возвращает таймаут одной попытки
func (c AIConfig) PerAttemptTimeout() time.Duration {
	return time.Duration(c.PerAttemptTimeoutMS) * time.Millisecond
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	ListenAddr        string `koanf:"listen_addr"`
	APIKey            string `koanf:"api_key"` // собственный ключ sidecar (X-API-Key); пусто = открыт внутри pod
	ReadTimeoutMS     int    `koanf:"read_timeout_ms"`
	WriteTimeoutMS    int    `koanf:"write_timeout_ms"`
	RequestDeadlineMS int    `koanf:"request_deadline_ms"`
	ShutdownGraceMS   int    `koanf:"shutdown_grace_ms"`
}

func (s ServerConfig) ReadTimeout() time.Duration { return time.Duration(s.ReadTimeoutMS) * time.Millisecond }

func (s ServerConfig) WriteTimeout() time.Duration { return time.Duration(s.WriteTimeoutMS) * time.Millisecond }

func (s ServerConfig) RequestDeadline() time.Duration {
	return time.Duration(s.RequestDeadlineMS) * time.Millisecond
}

func (s ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceMS) * time.Millisecond
}

// LimitsConfig - допуск запросов
type LimitsConfig struct {
	MaxBatchSize          int `koanf:"max_batch_size"`
	MaxConcurrentRequests int `koanf:"max_concurrent_requests"`
	AdmissionWaitMS       int `koanf:"admission_wait_ms"`
}

// AdmissionWait возвращает ожидание слота; 0 = немедленный отказ
func (l LimitsConfig) AdmissionWait() time.Duration {
	return time.Duration(l.AdmissionWaitMS) * time.Millisecond
}

// RateLimitConfig конфигурация rate limiting
type RateLimitConfig struct {
	Capacity      int    `koanf:"capacity"`
	WindowSeconds int    `koanf:"window_seconds"`
	WaitMS        int    `koanf:"wait_ms"`
	Backend       string `koanf:"backend"` // memory, redis
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

func (r RateLimitConfig) Window() time.Duration { return time.Duration(r.WindowSeconds) * time.Second }

func (r RateLimitConfig) Wait() time.Duration { return time.Duration(r.WaitMS) * time.Millisecond }

// RetryConfig конфигурация retry
type RetryConfig struct {
	MaxRetries        int     `koanf:"max_retries"`
	InitialBackoffMS  int     `koanf:"initial_backoff_ms"`
	BackoffMultiplier float64 `koanf:"backoff_multiplier"`
	MaxBackoffMS      int     `koanf:"max_backoff_ms"`
}

func (r RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMS) * time.Millisecond
}

func (r RetryConfig) MaxBackoff() time.Duration { return time.Duration(r.MaxBackoffMS) * time.Millisecond }

// CircuitConfig конфигурация circuit breaker
type CircuitConfig struct {
	FailureThreshold int `koanf:"failure_threshold"`
	ResetMS          int `koanf:"reset_ms"`
}

func (c CircuitConfig) ResetTimeout() time.Duration { return time.Duration(c.ResetMS) * time.Millisecond }

// LogConfig - настройки логирования
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`   // путь к файлу логов
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // количество бэкапов
	MaxAge     int    `koanf:"max_age"`     // дней
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig - настройки Prometheus метрик
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// TracingConfig - настройки OpenTelemetry
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// AuditConfig конфигурация аудит лога
type AuditConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Backend     string        `koanf:"backend"` // stdout, file
	FilePath    string        `koanf:"file_path"`
	BufferSize  int           `koanf:"buffer_size"`
	FlushPeriod time.Duration `koanf:"flush_period"`
}

// Validate проверяет конфигурацию. Любая ошибка здесь означает отказ
// старта процесса с кодом 2.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.AI.Endpoint == "" {
		errs = append(errs, "ai.endpoint is required (AI_API_ENDPOINT)")
	} else if u, err := url.Parse(c.AI.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("ai.endpoint must be an absolute URL, got %q", c.AI.Endpoint))
	}

	if c.Server.ListenAddr == "" {
		errs = append(errs, "server.listen_addr is required")
	}

	if c.Limits.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("limits.max_batch_size must be positive, got %d", c.Limits.MaxBatchSize))
	}
	if c.Limits.MaxConcurrentRequests <= 0 {
		errs = append(errs, fmt.Sprintf("limits.max_concurrent_requests must be positive, got %d", c.Limits.MaxConcurrentRequests))
	}
	if c.Limits.AdmissionWaitMS < 0 {
		errs = append(errs, "limits.admission_wait_ms must be non-negative")
	}

	if c.RateLimit.Capacity <= 0 {
		errs = append(errs, fmt.Sprintf("rate_limit.capacity must be positive, got %d", c.RateLimit.Capacity))
	}
	if c.RateLimit.WindowSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("rate_limit.window_seconds must be positive, got %d", c.RateLimit.WindowSeconds))
	}
	if c.RateLimit.WaitMS < 0 {
		errs = append(errs, "rate_limit.wait_ms must be non-negative")
	}
	if c.RateLimit.Backend != "" && c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		errs = append(errs, fmt.Sprintf("rate_limit.backend must be one of: memory, redis, got %s", c.RateLimit.Backend))
	}

	if c.Retry.MaxRetries <= 0 {
		errs = append(errs, fmt.Sprintf("retry.max_retries must be positive, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Sprintf("retry.backoff_multiplier must be >= 1, got %g", c.Retry.BackoffMultiplier))
	}
	if c.Retry.InitialBackoffMS < 0 || c.Retry.MaxBackoffMS < 0 {
		errs = append(errs, "retry backoff values must be non-negative")
	}

	if c.Circuit.FailureThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("circuit.failure_threshold must be positive, got %d", c.Circuit.FailureThreshold))
	}
	if c.Circuit.ResetMS <= 0 {
		errs = append(errs, fmt.Sprintf("circuit.reset_ms must be positive, got %d", c.Circuit.ResetMS))
	}

	if c.Server.RequestDeadlineMS <= 0 {
		errs = append(errs, "server.request_deadline_ms must be positive")
	}
	if c.Server.ShutdownGraceMS <= 0 {
		errs = append(errs, "server.shutdown_grace_ms must be positive")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Ready проверяет, готов ли сервис принимать /sort. Отдельно от Validate:
// отсутствие upstream ключа блокирует readiness, но не старт процесса.
func (c *Config) Ready() bool {
	return c.AI.APIKey != ""
}

// IsDevelopment проверяет режим разработки
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction проверяет продакшн режим
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
