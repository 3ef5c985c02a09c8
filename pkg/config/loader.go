// pkg/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const configEnvVar = "CONFIG_PATH"

// envKeys отображает переменные окружения sidecar в ключи конфигурации.
// Всё остальное окружение игнорируется.
var envKeys = map[string]string{
	"AI_API_ENDPOINT":           "ai.endpoint",
	"AI_API_KEY":                "ai.api_key",
	"AI_MODEL":                  "ai.model",
	"CONNECT_TIMEOUT_MS":        "ai.connect_timeout_ms",
	"PER_ATTEMPT_TIMEOUT_MS":    "ai.per_attempt_timeout_ms",
	"LISTEN_ADDR":               "server.listen_addr",
	"SIDE_API_KEY":              "server.api_key",
	"REQUEST_DEADLINE_MS":       "server.request_deadline_ms",
	"SHUTDOWN_GRACE_MS":         "server.shutdown_grace_ms",
	"MAX_BATCH_SIZE":            "limits.max_batch_size",
	"MAX_CONCURRENT_REQUESTS":   "limits.max_concurrent_requests",
	"ADMISSION_WAIT_MS":         "limits.admission_wait_ms",
	"RATE_LIMIT_CAPACITY":       "rate_limit.capacity",
	"RATE_LIMIT_WINDOW_SECONDS": "rate_limit.window_seconds",
	"RATE_LIMIT_WAIT_MS":        "rate_limit.wait_ms",
	"RATE_LIMIT_BACKEND":        "rate_limit.backend",
	"RATE_LIMIT_REDIS_ADDR":     "rate_limit.redis_addr",
	"MAX_RETRIES":               "retry.max_retries",
	"INITIAL_BACKOFF_MS":        "retry.initial_backoff_ms",
	"BACKOFF_MULTIPLIER":        "retry.backoff_multiplier",
	"MAX_BACKOFF_MS":            "retry.max_backoff_ms",
	"CIRCUIT_FAILURE_THRESHOLD": "circuit.failure_threshold",
	"CIRCUIT_RESET_MS":          "circuit.reset_ms",
	"LOG_LEVEL":                 "log.level",
	"LOG_FORMAT":                "log.format",
	"LOG_OUTPUT":                "log.output",
	"LOG_FILE_PATH":             "log.file_path",
	"METRICS_ENABLED":           "metrics.enabled",
	"TRACING_ENABLED":           "tracing.enabled",
	"TRACING_ENDPOINT":          "tracing.endpoint",
	"TRACING_SAMPLE_RATE":       "tracing.sample_rate",
	"AUDIT_ENABLED":             "audit.enabled",
	"AUDIT_BACKEND":             "audit.backend",
	"AUDIT_FILE_PATH":           "audit.file_path",
}

// Loader загружает конфигурацию из разных источников
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
}

// NewLoader создаёт новый загрузчик конфигурации
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/ai-sorter/config.yaml",
		},
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption - опция для конфигурации загрузчика
type LoaderOption func(*Loader)

// WithConfigPaths устанавливает пути поиска конфигурации
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// Load загружает конфигурацию с приоритетом:
// 1. Defaults (самый низкий)
// 2. Config file (yaml)
// 3. Environment variables (самый высокий)
func (l *Loader) Load() (*Config, error) {
	// 1. Загружаем значения по умолчанию
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Загружаем из файла конфигурации. Файл не обязателен.
	_ = l.loadConfigFile()

	// 3. Загружаем из переменных окружения (перезаписывают файл)
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	// 4. Распаковываем в структуру
	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 5. Валидируем
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults загружает значения по умолчанию
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "ai-sorter",
		"app.version":     "1.0.0",
		"app.environment": "development",

		// AI upstream
		"ai.endpoint":               "",
		"ai.api_key":                "",
		"ai.model":                  "grok-beta",
		"ai.connect_timeout_ms":     10000,
		"ai.per_attempt_timeout_ms": 30000,

		// Server
		"server.listen_addr":         "0.0.0.0:8000",
		"server.api_key":             "",
		"server.read_timeout_ms":     30000,
		"server.write_timeout_ms":    60000,
		"server.request_deadline_ms": 45000,
		"server.shutdown_grace_ms":   30000,

		// Admission
		"limits.max_batch_size":          100,
		"limits.max_concurrent_requests": 10,
		"limits.admission_wait_ms":       0,

		// Rate limit
		"rate_limit.capacity":       60,
		"rate_limit.window_seconds": 60,
		"rate_limit.wait_ms":        5000,
		"rate_limit.backend":        "memory",
		"rate_limit.redis_addr":     "localhost:6379",
		"rate_limit.redis_db":       0,

		// Retry
		"retry.max_retries":        3,
		"retry.initial_backoff_ms": 1000,
		"retry.backoff_multiplier": 2.0,
		"retry.max_backoff_ms":     30000,

		// Circuit breaker
		"circuit.failure_threshold": 5,
		"circuit.reset_ms":          60000,

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled": true,
		"metrics.path":    "/metrics",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "ai-sorter",
		"tracing.sample_rate":  0.1,

		// Audit
		"audit.enabled":      false,
		"audit.backend":      "stdout",
		"audit.buffer_size":  1000,
		"audit.flush_period": 5 * time.Second,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile загружает конфигурацию из файла
func (l *Loader) loadConfigFile() error {
	// Сначала проверяем переменную окружения
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	// Ищем файл по списку путей
	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv загружает конфигурацию из переменных окружения.
// Распознаются только имена из envKeys; пустая строка из callback
// заставляет koanf пропустить переменную.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil)
}

// MustLoad загружает конфигурацию или паникует
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load - удобная функция для загрузки с дефолтными настройками
func Load() (*Config, error) {
	return NewLoader().Load()
}
