package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Стандартные ошибки
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrLimiterClosed     = errors.New("limiter is closed")
)

// Limiter интерфейс ограничителя запросов к upstream API.
// Токен расходуется при выдаче и не возвращается при отмене запроса.
type Limiter interface {
	// TryAcquire пытается получить токен без ожидания
	TryAcquire(ctx context.Context) (bool, error)

	// Acquire ждёт токен не дольше timeout; false по истечении
	Acquire(ctx context.Context, timeout time.Duration) (bool, error)

	// Info возвращает информацию о текущем состоянии
	Info(ctx context.Context) (*Info, error)

	// Close закрывает лимитер
	Close() error
}

// Info информация о состоянии лимита
type Info struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Config конфигурация rate limiter
type Config struct {
	// Capacity ёмкость bucket (токенов на окно)
	Capacity int `koanf:"capacity"`

	// Window временное окно пополнения
	Window time.Duration `koanf:"window"`

	// Backend хранилище (memory, redis)
	Backend string `koanf:"backend"`

	// Redis настройки Redis
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Capacity: 60,
		Window:   time.Minute,
		Backend:  "memory",
	}
}

// New создаёт лимитер на основе конфигурации
func New(cfg *Config) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "redis":
		return NewRedisLimiter(cfg)
	case "memory", "":
		return NewMemoryLimiter(cfg), nil
	default:
		return NewMemoryLimiter(cfg), nil
	}
}
