// pkg/ratelimit/memory.go

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter процесс-локальный token bucket.
// tokens ∈ [0, capacity]; пополнение рассчитывается лениво на каждом обращении.
type MemoryLimiter struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	config     *Config
	closed     bool

	now func() time.Time // подменяется в тестах
}

func NewMemoryLimiter(cfg *Config) *MemoryLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// Нормализуем конфигурацию ДО использования
	if cfg.Capacity <= 0 {
		cfg.Capacity = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	l := &MemoryLimiter{
		tokens: float64(cfg.Capacity),
		config: cfg,
		now:    time.Now,
	}
	l.lastRefill = l.now()

	return l
}

func (l *MemoryLimiter) TryAcquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, ErrLimiterClosed
	}

	l.refillLocked()

	if l.tokens >= 1 {
		l.tokens--
		return true, nil
	}
	return false, nil
}

// Acquire ждёт токен опросом с коротким интервалом. Просыпается по отмене
// контекста; токен при этом не возвращается — он и не был выдан.
func (l *MemoryLimiter) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := l.now().Add(timeout)

	for {
		allowed, err := l.TryAcquire(ctx)
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return false, nil
		}

		poll := 50 * time.Millisecond
		if remaining < poll {
			poll = remaining
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (l *MemoryLimiter) Info(ctx context.Context) (*Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLimiterClosed
	}

	l.refillLocked()

	return &Info{
		Limit:     l.config.Capacity,
		Remaining: int(l.tokens),
		ResetAt:   l.now().Add(l.config.Window),
	}, nil
}

func (l *MemoryLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	return nil
}

// refillLocked добавляет capacity/window токенов за прошедшее время,
// не превышая ёмкость. Вызывается только под мьютексом.
func (l *MemoryLimiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	l.lastRefill = now

	if elapsed <= 0 {
		return
	}

	rate := float64(l.config.Capacity) / l.config.Window.Seconds()
	l.tokens += elapsed.Seconds() * rate

	if limit := float64(l.config.Capacity); l.tokens > limit {
		l.tokens = limit
	}
}
