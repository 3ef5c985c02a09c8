// Package breaker implements a three-state circuit breaker around the
// upstream classification API. Closed passes calls through and counts
// consecutive failures; reaching the threshold opens the circuit. After the
// reset timeout a single probe is admitted (HalfOpen); its outcome either
// closes the circuit or re-opens it.
package breaker

import (
	"sync"
	"time"

	"aisorter/pkg/apperror"
)

// State состояние breaker. Числовые значения экспортируются в gauge метрику.
type State int

const (
	StateClosed   State = 0
	StateHalfOpen State = 1
	StateOpen     State = 2
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config конфигурация breaker
type Config struct {
	// FailureThreshold количество последовательных ошибок до открытия
	FailureThreshold int

	// ResetTimeout время в Open до допуска probe запроса
	ResetTimeout time.Duration

	// OnStateChange вызывается синхронно при каждом переходе (под мьютексом:
	// не вызывать методы breaker из hook)
	OnStateChange func(from, to State)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Breaker трёхсостоянческий circuit breaker. Все переходы сериализованы
// мьютексом: в HalfOpen существует не более одного probe.
type Breaker struct {
	mu sync.Mutex

	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	config *Config
	now    func() time.Time // подменяется в тестах
}

// New создаёт breaker в состоянии Closed
func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}

	return &Breaker{
		state:  StateClosed,
		config: cfg,
		now:    time.Now,
	}
}

// Allow решает, может ли вызов идти к upstream. В Open по истечении
// ResetTimeout следующий вызов переводит breaker в HalfOpen и становится
// его единственным probe; конкуренты получают CircuitOpen.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.ResetTimeout {
			return apperror.ErrCircuitOpen
		}
		b.transitionLocked(StateHalfOpen)
		b.probeInFlight = true
		return nil

	case StateHalfOpen:
		if b.probeInFlight {
			return apperror.ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil

	default:
		return apperror.ErrCircuitOpen
	}
}

// RecordSuccess фиксирует успешный логический вызов
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.transitionLocked(StateClosed)
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure фиксирует неуспешный логический вызов. Считаются только
// сетевые ошибки, таймауты, 5xx и 429 — решение принимает вызывающая сторона.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.transitionLocked(StateOpen)
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	}
}

// Release снимает бронь probe для вызова, который так и не дошёл до
// upstream (локальный отказ rate limiter, отмена до отправки). Состояние
// и счётчики не меняются.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// State возвращает текущее состояние
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures возвращает счётчик последовательных ошибок
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// OpenedAt возвращает момент последнего открытия; нулевое время в Closed
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// transitionLocked выполняет переход состояния. Вызывается под мьютексом.
// Инварианты: consecutiveFailures == 0 в Closed; openedAt установлен
// только в Open и HalfOpen.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}

	b.state = to

	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateClosed:
		b.consecutiveFailures = 0
		b.openedAt = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}
