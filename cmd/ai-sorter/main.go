package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"aisorter/internal/ai"
	"aisorter/internal/server"
	"aisorter/internal/sorter"
	"aisorter/pkg/audit"
	"aisorter/pkg/breaker"
	"aisorter/pkg/config"
	"aisorter/pkg/logger"
	"aisorter/pkg/metrics"
	"aisorter/pkg/ratelimit"
	"aisorter/pkg/telemetry"
)

// Коды выхода процесса
const (
	exitOK            = 0
	exitGraceExceeded = 1
	exitBadConfig     = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		logger.Init("error")
		logger.Log.Error("Failed to load config", "error", err)
		return exitBadConfig
	}

	// Инициализируем логгер
	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	logger.Log.Info("Starting AI sorter sidecar",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"model", cfg.AI.Model,
	)

	ctx := context.Background()

	// Метрики
	m := metrics.New()
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)

	// Телеметрия (опционально)
	var tp *telemetry.Provider
	if cfg.Tracing.Enabled {
		tp, err = telemetry.Init(ctx, telemetry.Config{
			Enabled:     true,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("Failed to init telemetry, continuing without it", "error", err)
			tp = nil
		}
	}

	// Аудит лог
	auditLog, err := audit.New(&audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Backend:     cfg.Audit.Backend,
		FilePath:    cfg.Audit.FilePath,
		BufferSize:  cfg.Audit.BufferSize,
		FlushPeriod: cfg.Audit.FlushPeriod,
	})
	if err != nil {
		logger.Log.Warn("Failed to create audit logger, continuing without it", "error", err)
		auditLog = &audit.NoopLogger{}
	}

	// Rate limiter
	limiter, err := ratelimit.New(&ratelimit.Config{
		Capacity:      cfg.RateLimit.Capacity,
		Window:        cfg.RateLimit.Window(),
		Backend:       cfg.RateLimit.Backend,
		RedisAddr:     cfg.RateLimit.RedisAddr,
		RedisPassword: cfg.RateLimit.RedisPassword,
		RedisDB:       cfg.RateLimit.RedisDB,
	})
	if err != nil {
		logger.Log.Error("Failed to create rate limiter", "error", err)
		return exitBadConfig
	}

	// Circuit breaker с привязкой к метрикам
	brk := breaker.New(&breaker.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		ResetTimeout:     cfg.Circuit.ResetTimeout(),
		OnStateChange: func(from, to breaker.State) {
			m.CircuitBreakerState.Set(float64(to))
			if to == breaker.StateOpen && from == breaker.StateClosed {
				m.CircuitBreakerOpensTotal.Inc()
			}
			logger.Log.Warn("Circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	// AI клиент
	aiClient := ai.New(&ai.Config{
		Endpoint:          cfg.AI.Endpoint,
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		MaxRetries:        cfg.Retry.MaxRetries,
		InitialBackoff:    cfg.Retry.InitialBackoff(),
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		MaxBackoff:        cfg.Retry.MaxBackoff(),
		PerAttemptTimeout: cfg.AI.PerAttemptTimeout(),
		ConnectTimeout:    cfg.AI.ConnectTimeout(),
		RateLimitWait:     cfg.RateLimit.Wait(),
	}, limiter, brk, m)

	// Orchestrator
	srt := sorter.New(&sorter.Config{
		ServiceName:           cfg.App.Name,
		MaxBatchSize:          cfg.Limits.MaxBatchSize,
		MaxConcurrentRequests: cfg.Limits.MaxConcurrentRequests,
		AdmissionWait:         cfg.Limits.AdmissionWait(),
	}, aiClient, m, auditLog)

	// HTTP сервер
	srv := server.New(cfg, srt, m)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	auditStartup(ctx, auditLog, cfg)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Log.Error("Server failed", "error", err)
		return exitBadConfig
	case sig := <-quit:
		logger.Log.Info("Received shutdown signal", "signal", sig.String())
	}

	// 1. Снимаем readiness: балансировщик уводит трафик.
	// 2. Перестаём принимать соединения и ждём активные запросы.
	srv.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
	defer cancel()

	exitCode := exitOK
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Shutdown grace period elapsed with requests in flight", "error", err)
		exitCode = exitGraceExceeded
	}

	// 3. Сворачиваем компоненты в обратном порядке создания
	aiClient.Close()

	if err := limiter.Close(); err != nil {
		logger.Log.Warn("Failed to close rate limiter", "error", err)
	}

	auditShutdown(context.Background(), auditLog, cfg, exitCode)
	if err := auditLog.Close(); err != nil {
		logger.Log.Warn("Failed to close audit logger", "error", err)
	}

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warn("Failed to shutdown telemetry", "error", err)
		}
	}

	logger.Log.Info("Server stopped", "exit_code", exitCode)
	return exitCode
}

func auditStartup(ctx context.Context, auditLog audit.Logger, cfg *config.Config) {
	entry := audit.NewEntry().
		Service(cfg.App.Name).
		Method("server.Start").
		Action(audit.ActionStartup).
		Outcome(audit.OutcomeSuccess).
		Meta("listen_addr", cfg.Server.ListenAddr).
		Meta("version", cfg.App.Version).
		Meta("environment", cfg.App.Environment).
		Build()
	if err := auditLog.Log(ctx, entry); err != nil {
		logger.Log.Warn("Failed to log audit entry", "error", err)
	}
}

func auditShutdown(ctx context.Context, auditLog audit.Logger, cfg *config.Config, exitCode int) {
	outcome := audit.OutcomeSuccess
	if exitCode != exitOK {
		outcome = audit.OutcomeFailure
	}
	entry := audit.NewEntry().
		Service(cfg.App.Name).
		Method("server.Shutdown").
		Action(audit.ActionShutdown).
		Outcome(outcome).
		Meta("exit_code", fmt.Sprintf("%d", exitCode)).
		Build()
	if err := auditLog.Log(ctx, entry); err != nil {
		logger.Log.Warn("Failed to log audit entry", "error", err)
	}
}
