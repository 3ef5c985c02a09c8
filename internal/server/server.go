// Package server wires the sidecar's HTTP surface: the /sort endpoint with
// its middleware chain, the health and readiness probes, and the Prometheus
// scrape endpoint. The listener speaks h2c so in-pod collectors can
// multiplex over cleartext HTTP/2.
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"aisorter/internal/middleware"
	"aisorter/internal/sorter"
	"aisorter/pkg/config"
	"aisorter/pkg/logger"
	"aisorter/pkg/metrics"
	"aisorter/pkg/telemetry"
)

// Server HTTP сервер sidecar
type Server struct {
	config     *config.Config
	metrics    *metrics.Metrics
	sorter     *sorter.Sorter
	httpServer *http.Server
	listener   net.Listener
	ready      atomic.Bool
}

// New создаёт сервер и регистрирует маршруты
func New(cfg *config.Config, srt *sorter.Sorter, m *metrics.Metrics) *Server {
	s := &Server{
		config:  cfg,
		metrics: m,
		sorter:  srt,
	}

	mux := http.NewServeMux()

	// /sort несёт полную цепочку: request-id, лог, метрики, auth
	sortChain := []middleware.Middleware{
		middleware.Recover(),
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Metrics(m),
		middleware.Auth(cfg.Server.APIKey, m),
	}
	if cfg.Tracing.Enabled {
		sortChain = append(sortChain, telemetry.Middleware("/sort"))
	}
	mux.Handle("POST /sort", middleware.Chain(http.HandlerFunc(s.handleSort), sortChain...))

	// Пробы и метрики всегда без аутентификации
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, m.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      h2c.NewHandler(mux, &http2.Server{}),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	return s
}

// Start открывает listener и начинает обслуживание. Readiness включается
// только после того, как listener принимает соединения, и только при
// настроенном upstream ключе.
func (s *Server) Start() error {
	lc := net.ListenConfig{}
	lis, err := lc.Listen(context.Background(), "tcp", s.config.Server.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = lis

	if s.config.Ready() {
		s.ready.Store(true)
	} else {
		logger.Log.Warn("AI_API_KEY is not set: /readyz stays not ready, /sort will answer 401")
	}

	logger.Log.Info("Server listening",
		"addr", s.config.Server.ListenAddr,
		"protocol", "HTTP/1.1 + H2C",
	)

	return s.httpServer.Serve(lis)
}

// SetReady переключает readiness. Lifecycle manager выключает его первым
// шагом shutdown, чтобы балансировщик увёл трафик до обрыва соединений.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Ready возвращает текущее состояние readiness
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Addr возвращает фактический адрес listener (для тестов с портом :0)
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Server.ListenAddr
}

// Shutdown останавливает приём соединений и ждёт завершения активных
// запросов в пределах переданного контекста
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.httpServer.Shutdown(ctx)
}
