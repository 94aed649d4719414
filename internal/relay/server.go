// Package relay реализует websocket relay: клиенты подключаются к /ws/{topic},
// а сообщения рассылаются через общий канал (в памяти процесса или Redis).
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iudanet/gophsync/internal/channel"
	"github.com/iudanet/gophsync/internal/relay/handlers"
	"github.com/iudanet/gophsync/internal/relay/middleware"
)

// Config параметры relay-сервера
type Config struct {
	Addr            string
	Version         string
	Backend         string // имя канала для health check
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int // подключений с одного IP за RateWindow, 0 отключает лимит
	RateWindow      time.Duration
}

// Server relay-сервер
type Server struct {
	http    *http.Server
	ws      *handlers.WSHandler
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	cfg     Config
}

// New создает сервер поверх канала backend.
func New(cfg Config, backend channel.Channel, logger *slog.Logger) *Server {
	s := &Server{
		ws:     handlers.NewWSHandler(backend, logger),
		logger: logger,
		cfg:    cfg,
	}

	health := handlers.NewHealthHandler(logger, cfg.Version, cfg.Backend, s.ws.Connections)

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/health", health.Health).Methods(http.MethodGet)

	ws := r.PathPrefix("/ws").Subrouter()
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow, logger)
		ws.Use(s.limiter.Middleware)
	}
	ws.HandleFunc("/{topic}", s.ws.ServeWS).Methods(http.MethodGet)

	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingWithSkip(logger, []string{"/api/v1/health"}))

	s.http = &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout не распространяется на hijacked websocket соединения
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler возвращает HTTP handler сервера.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Connections возвращает число активных websocket соединений.
func (s *Server) Connections() int64 {
	return s.ws.Connections()
}

// Run слушает cfg.Addr до отмены ctx, затем корректно останавливает сервер.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает соединения ln до отмены ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.limiter != nil {
		defer s.limiter.Stop()
	}

	errC := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", ln.Addr().String(), "backend", s.cfg.Backend)
		errC <- s.http.Serve(ln)
	}()

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down relay")
	s.ws.Close()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		_ = s.http.Close()
		return fmt.Errorf("failed to shutdown relay: %w", err)
	}
	return nil
}
