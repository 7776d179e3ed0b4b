package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parsegate/parsegate/internal/auditlog"
	"github.com/parsegate/parsegate/internal/cache"
	"github.com/parsegate/parsegate/internal/config"
	"github.com/parsegate/parsegate/internal/handlers"
	"github.com/parsegate/parsegate/internal/middleware"
	"github.com/parsegate/parsegate/internal/ratelimit"
	"github.com/parsegate/parsegate/internal/router"
	"github.com/parsegate/parsegate/internal/upstream"
)

type Server struct {
	config *config.Manager
	store  cache.Store
	router *router.Router
	logs   *auditlog.Logs
	logger *slog.Logger
	server *http.Server
}

// New wires the gateway: the shared cache (redis when configured, in-process
// otherwise), the provider router, and the audit logs.
func New(configManager *config.Manager, logDir string, logger *slog.Logger) *Server {
	cfg := configManager.Get()

	var store cache.Store
	if cfg.RedisAddr != "" {
		logger.Info("Using redis cache backend", "addr", cfg.RedisAddr)
		store = cache.NewRedisStore(cfg.RedisAddr, logger)
	} else {
		store = cache.NewMemoryStore(time.Minute)
	}

	rt := router.New(configManager, store, upstream.New(logger), logger)

	return &Server{
		config: configManager,
		store:  store,
		router: rt,
		logs:   auditlog.Open(logDir, logger),
		logger: logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr)

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logs.Close()
	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	cfg := s.config.Get()
	limiter := ratelimit.New(s.store, cfg.RateLimitPerMinute)

	// Create handlers
	parseHandler := handlers.NewParseHandler(s.config, s.router, s.logs, s.logger)
	chatHandler := handlers.NewChatHandler(s.config, s.router, s.logs, s.logger)
	poolStatusHandler := handlers.NewPoolStatusHandler(s.config, s.router)

	// Setup middleware chains
	middlewareSet := middleware.NewMiddlewareSet(s.config, limiter, s.logger)

	// Apply middleware chains to routes
	mux.Handle("/v1/parse", middlewareSet.ParseChain().Handler(parseHandler))
	mux.Handle("/v1/parse/health", middlewareSet.HealthChain().Handler(handlers.NewHealthHandler("api.v1.parse")))
	mux.Handle("/v1/parse/pool_status", middlewareSet.HealthChain().Handler(poolStatusHandler))
	mux.Handle("/v1/chat/completions", middlewareSet.ChatChain().Handler(chatHandler))
	mux.Handle("/v1/chat/health", middlewareSet.HealthChain().Handler(handlers.NewHealthHandler("api.v1.chat")))

	return mux
}
