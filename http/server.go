// Package http 提供预测服务的HTTP服务器
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bankpredict/config"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config config.HTTPConfig
	logger *zap.Logger
}

// NewHandler 注册路由并包装中间件链
func NewHandler(api *API, cfg config.HTTPConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	chain := Chain(
		RecoveryMiddleware(logger),                // 1. 恢复中间件（最先执行，捕获panic）
		RequestIDMiddleware,                       // 2. 请求ID
		LoggerMiddleware(logger),                  // 3. 日志中间件
		SecurityHeadersMiddleware,                 // 4. 安全头中间件
		CORSMiddleware(cfg.AllowedOrigins),        // 5. CORS中间件
		RequestSizeMiddleware(cfg.MaxUploadBytes), // 6. 请求大小限制
	)

	return chain(mux)
}

// NewServer 创建HTTP服务器
func NewServer(cfg config.HTTPConfig, api *API, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Server{
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           NewHandler(api, cfg, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
			IdleTimeout:       120 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
