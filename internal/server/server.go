// Package server 暴露 /metrics 与 /healthz
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tg_downloader/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// HealthChecker 依赖的连通性检查，返回一次检查的耗时
type HealthChecker interface {
	CheckHealth(ctx context.Context) (time.Duration, error)
}

// Server 监控 HTTP 服务
type Server struct {
	httpServer *http.Server
	db         HealthChecker
}

type healthResponse struct {
	Status         string `json:"status"`
	Mongo          string `json:"mongo"`
	MongoLatencyMS int64  `json:"mongo_latency_ms,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// New 创建监控服务；db 可以为 nil
func New(addr string, gatherer prometheus.Gatherer, db HealthChecker) *Server {
	s := &Server{db: db}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Get("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler 路由，测试用
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run 启动服务，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.L().Infof("Metrics server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}
	logger.L().Info("Metrics server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Mongo:     "disabled",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		latency, err := s.db.CheckHealth(ctx)
		if err != nil {
			logger.L().Warnf("Health check: mongo ping failed: %v", err)
			resp.Status = "fail"
			resp.Mongo = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp.Mongo = "ok"
			resp.MongoLatencyMS = latency.Milliseconds()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
