// Package api 管理端口：指标导出、健康检查与性能分析
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"ndlp-proxy/internal/config"
	coreerrors "ndlp-proxy/internal/core/errors"
	corelog "ndlp-proxy/internal/core/log"
	"ndlp-proxy/internal/core/safe"

	"github.com/gorilla/mux"
)

// AdminServer 管理 HTTP 服务
type AdminServer struct {
	cfg    config.MetricsConfig
	router *mux.Router
	server *http.Server
	logger corelog.Logger
}

// NewAdminServer 创建管理服务，metricsHandler 为空时不注册指标路由
func NewAdminServer(cfg config.MetricsConfig, metricsHandler http.Handler, status StatusProvider, logger corelog.Logger) *AdminServer {
	if logger == nil {
		logger = corelog.WithField("component", "admin")
	}
	s := &AdminServer{
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: logger,
	}

	if metricsHandler != nil {
		s.router.Handle(cfg.Path, metricsHandler).Methods(http.MethodGet)
	}
	health := NewHealthHandler(status)
	s.router.HandleFunc("/healthz", health.HandleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", health.HandleReadyz).Methods(http.MethodGet)
	NewPProfHandler(cfg.PProf).RegisterRoutes(s.router)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler 路由，供测试使用
func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Start 绑定端口并在后台提供服务，返回实际监听地址
func (s *AdminServer) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeBindFailed, "admin listen on %s", s.cfg.ListenAddr)
	}
	s.logger.Infof("admin endpoint on http://%s%s", ln.Addr(), s.cfg.Path)

	safe.Go("admin-server", func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("admin server stopped")
		}
	})
	return ln.Addr(), nil
}

// Shutdown 优雅关闭
func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
