package session

import (
	"context"
	"net"

	"ndlp-proxy/internal/config"
	"ndlp-proxy/internal/constants"
	coreerrors "ndlp-proxy/internal/core/errors"
	corelog "ndlp-proxy/internal/core/log"
	"ndlp-proxy/internal/core/metrics"
	"ndlp-proxy/internal/protocol/httpproto"
	"ndlp-proxy/internal/protocol/wire"

	"github.com/google/uuid"
)

// Dialer 出站拨号
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// OriginalDstFunc 恢复被重定向连接的原始目标地址
type OriginalDstFunc func(conn net.Conn) (*net.TCPAddr, error)

// Handler 为每个被接受的连接建立源站与审计连接并运行会话
type Handler struct {
	opts         Options
	originDialer Dialer
	icapDialer   Dialer
	originalDst  OriginalDstFunc
	logger       corelog.Logger
	metrics      metrics.Metrics
}

// NewHandler 创建连接处理器
func NewHandler(opts Options, originDialer, icapDialer Dialer, originalDst OriginalDstFunc, logger corelog.Logger, m metrics.Metrics) *Handler {
	if logger == nil {
		logger = corelog.WithField("component", "session-handler")
	}
	if m == nil {
		m = metrics.NewMemoryMetrics()
	}
	return &Handler{
		opts:         opts,
		originDialer: originDialer,
		icapDialer:   icapDialer,
		originalDst:  originalDst,
		logger:       logger,
		metrics:      m,
	}
}

// OptionsFromConfig 由服务配置生成会话参数
func OptionsFromConfig(cfg config.ProxyConfig) Options {
	return Options{
		ICAPService:    cfg.ICAPAddr,
		Limits:         wire.Limits{MaxHeaders: cfg.MaxHeaders, MaxBytes: cfg.MaxHeaderBytes},
		MaxBodyBytes:   cfg.MaxBodyBytes,
		ReparseHeaders: cfg.ReparseHeaders,
		DrainTimeout:   cfg.DrainTimeout,
	}
}

// Serve 处理一个被接受的客户端连接，返回时连接已关闭
//
// 原始目标地址无法恢复或任一出站连接建立失败时只结束该连接。
func (h *Handler) Serve(ctx context.Context, client net.Conn, icapAddr string) error {
	defer client.Close()

	id := uuid.NewString()
	logger := h.logger.WithFields(map[string]interface{}{
		constants.LogFieldSession: id,
		constants.LogFieldClient:  client.RemoteAddr().String(),
	})

	_ = h.metrics.IncrementCounter(metrics.SessionsTotal, nil)
	_ = h.metrics.AddGauge(metrics.SessionsActive, 1, nil)
	defer func() { _ = h.metrics.AddGauge(metrics.SessionsActive, -1, nil) }()

	dst, err := h.originalDst(client)
	if err != nil {
		return h.fail(logger, "original_dst", err)
	}
	if local, ok := client.LocalAddr().(*net.TCPAddr); ok && local.IP.Equal(dst.IP) && local.Port == dst.Port {
		return h.fail(logger, "original_dst", coreerrors.Newf(coreerrors.CodeOriginalDstFailed, "connection to %s was not redirected", dst))
	}
	logger = logger.WithField(constants.LogFieldOrigin, dst.String())

	origin, err := h.originDialer.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		return h.fail(logger, "dial_origin", coreerrors.Wrapf(err, coreerrors.CodeConnectionError, "dial origin %s", dst))
	}
	adaptation, err := h.icapDialer.DialContext(ctx, "tcp", icapAddr)
	if err != nil {
		origin.Close()
		return h.fail(logger, "dial_icap", coreerrors.Wrapf(err, coreerrors.CodeConnectionError, "dial adaptation service %s", icapAddr))
	}

	opts := h.opts
	opts.ICAPService = icapAddr
	opts.ServerIP = dst.IP.String()
	if addr, ok := client.RemoteAddr().(*net.TCPAddr); ok {
		opts.ClientIP = addr.IP.String()
	}

	s := New(id, opts, logger.WithField(constants.LogFieldICAP, icapAddr), h.metrics)
	logger.Debug("session started")
	err = s.Run(ctx, client, origin, adaptation)

	proto := s.Protocol()
	fields := logger.WithFields(map[string]interface{}{
		"mode":           proto.Mode().String(),
		"request_bytes":  proto.BytesSeen(httpproto.Request),
		"response_bytes": proto.BytesSeen(httpproto.Response),
	})
	if err != nil {
		_ = h.metrics.IncrementCounter(metrics.SessionErrors, map[string]string{"stage": "relay"})
		fields.WithError(err).Debug("session ended with error")
		return err
	}
	fields.Debug("session ended")
	return nil
}

func (h *Handler) fail(logger corelog.Logger, stage string, err error) error {
	_ = h.metrics.IncrementCounter(metrics.SessionErrors, map[string]string{"stage": stage})
	logger.WithError(err).Warnf("session aborted at %s", stage)
	return err
}
