// Package server 实现监听 Worker 与配置编排
package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"ndlp-proxy/internal/config"
	"ndlp-proxy/internal/constants"
	corelog "ndlp-proxy/internal/core/log"
	"ndlp-proxy/internal/core/metrics"
	"ndlp-proxy/internal/core/safe"
	"ndlp-proxy/internal/tproxy"

	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"
)

// ListenFunc 绑定监听端口
type ListenFunc func(ctx context.Context, addr string) (net.Listener, error)

// SessionHandler 处理一个被接受的连接，返回时连接已关闭
type SessionHandler interface {
	Serve(ctx context.Context, client net.Conn, icapAddr string) error
}

// WorkerOptions Worker 参数
type WorkerOptions struct {
	ListenAddr string
	// ICAPAddr 未启用远程审计服务时使用的地址
	ICAPAddr string

	MaxConns    int
	AcceptRate  float64
	AcceptBurst int

	Listen ListenFunc
}

// WorkerOptionsFromConfig 由服务配置生成 Worker 参数
func WorkerOptionsFromConfig(cfg config.ProxyConfig) WorkerOptions {
	return WorkerOptions{
		ListenAddr:  cfg.ListenAddr,
		ICAPAddr:    cfg.ICAPAddr,
		MaxConns:    cfg.MaxConnsPerWorker,
		AcceptRate:  cfg.AcceptRate,
		AcceptBurst: cfg.AcceptBurst,
	}
}

// listenerSlot 当前监听套接字及其接受循环
type listenerSlot struct {
	ln     net.Listener
	cancel context.CancelFunc
	done   chan struct{}
}

// Worker 持有至多一个监听套接字，将接受的连接分派给独立会话
//
// 配置快照只在 Run 所在的 goroutine 中读取和替换。
type Worker struct {
	id      int
	opts    WorkerOptions
	handler SessionHandler
	logger  corelog.Logger
	metrics metrics.Metrics

	localCh <-chan config.LocalConfig
	modeCh  <-chan config.ClientModeConfig

	local     config.LocalConfig
	mode      config.ClientModeConfig
	haveLocal bool

	slot      *listenerSlot
	listening atomic.Bool
	accepted  chan net.Conn
	sessions  *safe.WaitGroup
}

// NewWorker 创建 Worker，localCh 与 modeCh 为配置广播的接收端
func NewWorker(id int, opts WorkerOptions, handler SessionHandler, localCh <-chan config.LocalConfig,
	modeCh <-chan config.ClientModeConfig, logger corelog.Logger, m metrics.Metrics) *Worker {
	if opts.Listen == nil {
		opts.Listen = tproxy.Listen
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = constants.DefaultListenAddr
	}
	if opts.ICAPAddr == "" {
		opts.ICAPAddr = constants.DefaultICAPAddr
	}
	if logger == nil {
		logger = corelog.WithField("component", "worker")
	}
	if m == nil {
		m = metrics.NewMemoryMetrics()
	}

	w := &Worker{
		id:       id,
		opts:     opts,
		handler:  handler,
		logger:   logger.WithField(constants.LogFieldWorker, id),
		metrics:  m,
		localCh:  localCh,
		modeCh:   modeCh,
		accepted: make(chan net.Conn),
		sessions: safe.NewWaitGroup("worker-" + strconv.Itoa(id) + "-sessions"),
	}
	w.sessions.OnPanic(func(recovered interface{}) {
		_ = w.metrics.IncrementCounter(metrics.SessionPanics, nil)
	})
	return w
}

// ID Worker 编号
func (w *Worker) ID() int {
	return w.id
}

// Listening 是否持有监听套接字
func (w *Worker) Listening() bool {
	return w.listening.Load()
}

// Run 运行 Worker 事件循环，ctx 取消或两个配置通道都关闭时返回
//
// 返回前关闭监听套接字，已分派的会话不受影响，可通过 Drain 等待。
func (w *Worker) Run(ctx context.Context) error {
	defer w.closeListener()
	w.logger.Debug("worker started")

	localCh, modeCh := w.localCh, w.modeCh
	for localCh != nil || modeCh != nil {
		select {
		case <-ctx.Done():
			w.logger.Debug("worker stopping")
			return nil

		case local, ok := <-localCh:
			if !ok {
				localCh = nil
				continue
			}
			w.updateLocal(local)

		case mode, ok := <-modeCh:
			if !ok {
				modeCh = nil
				continue
			}
			w.updateMode(ctx, mode)

		case conn := <-w.accepted:
			w.dispatch(ctx, conn)
		}
	}
	w.logger.Debug("configuration channels closed, worker exiting")
	return nil
}

func (w *Worker) updateLocal(local config.LocalConfig) {
	w.local = local
	w.haveLocal = true
	w.logger.WithFields(map[string]interface{}{
		"mirror":               local.Mirror.Enable,
		"mirror_interface":     local.Mirror.Interface,
		constants.LogFieldICAP: local.ICAPAddr(w.opts.ICAPAddr),
	}).Debug("local config applied")
}

// updateMode 按模式建立或撤销监听，已有监听时不重复绑定
func (w *Worker) updateMode(ctx context.Context, mode config.ClientModeConfig) {
	w.mode = mode

	if !mode.IsListenMode() {
		if w.slot != nil {
			w.logger.Infof("client mode %q, stop listening", mode.ClientMode)
			w.closeListener()
		}
		return
	}
	if w.slot != nil {
		return
	}

	ln, err := w.opts.Listen(ctx, w.opts.ListenAddr)
	if err != nil {
		_ = w.metrics.IncrementCounter(metrics.ListenerEvents, map[string]string{"event": "bind_failed"})
		w.logger.WithError(err).Errorf("listen on %s failed, retry on next mode update", w.opts.ListenAddr)
		return
	}
	if w.opts.MaxConns > 0 {
		ln = netutil.LimitListener(ln, w.opts.MaxConns)
	}

	acceptCtx, cancel := context.WithCancel(ctx)
	slot := &listenerSlot{ln: ln, cancel: cancel, done: make(chan struct{})}
	w.slot = slot
	w.listening.Store(true)
	_ = w.metrics.IncrementCounter(metrics.ListenerEvents, map[string]string{"event": "bind"})
	w.logger.Infof("listening on %s", ln.Addr())

	safe.Go("worker-accept-"+strconv.Itoa(w.id), func() {
		defer close(slot.done)
		w.acceptLoop(acceptCtx, ln)
	})
}

func (w *Worker) closeListener() {
	slot := w.slot
	if slot == nil {
		return
	}
	w.slot = nil
	w.listening.Store(false)
	slot.cancel()
	_ = slot.ln.Close()
	<-slot.done
	_ = w.metrics.IncrementCounter(metrics.ListenerEvents, map[string]string{"event": "unbind"})
}

func (w *Worker) acceptLoop(ctx context.Context, ln net.Listener) {
	var limiter *rate.Limiter
	if w.opts.AcceptRate > 0 {
		burst := w.opts.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(w.opts.AcceptRate), burst)
	}

	var backoff time.Duration
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				w.logger.WithError(err).Warnf("accept error, retrying in %s", backoff)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return
				}
			}
			w.logger.WithError(err).Error("accept failed, listener stopped")
			return
		}
		backoff = 0

		select {
		case w.accepted <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		return time.Second
	}
	return d
}

// dispatch 会话不随 Worker 的 ctx 取消而中断
func (w *Worker) dispatch(ctx context.Context, conn net.Conn) {
	icapAddr := w.opts.ICAPAddr
	if w.haveLocal {
		icapAddr = w.local.ICAPAddr(w.opts.ICAPAddr)
	}
	sessionCtx := context.WithoutCancel(ctx)
	w.sessions.Go(func() {
		_ = w.handler.Serve(sessionCtx, conn, icapAddr)
	})
}

// Drain 等待已分派的会话结束，超时返回 false
func (w *Worker) Drain(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return w.sessions.WaitTimeout(timeout)
}
