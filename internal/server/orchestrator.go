package server

import (
	"context"
	"sync"
	"time"

	"ndlp-proxy/internal/config"
	"ndlp-proxy/internal/constants"
	coreerrors "ndlp-proxy/internal/core/errors"
	"ndlp-proxy/internal/core/events"
	corelog "ndlp-proxy/internal/core/log"
	"ndlp-proxy/internal/core/metrics"
	"ndlp-proxy/internal/core/safe"

	"golang.org/x/sync/singleflight"
)

const (
	reloadKindLocal = "local"
	reloadKindMode  = "client_mode"
)

// Options 编排参数
type Options struct {
	LocalConfigPath      string
	ClientModeConfigPath string

	Watch         bool
	WatchDebounce time.Duration

	// ShutdownDrain 退出时等待在途会话的总时长
	ShutdownDrain time.Duration

	Worker WorkerOptions
}

// OptionsFromConfig 由服务配置生成编排参数
func OptionsFromConfig(cfg *config.ServiceConfig) Options {
	return Options{
		LocalConfigPath:      cfg.Paths.LocalConfig,
		ClientModeConfigPath: cfg.Paths.ClientModeConfig,
		Watch:                cfg.Watch.Enabled,
		WatchDebounce:        cfg.Watch.Debounce,
		ShutdownDrain:        cfg.Shutdown.DrainTimeout,
		Worker:               WorkerOptionsFromConfig(cfg.Proxy),
	}
}

// Status 运行状态快照
type Status struct {
	Workers     int    `json:"workers"`
	Listening   int    `json:"listening"`
	ClientMode  string `json:"client_mode"`
	ICAPAddr    string `json:"icap_addr"`
	Uptime      string `json:"uptime"`
	Subscribers int    `json:"config_subscribers"` // 正常时与 Workers 相等
}

// Orchestrator 持有全部 Worker 与两路配置广播
//
// 配置快照不可变，每次重新加载成功后整体替换并广播，加载失败时保留旧快照。
type Orchestrator struct {
	opts    Options
	handler SessionHandler
	logger  corelog.Logger
	metrics metrics.Metrics

	localCast *events.Broadcaster[config.LocalConfig]
	modeCast  *events.Broadcaster[config.ClientModeConfig]

	mu    sync.RWMutex
	local config.LocalConfig
	mode  config.ClientModeConfig

	reloads singleflight.Group
	workers []*Worker
	started time.Time
}

// New 加载两份初始配置并创建 Worker，任一配置不可用时返回错误
func New(opts Options, handler SessionHandler, logger corelog.Logger, m metrics.Metrics) (*Orchestrator, error) {
	if handler == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "session handler is required")
	}
	if logger == nil {
		logger = corelog.WithField("component", "orchestrator")
	}
	if m == nil {
		m = metrics.NewMemoryMetrics()
	}

	local, err := config.LoadLocalConfig(opts.LocalConfigPath)
	if err != nil {
		return nil, err
	}
	mode, err := config.LoadClientModeConfig(opts.ClientModeConfigPath)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		opts:      opts,
		handler:   handler,
		logger:    logger,
		metrics:   m,
		localCast: events.NewBroadcaster[config.LocalConfig](constants.ConfigChannelSize),
		modeCast:  events.NewBroadcaster[config.ClientModeConfig](constants.ConfigChannelSize),
		local:     local,
		mode:      mode,
		started:   time.Now(),
	}
	for i := 0; i < local.ThreadNum; i++ {
		o.workers = append(o.workers, NewWorker(i, opts.Worker, handler,
			o.localCast.Subscribe(), o.modeCast.Subscribe(), logger, m))
	}
	return o, nil
}

// Workers Worker 数量
func (o *Orchestrator) Workers() int {
	return len(o.workers)
}

// Snapshots 当前生效的配置快照
func (o *Orchestrator) Snapshots() (config.LocalConfig, config.ClientModeConfig) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.local, o.mode
}

// Status 运行状态
func (o *Orchestrator) Status() Status {
	local, mode := o.Snapshots()
	st := Status{
		Workers:     len(o.workers),
		ClientMode:  mode.ClientMode,
		ICAPAddr:    local.ICAPAddr(o.opts.Worker.ICAPAddr),
		Subscribers: min(o.localCast.Subscribers(), o.modeCast.Subscribers()),
	}
	for _, w := range o.workers {
		if w.Listening() {
			st.Listening++
		}
	}
	st.Uptime = time.Since(o.started).Round(time.Second).String()
	return st
}

// Run 广播初始配置并运行全部 Worker，直到 ctx 取消或全部 Worker 退出
//
// 返回前关闭所有监听，并最多等待 ShutdownDrain 让在途会话自然结束。
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.RLock()
	_, _ = o.localCast.Publish(o.local)
	_, _ = o.modeCast.Publish(o.mode)
	o.mu.RUnlock()

	var localChanged, modeChanged <-chan struct{}
	if o.opts.Watch {
		watcher, err := o.startWatcher(runCtx)
		if err != nil {
			o.logger.WithError(err).Warn("config watch disabled")
		} else {
			defer watcher.Close()
			localChanged = o.watch(watcher, o.opts.LocalConfigPath)
			modeChanged = o.watch(watcher, o.opts.ClientModeConfigPath)
		}
	}

	workers := safe.NewWaitGroup("workers")
	for _, w := range o.workers {
		w := w
		workers.Go(func() {
			if err := w.Run(runCtx); err != nil {
				o.logger.WithError(err).Errorf("worker %d exited", w.ID())
			}
		})
	}
	workersDone := make(chan struct{})
	safe.Go("workers-wait", func() {
		workers.Wait()
		close(workersDone)
	})
	o.logger.Infof("started %d workers", len(o.workers))

loop:
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("termination requested")
			break loop
		case <-workersDone:
			o.logger.Info("all workers exited")
			break loop
		case <-localChanged:
			_ = o.ReloadLocal()
		case <-modeChanged:
			_ = o.ReloadMode()
		}
	}

	cancel()
	o.localCast.Close()
	o.modeCast.Close()
	<-workersDone
	o.drain()
	return nil
}

func (o *Orchestrator) startWatcher(ctx context.Context) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(o.opts.WatchDebounce, o.logger)
	if err != nil {
		return nil, err
	}
	safe.GoWithContext(ctx, "config-watcher", func(ctx context.Context) {
		if err := watcher.Run(ctx); err != nil {
			o.logger.WithError(err).Warn("config watcher stopped")
		}
	})
	return watcher, nil
}

// watch 无法监听时返回 nil 通道，该文件只能通过 Reload 更新
func (o *Orchestrator) watch(watcher *config.Watcher, path string) <-chan struct{} {
	ch, err := watcher.Add(path)
	if err != nil {
		o.logger.WithError(err).WithField(constants.LogFieldPath, path).Warn("cannot watch config file")
		return nil
	}
	return ch
}

func (o *Orchestrator) drain() {
	if o.opts.ShutdownDrain <= 0 {
		return
	}
	deadline := time.Now().Add(o.opts.ShutdownDrain)
	for _, w := range o.workers {
		if !w.Drain(time.Until(deadline)) {
			o.logger.Warnf("drain timeout after %s, exiting with sessions in flight", o.opts.ShutdownDrain)
			return
		}
	}
	o.logger.Debug("all sessions drained")
}

// Reload 重新加载两份配置
func (o *Orchestrator) Reload() error {
	errLocal := o.ReloadLocal()
	errMode := o.ReloadMode()
	if errLocal != nil {
		return errLocal
	}
	return errMode
}

// ReloadLocal 重新加载 Local.json，并发调用合并为一次
func (o *Orchestrator) ReloadLocal() error {
	_, err, _ := o.reloads.Do(reloadKindLocal, func() (interface{}, error) {
		local, err := config.LoadLocalConfig(o.opts.LocalConfigPath)
		if err != nil {
			return nil, o.reloadFailed(reloadKindLocal, err)
		}

		o.mu.Lock()
		defer o.mu.Unlock()
		if local.ThreadNum != o.local.ThreadNum {
			o.logger.Warnf("icap.threadCnt changed from %d to %d, requires restart", o.local.ThreadNum, local.ThreadNum)
		}
		o.local = local
		o.publish(reloadKindLocal, func() error {
			_, err := o.localCast.Publish(local)
			return err
		})
		return nil, nil
	})
	return err
}

// ReloadMode 重新加载客户端模式配置
func (o *Orchestrator) ReloadMode() error {
	_, err, _ := o.reloads.Do(reloadKindMode, func() (interface{}, error) {
		mode, err := config.LoadClientModeConfig(o.opts.ClientModeConfigPath)
		if err != nil {
			return nil, o.reloadFailed(reloadKindMode, err)
		}

		o.mu.Lock()
		defer o.mu.Unlock()
		if mode.ClientMode != o.mode.ClientMode {
			o.logger.Infof("client mode changed from %q to %q", o.mode.ClientMode, mode.ClientMode)
		}
		o.mode = mode
		o.publish(reloadKindMode, func() error {
			_, err := o.modeCast.Publish(mode)
			return err
		})
		return nil, nil
	})
	return err
}

func (o *Orchestrator) publish(kind string, fn func() error) {
	if err := fn(); err != nil {
		o.logger.WithError(err).Debugf("%s config not broadcast", kind)
		return
	}
	_ = o.metrics.IncrementCounter(metrics.ConfigReloads, map[string]string{"kind": kind, "result": "ok"})
}

func (o *Orchestrator) reloadFailed(kind string, err error) error {
	_ = o.metrics.IncrementCounter(metrics.ConfigReloads, map[string]string{"kind": kind, "result": "error"})
	o.logger.WithError(err).Errorf("reload %s config failed, keeping previous snapshot", kind)
	return err
}
