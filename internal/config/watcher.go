package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"ndlp-proxy/internal/constants"
	coreerrors "ndlp-proxy/internal/core/errors"
	corelog "ndlp-proxy/internal/core/log"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变更，每个文件一个通知通道
//
// 监听的是文件所在目录，编辑器原子替换（写临时文件再 rename）也能被捕获。
// 同一文件的连续事件在去抖间隔内合并为一次通知。
type Watcher struct {
	fs       *fsnotify.Watcher
	logger   corelog.Logger
	debounce time.Duration

	mu    sync.Mutex
	files map[string]*watchedFile
	dirs  map[string]bool
}

type watchedFile struct {
	notify    chan struct{}
	debouncer *Debouncer
}

// NewWatcher 创建监听器，debounce 为 0 时使用默认值
func NewWatcher(debounce time.Duration, logger corelog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = constants.DefaultWatchDebounce
	}
	if logger == nil {
		logger = corelog.WithField("component", "config-watcher")
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeConfigError, "create file watcher")
	}
	return &Watcher{
		fs:       fs,
		logger:   logger,
		debounce: debounce,
		files:    make(map[string]*watchedFile),
		dirs:     make(map[string]bool),
	}, nil
}

// Add 监听 path，返回该文件的变更通知通道
func (w *Watcher) Add(path string) (<-chan struct{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "resolve %q", path)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if f, ok := w.files[abs]; ok {
		return f.notify, nil
	}

	dir := filepath.Dir(abs)
	if !w.dirs[dir] {
		if err := w.fs.Add(dir); err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "watch directory %q", dir)
		}
		w.dirs[dir] = true
	}

	f := &watchedFile{
		notify:    make(chan struct{}, 1),
		debouncer: NewDebouncer(w.debounce),
	}
	w.files[abs] = f
	return f.notify, nil
}

// Run 处理文件系统事件直到 ctx 取消
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return coreerrors.New(coreerrors.CodeServiceClosed, "watcher events channel closed")
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			w.handle(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return coreerrors.New(coreerrors.CodeServiceClosed, "watcher errors channel closed")
			}
			w.logger.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	f, ok := w.files[name]
	w.mu.Unlock()
	if !ok {
		return
	}

	w.logger.WithField(constants.LogFieldPath, name).Debugf("config file event: %s", event.Op)
	f.debouncer.Trigger(func() {
		select {
		case f.notify <- struct{}{}:
		default:
			// 已有未处理的通知
		}
	})
}

// Close 停止监听
func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, f := range w.files {
		f.debouncer.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}

// Debouncer 合并短时间内的连续事件，静默期结束后才执行回调
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewDebouncer 创建去抖器
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger 记录一次事件，interval 内没有新事件时执行最近一次的回调
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		cb := d.callback
		stopped := d.stopped
		d.mu.Unlock()

		if cb != nil && !stopped {
			cb()
		}
	})
}

// Stop 取消未执行的回调
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
