// Package safe 提供安全的 Goroutine 管理
//
// 所有 Goroutine 都带 panic 恢复，并计入全局计数。
package safe

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	corelog "ndlp-proxy/internal/core/log"
)

var globalManager = &manager{}

type manager struct {
	activeCount atomic.Int64 // 当前活跃 Goroutine 数量
	totalCount  atomic.Int64 // 累计创建的 Goroutine 数量
	panicCount  atomic.Int64 // panic 次数
}

// Stats Goroutine 统计信息
type Stats struct {
	Active     int64 `json:"active"`
	Total      int64 `json:"total"`
	PanicCount int64 `json:"panics"`
}

// GetStats 获取统计信息
func GetStats() Stats {
	return Stats{
		Active:     globalManager.activeCount.Load(),
		Total:      globalManager.totalCount.Load(),
		PanicCount: globalManager.panicCount.Load(),
	}
}

func run(name string, fn func(), onPanic func(recovered interface{})) {
	defer func() {
		globalManager.activeCount.Add(-1)
		if r := recover(); r != nil {
			globalManager.panicCount.Add(1)
			corelog.Errorf("SafeGo[%s]: panic recovered: %v\n%s", name, r, string(debug.Stack()))
			if onPanic != nil {
				onPanic(r)
			}
		}
	}()
	fn()
}

// Go 安全启动 Goroutine（带 panic 恢复）
// name 用于日志标识
func Go(name string, fn func()) {
	GoWithCallback(name, fn, nil)
}

// GoWithContext 带 context 的安全 Goroutine
func GoWithContext(ctx context.Context, name string, fn func(ctx context.Context)) {
	GoWithCallback(name, func() { fn(ctx) }, nil)
}

// GoWithCallback 带回调的安全 Goroutine
// onPanic 在发生 panic 时调用
func GoWithCallback(name string, fn func(), onPanic func(recovered interface{})) {
	globalManager.totalCount.Add(1)
	globalManager.activeCount.Add(1)
	go run(name, fn, onPanic)
}

// WaitGroup 封装的 WaitGroup，自动跟踪 Goroutine
type WaitGroup struct {
	wg      sync.WaitGroup
	name    string
	onPanic func(recovered interface{})
}

// NewWaitGroup 创建新的 WaitGroup
func NewWaitGroup(name string) *WaitGroup {
	return &WaitGroup{name: name}
}

// OnPanic 设置 panic 回调，需在第一次 Go 之前调用
func (w *WaitGroup) OnPanic(fn func(recovered interface{})) {
	w.onPanic = fn
}

// Go 在 WaitGroup 中安全启动 Goroutine
func (w *WaitGroup) Go(fn func()) {
	w.wg.Add(1)
	GoWithCallback(w.name, func() {
		defer w.wg.Done()
		fn()
	}, w.onPanic)
}

// Wait 等待所有 Goroutine 完成
func (w *WaitGroup) Wait() {
	w.wg.Wait()
}

// WaitTimeout 最多等待 timeout，全部完成返回 true
func (w *WaitGroup) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
