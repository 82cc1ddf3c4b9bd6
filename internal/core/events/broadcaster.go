// Package events 提供配置快照的一对多广播
package events

import (
	"sync"

	coreerrors "ndlp-proxy/internal/core/errors"
)

// Broadcaster 将值广播给所有订阅者
//
// 每个订阅者有独立的有界通道。通道已满时丢弃最旧的值，
// 订阅者总能收到最新快照，发布者永不阻塞。
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   []chan T
	size   int
	closed bool
}

// NewBroadcaster 创建广播器，size 为每个订阅通道的容量
func NewBroadcaster[T any](size int) *Broadcaster[T] {
	if size < 1 {
		size = 1
	}
	return &Broadcaster[T]{size: size}
}

// Subscribe 注册订阅者，广播器关闭后返回已关闭的通道
func (b *Broadcaster[T]) Subscribe() <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.size)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish 向所有订阅者发送 v，返回丢弃旧值的订阅者数
func (b *Broadcaster[T]) Publish(v T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, coreerrors.ErrServiceClosed
	}

	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// 已满，丢弃最旧的值
		select {
		case <-ch:
			dropped++
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
	return dropped, nil
}

// Subscribers 当前订阅者数
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close 关闭所有订阅通道
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
