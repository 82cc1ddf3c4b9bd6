package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"ndlp-proxy/internal/constants"
	coreerrors "ndlp-proxy/internal/core/errors"
	"ndlp-proxy/internal/core/metrics"
	"ndlp-proxy/internal/core/safe"
)

type leg int

const (
	legClient leg = iota
	legOrigin
	legAdaptation
)

func (l leg) String() string {
	switch l {
	case legClient:
		return "client"
	case legOrigin:
		return "origin"
	default:
		return "adaptation"
	}
}

type legEvent struct {
	leg leg
	buf *[]byte
	n   int
	err error
}

var readBufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, constants.ReadBufferSize)
		return &buf
	},
}

// Run 在三条连接之间转发数据直到任一端关闭或出错，返回时关闭全部连接
//
// 每条连接一个读 goroutine，状态只在当前 goroutine 中修改。
// 客户端或源站关闭时若仍有未决送审，最多等待 DrainTimeout 以便已缓存的数据送达。
func (s *Session) Run(ctx context.Context, client, origin, adaptation net.Conn) error {
	conns := [3]net.Conn{client, origin, adaptation}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	events := make(chan legEvent, 16)
	done := make(chan struct{})
	defer close(done)

	for i, c := range conns {
		l, conn := leg(i), c
		safe.Go("session-reader-"+l.String(), func() {
			s.readLoop(l, conn, events, done)
		})
	}

	var drain <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-drain:
			s.logger.Warnf("drain timeout after %s, %d exchanges unanswered", s.opts.DrainTimeout, len(s.queue))
			return nil

		case ev := <-events:
			if ev.err != nil {
				if ev.leg != legAdaptation && drain == nil && s.Pending() && s.opts.DrainTimeout > 0 {
					s.logger.Debugf("%s closed, draining pending exchanges", ev.leg)
					drain = time.After(s.opts.DrainTimeout)
					continue
				}
				return s.legError(ev.leg, ev.err)
			}

			data := (*ev.buf)[:ev.n]
			switch ev.leg {
			case legClient:
				s.HandleClient(data)
			case legOrigin:
				s.HandleOrigin(data)
			case legAdaptation:
				s.HandleAdaptation(data)
			}
			readBufPool.Put(ev.buf)

			s.ServicePending()
			if err := s.flush(conns); err != nil {
				return err
			}
			if drain != nil && !s.Pending() {
				return nil
			}
		}
	}
}

func (s *Session) readLoop(l leg, conn net.Conn, events chan<- legEvent, done <-chan struct{}) {
	for {
		bufp := readBufPool.Get().(*[]byte)
		n, err := conn.Read(*bufp)
		if n > 0 {
			select {
			case events <- legEvent{leg: l, buf: bufp, n: n}:
			case <-done:
				return
			}
		} else {
			readBufPool.Put(bufp)
		}
		if err != nil {
			select {
			case events <- legEvent{leg: l, err: err}:
			case <-done:
			}
			return
		}
	}
}

func (s *Session) flush(conns [3]net.Conn) error {
	out := s.TakeOutput()
	writes := [3][]byte{out.ToClient, out.ToOrigin, out.ToAdaptation}
	for i, data := range writes {
		if len(data) == 0 {
			continue
		}
		l := leg(i)
		if _, err := conns[i].Write(data); err != nil {
			return coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "write to %s", l)
		}
		_ = s.metrics.AddCounter(metrics.RelayBytes, float64(len(data)), map[string]string{"leg": l.String()})
	}
	return nil
}

func (s *Session) legError(l leg, err error) error {
	if errors.Is(err, io.EOF) {
		s.logger.Debugf("%s closed", l)
		return nil
	}
	return coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "read from %s", l)
}
