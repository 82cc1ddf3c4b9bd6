package session

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	coreerrors "ndlp-proxy/internal/core/errors"
	corelog "ndlp-proxy/internal/core/log"
	"ndlp-proxy/internal/core/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair 返回一对已连接的回环 TCP 连接
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	a, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case b := <-accepted:
		t.Cleanup(func() { a.Close(); b.Close() })
		return a, b
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
		return nil, nil
	}
}

// icapRequestLen 缓冲区中第一个完整审计请求的长度，未完整返回 0
func icapRequestLen(buf []byte) int {
	end := bytes.Index(buf, []byte("\r\n\r\n"))
	if end < 0 {
		return 0
	}
	headLen := end + 4
	var encap string
	for _, line := range strings.Split(string(buf[:end]), "\r\n") {
		if strings.HasPrefix(line, "Encapsulated: ") {
			encap = strings.TrimPrefix(line, "Encapsulated: ")
		}
	}
	parts := strings.Split(encap, ", ")
	kv := strings.SplitN(parts[len(parts)-1], "=", 2)
	offset, _ := strconv.Atoi(kv[1])
	bodyStart := headLen + offset
	if kv[0] == "null-body" {
		if len(buf) < bodyStart {
			return 0
		}
		return bodyStart
	}

	lineEnd := bytes.Index(buf[bodyStart:], []byte("\r\n"))
	if lineEnd < 0 {
		return 0
	}
	size, _ := strconv.ParseInt(string(buf[bodyStart:bodyStart+lineEnd]), 16, 64)
	total := bodyStart + lineEnd + 2 + int(size) + 2 + len("0\r\n\r\n")
	if len(buf) < total {
		return 0
	}
	return total
}

// serveICAP 模拟审计服务：每收到一个完整请求调用 verdict 生成响应
func serveICAP(conn net.Conn, verdict func(req []byte) string) {
	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := conn.Read(tmp)
		buf = append(buf, tmp[:n]...)
		for {
			l := icapRequestLen(buf)
			if l == 0 {
				break
			}
			if _, werr := conn.Write([]byte(verdict(buf[:l]))); werr != nil {
				return
			}
			buf = buf[l:]
		}
		if err != nil {
			return
		}
	}
}

func readN(t *testing.T, conn net.Conn, n int) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestRun_EndToEnd(t *testing.T) {
	clientApp, clientProxy := tcpPair(t)
	originProxy, originApp := tcpPair(t)
	icapProxy, icapApp := tcpPair(t)

	go serveICAP(icapApp, func(req []byte) string {
		if bytes.Contains(req, []byte("password")) {
			return "ICAP/1.0 200 OK\r\nContent-Length: 8\r\n\r\nREDACTED"
		}
		return icap204
	})

	s := New("e2e", Options{}, corelog.NewTestLogger(t), metrics.NewMemoryMetrics())
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), clientProxy, originProxy, icapProxy) }()

	request := "POST /login HTTP/1.1\r\nHost: app\r\nContent-Length: 11\r\n\r\nuser=alice&"
	_, err := clientApp.Write([]byte(request))
	require.NoError(t, err)
	assert.Equal(t, request, readN(t, originApp, len(request)), "204 forwards the request byte for byte")

	respHead := "HTTP/1.1 200 OK\r\nContent-Length: 8\r\n\r\n"
	_, err = originApp.Write([]byte(respHead + "password"))
	require.NoError(t, err)
	assert.Equal(t, respHead+"REDACTED", readN(t, clientApp, len(respHead)+8))

	clientApp.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after client close")
	}

	// 所有连接均被关闭
	require.NoError(t, originApp.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = originApp.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestRun_DrainsPendingAfterClientClose(t *testing.T) {
	clientApp, clientProxy := tcpPair(t)
	originProxy, originApp := tcpPair(t)
	icapProxy, icapApp := tcpPair(t)

	release := make(chan struct{})
	go serveICAP(icapApp, func(req []byte) string {
		<-release
		return icap204
	})

	s := New("drain", Options{DrainTimeout: 2 * time.Second}, corelog.NewTestLogger(t), nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), clientProxy, originProxy, icapProxy) }()

	head := "POST /a HTTP/1.1\r\nContent-Length: 4\r\n\r\n"
	_, err := clientApp.Write([]byte(head + "data"))
	require.NoError(t, err)
	assert.Equal(t, head, readN(t, originApp, len(head)))

	clientApp.Close()
	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.Equal(t, "data", readN(t, originApp, 4), "held body still reaches the origin")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish draining")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	_, clientProxy := tcpPair(t)
	originProxy, _ := tcpPair(t)
	icapProxy, _ := tcpPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := New("cancel", Options{}, corelog.NewNopLogger(), nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, clientProxy, originProxy, icapProxy) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("session ignored cancellation")
	}
}

type staticDialer struct {
	addr string
	err  error
}

func (d staticDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, d.addr)
}

func TestHandler_Serve(t *testing.T) {
	originLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer originLn.Close()
	icapLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer icapLn.Close()

	go func() {
		c, err := icapLn.Accept()
		if err == nil {
			serveICAP(c, func([]byte) string { return icap204 })
		}
	}()
	go func() {
		c, err := originLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 1024)
		n, _ := c.Read(buf)
		if strings.HasPrefix(string(buf[:n]), "GET /") {
			c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
		}
		io.Copy(io.Discard, c)
	}()

	originAddr := originLn.Addr().(*net.TCPAddr)
	m := metrics.NewMemoryMetrics()
	h := NewHandler(Options{}, &net.Dialer{}, &net.Dialer{},
		func(net.Conn) (*net.TCPAddr, error) { return originAddr, nil },
		corelog.NewTestLogger(t), m)

	clientApp, clientProxy := tcpPair(t)
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), clientProxy, icapLn.Addr().String()) }()

	_, err = clientApp.Write([]byte(getHead))
	require.NoError(t, err)
	resp := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	assert.Equal(t, resp, readN(t, clientApp, len(resp)))

	clientApp.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}

	total, _ := m.GetCounter(metrics.SessionsTotal, nil)
	assert.Equal(t, float64(1), total)
	active, _ := m.GetGauge(metrics.SessionsActive, nil)
	assert.Equal(t, float64(0), active)
}

func TestHandler_ServeFailures(t *testing.T) {
	dstErr := coreerrors.New(coreerrors.CodeOriginalDstFailed, "no original destination")
	target := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}

	tests := []struct {
		name        string
		originalDst OriginalDstFunc
		origin      Dialer
		code        coreerrors.ErrorCode
		stage       string
	}{
		{
			name:        "original destination",
			originalDst: func(net.Conn) (*net.TCPAddr, error) { return nil, dstErr },
			origin:      &net.Dialer{},
			code:        coreerrors.CodeOriginalDstFailed,
			stage:       "original_dst",
		},
		{
			name:        "origin dial",
			originalDst: func(net.Conn) (*net.TCPAddr, error) { return target, nil },
			origin:      staticDialer{err: io.ErrClosedPipe},
			code:        coreerrors.CodeConnectionError,
			stage:       "dial_origin",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewMemoryMetrics()
			h := NewHandler(Options{}, tt.origin, &net.Dialer{}, tt.originalDst, corelog.NewNopLogger(), m)

			clientApp, clientProxy := tcpPair(t)
			err := h.Serve(context.Background(), clientProxy, "127.0.0.1:1")
			require.Error(t, err)
			assert.True(t, coreerrors.IsCode(err, tt.code))

			v, _ := m.GetCounter(metrics.SessionErrors, map[string]string{"stage": tt.stage})
			assert.Equal(t, float64(1), v)

			// 客户端连接被关闭
			require.NoError(t, clientApp.SetReadDeadline(time.Now().Add(time.Second)))
			_, err = clientApp.Read(make([]byte, 1))
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}
