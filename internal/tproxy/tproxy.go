// Package tproxy 透明代理相关的套接字操作
//
// 包含被 NAT 重定向连接的原始目标地址恢复、监听端口复用以及出站连接打标，
// 仅 Linux 提供完整实现。
package tproxy

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	coreerrors "ndlp-proxy/internal/core/errors"
)

// decodeSockaddrIn 解析 struct sockaddr_in：family(2) port(2, 网络序) addr(4)
func decodeSockaddrIn(raw [16]byte) *net.TCPAddr {
	return &net.TCPAddr{
		IP:   net.IPv4(raw[4], raw[5], raw[6], raw[7]),
		Port: int(binary.BigEndian.Uint16(raw[2:4])),
	}
}

// Listen 在 addr 上监听 TCP，设置 SO_REUSEADDR/SO_REUSEPORT 以便多个 Worker 共享端口
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reusePortControl}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeBindFailed, "listen on %s", addr)
	}
	return ln, nil
}

// NewDialer 创建出站拨号器，mark 非零时为套接字设置 SO_MARK
func NewDialer(timeout time.Duration, mark int) *net.Dialer {
	d := &net.Dialer{Timeout: timeout}
	if mark != 0 {
		d.Control = markControl(mark)
	}
	return d
}
