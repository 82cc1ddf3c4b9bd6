//go:build !linux

package tproxy

import (
	"net"
	"syscall"

	coreerrors "ndlp-proxy/internal/core/errors"
)

// OriginalDst 非 Linux 平台无法恢复原始目标地址
func OriginalDst(conn net.Conn) (*net.TCPAddr, error) {
	return nil, coreerrors.Wrap(coreerrors.ErrNotImplemented, coreerrors.CodeOriginalDstFailed, "original destination requires linux")
}

// reusePortControl 非 Linux 平台不复用端口，每个地址只能有一个 Worker 监听
func reusePortControl(network, address string, c syscall.RawConn) error {
	return nil
}

func markControl(mark int) func(network, address string, c syscall.RawConn) error {
	return nil
}
