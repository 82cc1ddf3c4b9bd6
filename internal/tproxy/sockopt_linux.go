//go:build linux

package tproxy

import (
	"encoding/binary"
	"fmt"
	"net"
	"syscall"

	coreerrors "ndlp-proxy/internal/core/errors"

	"golang.org/x/sys/unix"
)

// OriginalDst 读取被 iptables REDIRECT 的连接在重定向前的目标地址
func OriginalDst(conn net.Conn) (*net.TCPAddr, error) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, coreerrors.Newf(coreerrors.CodeOriginalDstFailed, "unsupported connection type %T", conn)
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeOriginalDstFailed, "get raw connection")
	}

	var (
		addr   *net.TCPAddr
		optErr error
	)
	err = raw.Control(func(fd uintptr) {
		addr, optErr = lookupOriginalDst(int(fd))
	})
	if err == nil {
		err = optErr
	}
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeOriginalDstFailed, "original destination of %s", conn.RemoteAddr())
	}
	return addr, nil
}

func lookupOriginalDst(fd int) (*net.TCPAddr, error) {
	mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.SOL_IP, unix.SO_ORIGINAL_DST)
	if err == nil {
		return decodeSockaddrIn(mreq.Multiaddr), nil
	}

	// IPv6 套接字
	info, err6 := unix.GetsockoptIPv6MTUInfo(fd, unix.SOL_IPV6, unix.SO_ORIGINAL_DST)
	if err6 != nil {
		return nil, err
	}
	var port [2]byte
	binary.NativeEndian.PutUint16(port[:], info.Addr.Port)
	ip := make(net.IP, net.IPv6len)
	copy(ip, info.Addr.Addr[:])
	return &net.TCPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(port[:]))}, nil
}

func reusePortControl(network, address string, c syscall.RawConn) error {
	var optErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			optErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			optErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
		}
	})
	if err != nil {
		return err
	}
	return optErr
}

func markControl(mark int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var optErr error
		err := c.Control(func(fd uintptr) {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, mark); err != nil {
				optErr = fmt.Errorf("failed to set SO_MARK: %w", err)
			}
		})
		if err != nil {
			return err
		}
		return optErr
	}
}
