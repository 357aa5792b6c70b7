//go:build linux || darwin || freebsd

package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenTCP opens a non-blocking listening socket on addr and returns its
// descriptor together with the address it is bound to.
func listenTCP(addr string, backlog int) (int, string, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, "", fmt.Errorf("failed to resolve %s: %w", addr, err)
	}

	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); tcpAddr.IP == nil || ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		family = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, "", fmt.Errorf("failed to create socket: %w", err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (int, string, error) {
		unix.Close(fd)
		return -1, "", fmt.Errorf("failed to %s %s: %w", op, addr, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("set SO_REUSEADDR on", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen on", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("set non-blocking mode on", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("read bound address of", err)
	}
	return fd, sockaddrString(bound), nil
}

// acceptTCP accepts one pending connection. It returns errWouldBlock when the
// backlog is drained.
func acceptTCP(lfd int) (int, string, error) {
	fd, sa, err := unix.Accept(lfd)
	if err != nil {
		if isWouldBlock(err) {
			return -1, "", errWouldBlock
		}
		return -1, "", err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, "", err
	}
	// Small JSON frames go out immediately.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return fd, sockaddrString(sa), nil
}

func sysRead(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil && isWouldBlock(err) {
		return 0, errWouldBlock
	}
	return n, err
}

func sysWrite(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil && isWouldBlock(err) {
		return 0, errWouldBlock
	}
	return n, err
}

func sysClose(fd int) error {
	return unix.Close(fd)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// isFDExhausted reports whether accept failed because the process or the
// system has no descriptors left.
func isFDExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	default:
		return ""
	}
}
