package reactor

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nyxsys/reactor/internal/netaddr"
)

// ErrWouldBlock is returned by AcceptOne when there is no pending
// connection to accept right now; the Acceptor treats it as "stop
// iterating this readiness event", not an error worth logging.
var ErrWouldBlock = errors.New("reactor: would block")

// ListenSocket creates, binds, and listens on addr (see netaddr.Parse for
// accepted forms), returning a non-blocking file descriptor ready to be
// wrapped in a Channel.
func ListenSocket(addr string, backlog int) (fd int, err error) {
	network, address, err := netaddr.Parse(addr)
	if err != nil {
		return -1, err
	}

	switch network {
	case netaddr.NetworkUnix:
		return listenUnix(address, backlog)
	default:
		return listenTCP(address, backlog)
	}
}

func listenTCP(address string, backlog int) (int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return -1, fmt.Errorf("reactor: split host/port %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, fmt.Errorf("reactor: invalid port in %q: %w", address, err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return -1, fmt.Errorf("reactor: resolve host %q: %w", host, err)
		}
		ip = ips[0]
	}

	if v4 := ip.To4(); v4 != nil {
		fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
		if err != nil {
			return -1, err
		}
		if err := prepareListenSocket(fd); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], v4)
		sa.Port = port
		if err := unix.Bind(fd, &sa); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("bind %s: %w", address, err)
		}
		if err := unix.Listen(fd, backlog); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("listen %s: %w", address, err)
		}
		return fd, nil
	}

	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := prepareListenSocket(fd); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	var sa unix.SockaddrInet6
	copy(sa.Addr[:], ip.To16())
	sa.Port = port
	if err := unix.Bind(fd, &sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", address, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", address, err)
	}
	return fd, nil
}

func listenUnix(path string, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if !strings.HasPrefix(path, "\x00") {
		_ = unix.Unlink(path)
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", path, err)
	}
	return fd, nil
}

func prepareListenSocket(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetNonblock(fd, true)
}

// AcceptOne accepts a single pending connection from listenFd, returning
// ErrWouldBlock when there is nothing to accept right now. The returned fd
// is non-blocking.
func AcceptOne(listenFd int) (connFd int, peerAddr string, err error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, "", ErrWouldBlock
		}
		return -1, "", err
	}
	return nfd, sockaddrString(sa), nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	default:
		return "unknown"
	}
}
