package reactor

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// listen creates a non-blocking listening socket bound to addr
// ("ip:port"). Collapsed to the handful of options this design needs
// rather than a full tuning.Config/Apply split (see DESIGN.md).
func listen(addr string) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return -1, fmt.Errorf("reactor: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, fmt.Errorf("reactor: invalid port %q: %w", portStr, err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return -1, fmt.Errorf("reactor: invalid ip address %q", host)
	}

	var fd int
	if ip4 := ip.To4(); ip4 != nil {
		fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			return -1, fmt.Errorf("reactor: socket: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("reactor: SO_REUSEADDR: %w", err)
		}
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], ip4)
		sa.Port = port
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("reactor: bind: %w", err)
		}
	} else {
		fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
		if err != nil {
			return -1, fmt.Errorf("reactor: socket: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("reactor: SO_REUSEADDR: %w", err)
		}
		var sa unix.SockaddrInet6
		copy(sa.Addr[:], ip.To16())
		sa.Port = port
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("reactor: bind: %w", err)
		}
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: set nonblock: %w", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: listen: %w", err)
	}

	return fd, nil
}

// listenBacklog is the kernel accept-queue depth.
const listenBacklog = 1024

// tuneAcceptedConn applies the per-connection options that matter for
// HTTP traffic on this path: Nagle's algorithm off
// (responses are flushed as complete HTTP messages already, so
// batching small writes buys nothing) and non-blocking I/O, which the
// reactor's edge-triggered model requires outright.
func tuneAcceptedConn(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("reactor: set nonblock: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("reactor: TCP_NODELAY: %w", err)
	}
	return nil
}
