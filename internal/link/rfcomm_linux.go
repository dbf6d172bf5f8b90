//go:build linux

package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// pollTimeoutMS bounds how long Accept goes without checking its context.
const pollTimeoutMS = 100

type rfcommListener struct {
	channel int

	// mu is held for each poll+accept round so Close never races a live fd.
	mu     sync.Mutex
	fd     int
	closed bool
}

// ListenRFCOMM binds an RFCOMM socket on every local adapter at channel.
func ListenRFCOMM(_ context.Context, channel int) (Listener, error) {
	if channel < 1 || channel > 30 {
		return nil, fmt.Errorf("%w: rfcomm channel %d out of range", ErrLink, channel)
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("%w: rfcomm socket: %w", ErrLink, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: uint8(channel)}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: bind rfcomm channel %d: %w", ErrLink, channel, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: listen: %w", ErrLink, err)
	}
	return &rfcommListener{channel: channel, fd: fd}, nil
}

func (l *rfcommListener) Accept(ctx context.Context) (Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nfd, sa, err := l.acceptOnce()
		switch {
		case err == nil && nfd < 0:
			continue // poll timeout
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, net.ErrClosed):
			return nil, fmt.Errorf("%w: %w", ErrLink, err)
		case err != nil:
			return nil, fmt.Errorf("%w: accept: %w", ErrLink, err)
		}

		addr := "unknown"
		if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
			addr = FormatAddr(rc.Addr)
		}
		// The fd is non-blocking, so os.NewFile registers it with the
		// runtime poller and Close unblocks a pending Read.
		f := os.NewFile(uintptr(nfd), "rfcomm:"+addr)
		return &rfcommConn{File: f, addr: addr}, nil
	}
}

// acceptOnce polls once. It returns nfd < 0 with a nil error on timeout.
func (l *rfcommListener) acceptOnce() (int, unix.Sockaddr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return -1, nil, net.ErrClosed
	}
	fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollTimeoutMS)
	if err != nil {
		return -1, nil, err
	}
	if n == 0 {
		return -1, nil, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return -1, nil, fmt.Errorf("listener poll revents %#x", fds[0].Revents)
	}
	return unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

func (l *rfcommListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.fd)
}

type rfcommConn struct {
	*os.File
	addr string
}

func (c *rfcommConn) RemoteAddr() string { return c.addr }
