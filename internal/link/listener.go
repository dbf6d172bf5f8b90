package link

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrLink covers transport failures: the radio is missing, the listener
	// broke, or the peer went away. The manager recovers from it.
	ErrLink = errors.New("link error")
	// ErrConnectionBusy rejects a second peer while one is connected.
	ErrConnectionBusy = errors.New("connection busy")
	// ErrNotAllowed rejects a peer missing from allowed_devices.
	ErrNotAllowed = errors.New("device not allowed")
	// ErrFrameTooLong drops a link whose frame exceeds max_frame_bytes.
	ErrFrameTooLong = errors.New("frame too long")
)

// Conn is one accepted peer link.
type Conn interface {
	io.ReadWriteCloser
	// RemoteAddr is the peer's Bluetooth address.
	RemoteAddr() string
}

// Listener accepts peer links on one channel.
type Listener interface {
	// Accept blocks until a peer connects, ctx ends, or the listener fails.
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

// ListenFunc opens a listener on channel.
type ListenFunc func(ctx context.Context, channel int) (Listener, error)
