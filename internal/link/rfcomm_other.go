//go:build !linux

package link

import (
	"context"
	"errors"
	"fmt"
)

var errUnsupported = errors.New("rfcomm sockets require linux")

func ListenRFCOMM(_ context.Context, channel int) (Listener, error) {
	return nil, fmt.Errorf("%w: channel %d: %w", ErrLink, channel, errUnsupported)
}
