//go:build !linux

package link

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultRFCOMMChannel is the channel serial-port-profile devices listen on
// unless configured otherwise.
const DefaultRFCOMMChannel = 1

// RFCOMMDialer is only available on Linux.
type RFCOMMDialer struct {
	Channel uint8
}

// Dial always fails on this platform.
func (d RFCOMMDialer) Dial(context.Context, string) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("link: rfcomm: %w", errors.ErrUnsupported)
}
