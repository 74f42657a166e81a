package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// ErrInvalidAddress is returned for a blank or malformed device address.
var ErrInvalidAddress = errors.New("link: invalid device address")

// Dialer opens a byte stream to a paired device. Implementations may block
// until the connection is established or ctx is done.
type Dialer interface {
	Dial(ctx context.Context, address string) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to [Dialer].
type DialerFunc func(ctx context.Context, address string) (io.ReadWriteCloser, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	return f(ctx, address)
}

// NetDialer dials address as a host:port stream. It serves devices reached
// over Wi-Fi Direct or a serial-over-TCP bridge.
type NetDialer struct {
	Network string        // default "tcp"
	Timeout time.Duration // 0 means no timeout beyond ctx
}

// Dial implements [Dialer].
func (d NetDialer) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	network := d.Network
	if network == "" {
		network = "tcp"
	}
	nd := net.Dialer{Timeout: d.Timeout}
	c, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("link: dial %s: %w", address, err)
	}
	return c, nil
}

// ParseAddress parses a Bluetooth device address such as
// "00:11:22:AA:BB:CC" and returns it in the little-endian byte order used
// by the kernel's bdaddr_t.
func ParseAddress(address string) ([6]byte, error) {
	var out [6]byte
	address = strings.TrimSpace(address)
	if address == "" {
		return out, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	hw, err := net.ParseMAC(address)
	if err != nil || len(hw) != 6 {
		return out, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	for i := range 6 {
		out[i] = hw[5-i]
	}
	return out, nil
}
