//go:build linux

package link

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultRFCOMMChannel is the channel serial-port-profile devices listen on
// unless configured otherwise.
const DefaultRFCOMMChannel = 1

// RFCOMMDialer opens RFCOMM stream sockets through the kernel Bluetooth
// stack. The device must already be paired.
type RFCOMMDialer struct {
	Channel uint8
}

// Dial implements [Dialer]. The blocking connect is abandoned, and the
// socket closed, when ctx is done.
func (d RFCOMMDialer) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	channel := d.Channel
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("link: rfcomm socket: %w", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: channel})
	}()

	select {
	case err = <-errc:
	case <-ctx.Done():
		// Closing the descriptor unblocks connect.
		_ = unix.Close(fd)
		<-errc
		return nil, fmt.Errorf("link: rfcomm connect %s: %w", address, ctx.Err())
	}
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("link: rfcomm connect %s: %w", address, err)
	}

	// Non-blocking mode lets the runtime poller serve reads, so Close
	// interrupts a pending Read.
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("link: rfcomm nonblock: %w", err)
	}
	return os.NewFile(uintptr(fd), "rfcomm:"+address), nil
}
