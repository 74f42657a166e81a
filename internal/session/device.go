package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/hearlink/internal/codec"
	"github.com/MrWong99/hearlink/internal/observe"
)

// Device session defaults.
const (
	DefaultPollInterval   = 5 * time.Millisecond
	DefaultReadBufferSize = 4096

	// readWindow is how long one poll waits for inbound bytes.
	readWindow = time.Millisecond
)

// DeviceConfig configures a [DeviceSession].
type DeviceConfig struct {
	// DialTimeout bounds the connect attempt. Default: 5s.
	DialTimeout time.Duration

	// PollInterval is the pause between loop iterations. Default: 5ms.
	PollInterval time.Duration

	// ReadBufferSize is the largest chunk handed to OnAudio. Default: 4096.
	ReadBufferSize int

	// OnAudio receives every inbound chunk verbatim. The slice is owned by
	// the callee. Called from the session goroutine; must not block for long.
	OnAudio func([]byte)

	// OnStateChange is called after every state transition. It may queue
	// commands with Send but must not call Connect or Disconnect.
	OnStateChange func(Status)

	// OnTeardown is called once per connection after the socket is closed.
	OnTeardown func(Status)

	// Dial overrides the dialer, mainly for tests.
	Dial DialFunc

	Metrics *observe.Metrics
}

// DeviceSession is the TCP link to the wearable. Outbound traffic is
// newline-terminated text commands; inbound traffic is raw, unframed PCM.
//
// A single goroutine serves each connection: every iteration it writes at
// most one queued command, polls the socket for audio, then yields.
type DeviceSession struct {
	*tcpSession
	poll    time.Duration
	bufSize int
	onAudio func([]byte)
}

// NewDeviceSession returns an idle device session.
func NewDeviceSession(cfg DeviceConfig) *DeviceSession {
	d := &DeviceSession{
		poll:    cfg.PollInterval,
		bufSize: cfg.ReadBufferSize,
		onAudio: cfg.OnAudio,
	}
	if d.poll <= 0 {
		d.poll = DefaultPollInterval
	}
	if d.bufSize <= 0 {
		d.bufSize = DefaultReadBufferSize
	}
	d.tcpSession = newTCPSession(RoleDevice, cfg.Dial, cfg.DialTimeout, cfg.Metrics, cfg.OnStateChange, cfg.OnTeardown)
	d.tcpSession.loop = d.loop
	return d
}

// Connect dials the device. It returns immediately (nil) when a session is
// already connecting or connected.
func (d *DeviceSession) Connect(ctx context.Context, ep Endpoint) error {
	return d.connect(ctx, ep)
}

// Disconnect closes the connection and waits for teardown.
func (d *DeviceSession) Disconnect() { d.disconnect() }

// Send queues a text command. When the device is not connected the command
// is dropped with a warning.
func (d *DeviceSession) Send(text string) {
	if err := d.enqueue(codec.EncodeLine(text)); err != nil {
		slog.Warn("session: device command dropped", "command", text, "err", err)
	}
}

// Status returns the current snapshot.
func (d *DeviceSession) Status() Status { return d.sm.Status() }

// Connected reports whether the device link is up.
func (d *DeviceSession) Connected() bool { return d.sm.Status().State == Connected }

// Pending returns the number of commands waiting to be written.
func (d *DeviceSession) Pending() int { return d.pending() }

func (d *DeviceSession) loop(ctx context.Context, c *tcpConn) error {
	buf := make([]byte, d.bufSize)
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		if msg, ok := c.out.pop(); ok {
			if _, err := c.nc.Write(msg); err != nil {
				return writeFailure(ctx, err)
			}
		}

		_ = c.nc.SetReadDeadline(time.Now().Add(readWindow))
		n, err := c.nc.Read(buf)
		if n > 0 && d.onAudio != nil {
			d.onAudio(bytes.Clone(buf[:n]))
		}
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return readFailure(ctx, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
