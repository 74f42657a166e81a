package session

import (
	"bytes"
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearlink/internal/codec"
	"github.com/MrWong99/hearlink/internal/observe"
)

// ServerConfig configures a [ServerSession].
type ServerConfig struct {
	// DialTimeout bounds the connect attempt. Default: 5s.
	DialTimeout time.Duration

	// OnLine receives every non-blank inbound line, in order, from the
	// receive goroutine. ctx ends when the connection is torn down, so a
	// callback that may block must select on it.
	OnLine func(ctx context.Context, line string)

	// MaxLine bounds a single inbound line. Longer lines are discarded with
	// a warning. Default: codec.DefaultMaxLine.
	MaxLine int

	// OnStateChange is called after every state transition. It may queue
	// lines with Send but must not call Connect or Disconnect.
	OnStateChange func(Status)

	// OnTeardown is called once per connection after the socket is closed.
	OnTeardown func(Status)

	// Dial overrides the dialer, mainly for tests.
	Dial DialFunc

	Metrics *observe.Metrics
}

// ServerSession is the TCP link to the processing server. Text lines flow in
// both directions; relayed audio is written to the same socket without a
// delimiter, so the server has to tell the two apart by content.
//
// Each connection runs a blocking line reader and a single writer that drains
// the outbound queue in enqueue order.
type ServerSession struct {
	*tcpSession
	onLine  func(context.Context, string)
	maxLine int
}

// NewServerSession returns an idle server session.
func NewServerSession(cfg ServerConfig) *ServerSession {
	s := &ServerSession{onLine: cfg.OnLine, maxLine: cfg.MaxLine}
	s.tcpSession = newTCPSession(RoleServer, cfg.Dial, cfg.DialTimeout, cfg.Metrics, cfg.OnStateChange, cfg.OnTeardown)
	s.tcpSession.loop = s.loop
	return s
}

// Connect dials the server. It returns immediately (nil) when a session is
// already connecting or connected.
func (s *ServerSession) Connect(ctx context.Context, ep Endpoint) error {
	return s.connect(ctx, ep)
}

// Disconnect closes the connection and waits for teardown.
func (s *ServerSession) Disconnect() { s.disconnect() }

// Send queues a text line. It never blocks; ErrNotConnected is returned when
// there is no live connection.
func (s *ServerSession) Send(text string) error {
	return s.enqueue(codec.EncodeLine(text))
}

// SendAudio queues raw audio bytes. The slice is copied.
func (s *ServerSession) SendAudio(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return s.enqueue(bytes.Clone(b))
}

// Status returns the current snapshot.
func (s *ServerSession) Status() Status { return s.sm.Status() }

// Connected reports whether the server link is up.
func (s *ServerSession) Connected() bool { return s.sm.Status().State == Connected }

func (s *ServerSession) loop(ctx context.Context, c *tcpConn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receive(gctx, c) })
	g.Go(func() error { return s.write(gctx, c) })
	g.Go(func() error {
		<-gctx.Done()
		_ = c.close()
		return nil
	})
	return g.Wait()
}

func (s *ServerSession) receive(ctx context.Context, c *tcpConn) error {
	lines := codec.NewLineSplitter(s.maxLine)
	buf := make([]byte, 4096)
	for {
		n, err := c.nc.Read(buf)
		for _, line := range lines.Feed(buf[:n]) {
			if line == "" {
				continue
			}
			s.metrics.RecordLine(ctx, string(RoleServer))
			if s.onLine != nil {
				s.onLine(ctx, line)
			}
		}
		if err != nil {
			return readFailure(ctx, err)
		}
	}
}

func (s *ServerSession) write(ctx context.Context, c *tcpConn) error {
	for {
		for {
			msg, ok := c.out.pop()
			if !ok {
				break
			}
			if _, err := c.nc.Write(msg); err != nil {
				return writeFailure(ctx, err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-c.out.ready:
		}
	}
}
