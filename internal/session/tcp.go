package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearlink/internal/observe"
)

// DefaultDialTimeout bounds a connect attempt when no timeout is configured.
const DefaultDialTimeout = 5 * time.Second

// DialFunc opens a stream connection. It matches [net.Dialer.DialContext].
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// tcpConn is one established connection and the goroutine serving it.
type tcpConn struct {
	nc     net.Conn
	ep     Endpoint
	out    *outbox
	cancel context.CancelFunc
	done   chan struct{}

	user      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// close shuts down the write half, the read half and the socket. Each step
// is best effort; the joined error is returned from the first call only.
func (c *tcpConn) close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if tc, ok := c.nc.(*net.TCPConn); ok {
			errs = append(errs, tc.CloseWrite(), tc.CloseRead())
		}
		errs = append(errs, c.nc.Close())
		c.closeErr = errors.Join(errs...)
		if c.closeErr != nil {
			slog.Debug("session: socket close reported errors", "remote", c.ep.String(), "err", c.closeErr)
		}
	})
	return c.closeErr
}

// tcpSession is the machinery shared by the device and server sessions:
// the connect guard, dialing with a timeout, one serving loop per
// connection, and a teardown that runs exactly once.
type tcpSession struct {
	role        Role
	sm          *StateMachine
	dial        DialFunc
	dialTimeout time.Duration
	metrics     *observe.Metrics
	onTeardown  func(Status)
	loop        func(ctx context.Context, c *tcpConn) error

	mu         sync.Mutex
	cur        *tcpConn
	dialCancel context.CancelFunc
	abortDial  bool
}

func newTCPSession(role Role, dial DialFunc, timeout time.Duration, m *observe.Metrics, onChange, onTeardown func(Status)) *tcpSession {
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &tcpSession{
		role:        role,
		sm:          NewStateMachine(role, onChange),
		dial:        dial,
		dialTimeout: timeout,
		metrics:     observe.OrDefault(m),
		onTeardown:  onTeardown,
	}
}

// connect dials ep and starts the serving loop. It is a no-op while the
// session is connecting or connected. A dial failure leaves the session in
// Failed and is returned.
func (s *tcpSession) connect(ctx context.Context, ep Endpoint) error {
	s.mu.Lock()
	if !s.sm.Begin(ep.String()) {
		s.mu.Unlock()
		return nil
	}
	dctx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	s.dialCancel = cancel
	s.abortDial = false
	s.mu.Unlock()

	sctx, span := observe.StartSessionSpan(ctx, "connect", string(s.role), ep.String())
	start := time.Now()
	nc, err := s.dial(dctx, "tcp", ep.String())
	cancel()

	var c *tcpConn
	var lctx context.Context
	if err == nil {
		var lcancel context.CancelFunc
		lctx, lcancel = context.WithCancel(context.WithoutCancel(ctx))
		c = &tcpConn{
			nc:     nc,
			ep:     ep,
			out:    newOutbox(),
			cancel: lcancel,
			done:   make(chan struct{}),
		}
	}

	// The abort flag and the connection publish share one critical section,
	// so a disconnect either sees s.cur or has its abort honoured here.
	s.mu.Lock()
	s.dialCancel = nil
	aborted := s.abortDial
	if c != nil && !aborted {
		s.cur = c
	}
	s.mu.Unlock()

	if c != nil && aborted {
		c.cancel()
		_ = nc.Close()
		err = context.Canceled
	}
	s.metrics.RecordConnect(sctx, string(s.role), err, time.Since(start))
	observe.EndSpan(span, err)

	if err != nil {
		reason := ReasonConnectFailure
		if aborted {
			reason = ReasonUserRequested
		}
		s.sm.Transition(Failed, reason, err)
		s.metrics.RecordDisconnect(sctx, string(s.role), reason)
		return fmt.Errorf("session: %s connect %s: %w", s.role, ep, err)
	}

	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	s.metrics.RecordActive(sctx, string(s.role), 1)
	s.sm.Transition(Connected, "", nil)
	go s.serve(lctx, c)
	return nil
}

func (s *tcpSession) serve(ctx context.Context, c *tcpConn) {
	err := s.loop(ctx, c)
	s.finish(c, err)
}

// finish tears the connection down after its loop returned.
func (s *tcpSession) finish(c *tcpConn, loopErr error) {
	c.cancel()
	_ = c.close()
	c.out.close()

	s.mu.Lock()
	if s.cur == c {
		s.cur = nil
	}
	s.mu.Unlock()

	to, reason := Idle, ReasonUserRequested
	var detail error
	var ee *exitError
	switch {
	case c.user.Load():
	case errors.As(loopErr, &ee) && ee.reason == ReasonRemoteClosed:
		reason = ReasonRemoteClosed
	case errors.As(loopErr, &ee):
		to, reason, detail = Failed, ee.reason, ee.err
	case loopErr != nil:
		to, reason, detail = Failed, ReasonConnectionLost, loopErr
	}

	ctx := context.Background()
	s.metrics.RecordActive(ctx, string(s.role), -1)
	s.metrics.RecordDisconnect(ctx, string(s.role), reason)

	if to == Failed {
		slog.Warn("session: connection lost", "role", s.role, "remote", c.ep.String(), "reason", reason, "err", detail)
	}
	s.sm.Transition(to, reason, detail)
	if s.onTeardown != nil {
		s.onTeardown(s.sm.Status())
	}
	close(c.done)
}

// disconnect ends the current connection (or aborts a dial in progress) and
// waits for teardown to complete. Safe to call repeatedly and concurrently.
// It must not be called from a loop callback.
func (s *tcpSession) disconnect() {
	s.mu.Lock()
	c := s.cur
	if c == nil {
		if s.sm.Status().State == Connecting {
			s.abortDial = true
			if s.dialCancel != nil {
				s.dialCancel()
			}
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if c.user.CompareAndSwap(false, true) {
		s.sm.Transition(Disconnecting, ReasonUserRequested, nil)
		c.cancel()
		_ = c.close()
	}
	<-c.done
}

// enqueue appends b to the live connection's outbox.
func (s *tcpSession) enqueue(b []byte) error {
	s.mu.Lock()
	c := s.cur
	s.mu.Unlock()
	if c == nil || s.sm.Status().State != Connected || !c.out.push(b) {
		return ErrNotConnected
	}
	return nil
}

// pending returns the number of queued outbound messages.
func (s *tcpSession) pending() int {
	s.mu.Lock()
	c := s.cur
	s.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.out.len()
}

// readFailure maps a read error to the reason that ends the loop. It returns
// nil when the loop was cancelled.
func readFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return &exitError{reason: ReasonRemoteClosed, err: err}
	}
	return &exitError{reason: ReasonReceiveFailure, err: err}
}

// writeFailure maps a write error to the reason that ends the loop.
func writeFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return &exitError{reason: ReasonSendFailure, err: err}
}
