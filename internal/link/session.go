// Package link implements the direct device link: a Bluetooth serial stream
// (or any [Dialer]) carrying newline-terminated text in both directions.
//
// Unlike the TCP sessions, a link session reports everything through an
// explicit event stream returned by [Session.Events].
package link

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearlink/internal/codec"
	"github.com/MrWong99/hearlink/internal/observe"
	"github.com/MrWong99/hearlink/internal/session"
)

// Defaults.
const (
	DefaultDialTimeout = 15 * time.Second
	DefaultEventBuffer = 64
	readChunk          = 1024
)

// EventKind classifies an [Event].
type EventKind int

const (
	EventConnected EventKind = iota
	EventLine
	EventDisconnected
	EventError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventLine:
		return "line"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one notification from a [Session].
type Event struct {
	Kind   EventKind
	Line   string         // EventLine only
	Status session.Status // state after the event
	Err    error          // EventError only
	Time   time.Time
}

// Config configures a [Session].
type Config struct {
	// Dialer opens the transport. Required.
	Dialer Dialer

	// DialTimeout bounds a connect attempt. Default: 15s.
	DialTimeout time.Duration

	// EventBuffer is the capacity of the event channel. Default: 64.
	EventBuffer int

	// MaxLine bounds a buffered partial line. Default: codec.DefaultMaxLine.
	MaxLine int

	Metrics *observe.Metrics
}

// conn is one connect attempt and, if it succeeds, its transport.
type conn struct {
	address string
	cancel  context.CancelFunc
	done    chan struct{}
	stop    chan struct{}

	userClosing atomic.Bool
	stopOnce    sync.Once

	mu     sync.Mutex
	rwc    io.ReadWriteCloser
	closed bool
	reason string
	cause  error
}

// attach installs the transport. It reports false, closing rwc, when the
// connection was already shut down.
func (c *conn) attach(rwc io.ReadWriteCloser) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = rwc.Close()
		return false
	}
	c.rwc = rwc
	return true
}

// shutdown records why the connection ends (first caller wins) and closes
// the transport, which unblocks the reader.
func (c *conn) shutdown(reason string, cause error) {
	c.mu.Lock()
	if c.reason == "" {
		c.reason, c.cause = reason, cause
	}
	rwc := c.rwc
	already := c.closed
	c.closed = true
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	c.cancel()
	if !already && rwc != nil {
		if err := rwc.Close(); err != nil {
			slog.Debug("link: close transport", "address", c.address, "err", err)
		}
	}
}

func (c *conn) endReason() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.cause
}

// Session manages one device link at a time. All methods are safe for
// concurrent use.
type Session struct {
	dialer      Dialer
	dialTimeout time.Duration
	maxLine     int
	metrics     *observe.Metrics

	sm     *session.StateMachine
	events chan Event

	mu      sync.Mutex
	cur     *conn
	writeMu sync.Mutex
}

// New returns an idle session.
func New(cfg Config) *Session {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	return &Session{
		dialer:      cfg.Dialer,
		dialTimeout: cfg.DialTimeout,
		maxLine:     cfg.MaxLine,
		metrics:     observe.OrDefault(cfg.Metrics),
		sm:          session.NewStateMachine(session.RoleLink, nil),
		events:      make(chan Event, cfg.EventBuffer),
	}
}

// Events returns the stream of session events. It is never closed.
func (s *Session) Events() <-chan Event { return s.events }

// Status returns the current snapshot.
func (s *Session) Status() session.Status { return s.sm.Status() }

// Connected reports whether the link is up.
func (s *Session) Connected() bool { return s.sm.Status().State == session.Connected }

// Connect starts connecting to address in the background and returns
// immediately. Requests while a connection is pending or established are
// ignored.
func (s *Session) Connect(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sm.Begin(address) {
		return nil
	}
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &conn{
		address: address,
		cancel:  cancel,
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	s.cur = c
	go s.run(dctx, c)
	return nil
}

// Write sends text followed by "\n" and returns once it is written. A write
// failure tears the whole session down.
func (s *Session) Write(text string) error {
	s.mu.Lock()
	c := s.cur
	s.mu.Unlock()
	if c == nil || !s.Connected() {
		return session.ErrNotConnected
	}

	c.mu.Lock()
	rwc := c.rwc
	c.mu.Unlock()
	if rwc == nil {
		return session.ErrNotConnected
	}

	s.writeMu.Lock()
	_, err := rwc.Write(codec.EncodeLine(text))
	s.writeMu.Unlock()
	if err != nil {
		c.shutdown(session.ReasonSendFailure, err)
		return fmt.Errorf("link: write: %w", err)
	}
	return nil
}

// Disconnect closes the link (or abandons a pending connect) and waits for
// the session to settle. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.cur
	s.mu.Unlock()
	if c == nil {
		return
	}
	if c.userClosing.CompareAndSwap(false, true) {
		if s.Connected() {
			s.sm.Transition(session.Disconnecting, session.ReasonUserRequested, nil)
		}
		c.shutdown(session.ReasonUserRequested, nil)
	}
	<-c.done
}

func (s *Session) run(ctx context.Context, c *conn) {
	defer close(c.done)
	defer func() {
		s.mu.Lock()
		if s.cur == c {
			s.cur = nil
		}
		s.mu.Unlock()
	}()

	role := string(session.RoleLink)
	dctx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	sctx, span := observe.StartSessionSpan(dctx, "connect", role, c.address)
	start := time.Now()
	rwc, err := s.dialer.Dial(sctx, c.address)
	cancel()
	if err == nil && !c.attach(rwc) {
		err = context.Canceled
	}
	s.metrics.RecordConnect(ctx, role, err, time.Since(start))
	observe.EndSpan(span, err)

	if err != nil {
		reason := session.ReasonConnectFailure
		if c.userClosing.Load() {
			reason = session.ReasonUserRequested
		}
		s.sm.Transition(session.Failed, reason, err)
		s.emitFinal(Event{Kind: EventError, Err: err})
		s.emitFinal(Event{Kind: EventDisconnected})
		return
	}

	s.metrics.RecordActive(ctx, role, 1)
	s.sm.Transition(session.Connected, "", nil)
	s.emit(c, Event{Kind: EventConnected})

	readErr := s.read(ctx, c, rwc)
	c.shutdown(session.ReasonConnectionLost, readErr)

	reason, cause := c.endReason()
	if c.userClosing.Load() {
		reason, cause = session.ReasonUserRequested, nil
	} else {
		slog.Warn("link: connection lost", "address", c.address, "reason", reason, "err", cause)
	}
	s.metrics.RecordActive(ctx, role, -1)
	s.metrics.RecordDisconnect(ctx, role, reason)
	s.sm.Transition(session.Idle, reason, cause)
	if cause != nil {
		s.emitFinal(Event{Kind: EventError, Err: cause})
	}
	s.emitFinal(Event{Kind: EventDisconnected})
}

// read splits the stream into lines until the transport fails.
func (s *Session) read(ctx context.Context, c *conn, r io.Reader) error {
	split := codec.NewLineSplitter(s.maxLine)
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range split.Feed(buf[:n]) {
				if line == "" {
					continue
				}
				s.metrics.RecordLine(ctx, string(session.RoleLink))
				s.emit(c, Event{Kind: EventLine, Line: line})
			}
		}
		if err != nil {
			return err
		}
	}
}

// emit delivers ev, blocking while the consumer catches up, unless the
// connection is being shut down.
func (s *Session) emit(c *conn, ev Event) {
	ev.Status = s.sm.Status()
	ev.Time = time.Now()
	select {
	case s.events <- ev:
	case <-c.stop:
		slog.Debug("link: event dropped during shutdown", "kind", ev.Kind)
	}
}

// emitFinal delivers a terminal event without blocking.
func (s *Session) emitFinal(ev Event) {
	ev.Status = s.sm.Status()
	ev.Time = time.Now()
	select {
	case s.events <- ev:
	default:
		slog.Warn("link: event channel full, dropping", "kind", ev.Kind)
	}
}
