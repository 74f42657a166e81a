package link

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/hearlink/internal/session"
)

// pipeDialer hands out one end of a net.Pipe per Dial and keeps the peers.
type pipeDialer struct {
	peers chan net.Conn
	calls atomic.Int32
}

func newPipeDialer() *pipeDialer { return &pipeDialer{peers: make(chan net.Conn, 4)} }

func (d *pipeDialer) Dial(context.Context, string) (io.ReadWriteCloser, error) {
	d.calls.Add(1)
	local, peer := net.Pipe()
	d.peers <- peer
	return local, nil
}

func (d *pipeDialer) peer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case p := <-d.peers:
		t.Cleanup(func() { _ = p.Close() })
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no dial happened")
		return nil
	}
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectKind(t *testing.T, s *Session, want EventKind) Event {
	t.Helper()
	ev := nextEvent(t, s)
	if ev.Kind != want {
		t.Fatalf("event = %s (%+v), want %s", ev.Kind, ev, want)
	}
	return ev
}

const testAddress = "00:11:22:AA:BB:CC"

func TestSession_LinesInOrder(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	s := New(Config{Dialer: d})
	t.Cleanup(s.Disconnect)

	if err := s.Connect(t.Context(), testAddress); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peer := d.peer(t)
	ev := expectKind(t, s, EventConnected)
	if ev.Status.State != session.Connected || ev.Status.Remote != testAddress {
		t.Errorf("connected status = %s", ev.Status)
	}

	go func() {
		_, _ = peer.Write([]byte("siren\r\n\nfi"))
		_, _ = peer.Write([]byte("re, horn\n"))
	}()
	for _, want := range []string{"siren", "fire, horn"} {
		if got := expectKind(t, s, EventLine).Line; got != want {
			t.Errorf("line = %q, want %q", got, want)
		}
	}
}

func TestSession_Write(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	s := New(Config{Dialer: d})
	t.Cleanup(s.Disconnect)

	if err := s.Write("early"); !errors.Is(err, session.ErrNotConnected) {
		t.Errorf("Write before connect err = %v, want ErrNotConnected", err)
	}

	if err := s.Connect(t.Context(), testAddress); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peer := d.peer(t)
	expectKind(t, s, EventConnected)

	got := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(peer).ReadString('\n')
		got <- line
	}()
	if err := s.Write("VIBRATE_TRIGGER"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case line := <-got:
		if line != "VIBRATE_TRIGGER\n" {
			t.Errorf("peer read %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the line")
	}
}

func TestSession_RemoteCloseIsConnectionLost(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	s := New(Config{Dialer: d})
	if err := s.Connect(t.Context(), testAddress); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peer := d.peer(t)
	expectKind(t, s, EventConnected)

	_ = peer.Close()
	ev := expectKind(t, s, EventError)
	if !errors.Is(ev.Err, io.EOF) {
		t.Errorf("error = %v, want EOF", ev.Err)
	}
	ev = expectKind(t, s, EventDisconnected)
	if ev.Status.State != session.Idle || ev.Status.Reason != session.ReasonConnectionLost {
		t.Errorf("status = %s, want idle: connection lost", ev.Status)
	}
}

func TestSession_UserDisconnectIsPlain(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	s := New(Config{Dialer: d})
	if err := s.Connect(t.Context(), testAddress); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	d.peer(t)
	expectKind(t, s, EventConnected)

	s.Disconnect()
	s.Disconnect()

	ev := expectKind(t, s, EventDisconnected)
	if ev.Status.State != session.Idle || ev.Status.Reason != session.ReasonUserRequested {
		t.Errorf("status = %s, want idle: user requested", ev.Status)
	}
	select {
	case extra := <-s.Events():
		t.Errorf("unexpected event after disconnect: %s", extra.Kind)
	default:
	}
}

func TestSession_DialFailure(t *testing.T) {
	t.Parallel()

	s := New(Config{Dialer: DialerFunc(func(context.Context, string) (io.ReadWriteCloser, error) {
		return nil, errors.New("host is down")
	})})
	if err := s.Connect(t.Context(), testAddress); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectKind(t, s, EventError)
	ev := expectKind(t, s, EventDisconnected)
	if ev.Status.State != session.Failed || ev.Status.Reason != session.ReasonConnectFailure {
		t.Errorf("status = %s, want failed: connect failure", ev.Status)
	}
}

func TestSession_SingleOutstandingConnect(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	s := New(Config{Dialer: DialerFunc(func(ctx context.Context, _ string) (io.ReadWriteCloser, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, errors.New("gave up")
	})})

	for range 3 {
		if err := s.Connect(t.Context(), testAddress); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	close(release)
	expectKind(t, s, EventError)
	expectKind(t, s, EventDisconnected)
	if n := calls.Load(); n != 1 {
		t.Errorf("dial calls = %d, want 1", n)
	}
}

func TestSession_DisconnectAbandonsDial(t *testing.T) {
	t.Parallel()

	s := New(Config{Dialer: DialerFunc(func(ctx context.Context, _ string) (io.ReadWriteCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})})
	if err := s.Connect(t.Context(), testAddress); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.Disconnect()

	expectKind(t, s, EventError)
	ev := expectKind(t, s, EventDisconnected)
	if ev.Status.State != session.Failed || ev.Status.Reason != session.ReasonUserRequested {
		t.Errorf("status = %s, want failed: user requested", ev.Status)
	}
}

// failingRWC fails every write; reads block until Close.
type failingRWC struct {
	once   sync.Once
	closed chan struct{}
}

func (f *failingRWC) Read([]byte) (int, error) {
	<-f.closed
	return 0, io.ErrClosedPipe
}

func (f *failingRWC) Write([]byte) (int, error) { return 0, errors.New("socket reset") }

func (f *failingRWC) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestSession_WriteFailureTearsDown(t *testing.T) {
	t.Parallel()

	rwc := &failingRWC{closed: make(chan struct{})}
	s := New(Config{Dialer: DialerFunc(func(context.Context, string) (io.ReadWriteCloser, error) {
		return rwc, nil
	})})
	if err := s.Connect(t.Context(), testAddress); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectKind(t, s, EventConnected)

	if err := s.Write("VIBRATE_TRIGGER"); err == nil {
		t.Fatal("expected write error")
	}
	expectKind(t, s, EventError)
	ev := expectKind(t, s, EventDisconnected)
	if ev.Status.State != session.Idle || ev.Status.Reason != session.ReasonSendFailure {
		t.Errorf("status = %s, want idle: send failure", ev.Status)
	}
}

func TestSession_EmptyAddress(t *testing.T) {
	t.Parallel()

	s := New(Config{Dialer: newPipeDialer()})
	if err := s.Connect(t.Context(), "  "); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	got, err := ParseAddress("00:11:22:AA:BB:CC")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if want := [6]byte{0xCC, 0xBB, 0xAA, 0x22, 0x11, 0x00}; got != want {
		t.Errorf("ParseAddress = % X, want % X", got, want)
	}

	for _, bad := range []string{"", "not-a-mac", "00:11:22:33:44:55:66:77"} {
		if _, err := ParseAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("ParseAddress(%q) err = %v, want ErrInvalidAddress", bad, err)
		}
	}
}

func TestNetDialer(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_, _ = c.Write([]byte("horn\n"))
			_ = c.Close()
		}
	}()

	s := New(Config{Dialer: NetDialer{Timeout: time.Second}})
	if err := s.Connect(t.Context(), ln.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectKind(t, s, EventConnected)
	if got := expectKind(t, s, EventLine).Line; got != "horn" {
		t.Errorf("line = %q, want horn", got)
	}
	expectKind(t, s, EventError)
	expectKind(t, s, EventDisconnected)
}
