package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestServerSession_ReceivesLinesInOrder(t *testing.T) {
	t.Parallel()

	ep, conns := listen(t)
	var (
		mu    sync.Mutex
		lines []string
	)
	s := NewServerSession(ServerConfig{
		OnLine: func(_ context.Context, l string) {
			mu.Lock()
			lines = append(lines, l)
			mu.Unlock()
		},
	})
	if err := s.Connect(t.Context(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(s.Disconnect)
	peer := accept(t, conns)

	if _, err := peer.Write([]byte("fire, horn\r\n\nsiren\nbo")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	if _, err := peer.Write([]byte("om\n")); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	want := []string{"fire, horn", "siren", "boom"}
	waitFor(t, "lines", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestServerSession_WritesInEnqueueOrder(t *testing.T) {
	t.Parallel()

	ep, conns := listen(t)
	s := NewServerSession(ServerConfig{})
	if err := s.Connect(t.Context(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peer := accept(t, conns)

	audio := []byte{0x10, 0x20, 0x30, 0x40}
	if err := s.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.SendAudio(audio); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := s.Send("bye"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := append(append([]byte("hello\n"), audio...), "bye\n"...)
	got := make([]byte, len(want))
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(peer, got); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("wire bytes = %q, want %q", got, want)
	}

	s.Disconnect()
	if st := s.Status(); st.State != Idle || st.Reason != ReasonUserRequested {
		t.Errorf("status = %s, want idle after user request", st)
	}
}

func TestServerSession_SendWhileDisconnected(t *testing.T) {
	t.Parallel()

	s := NewServerSession(ServerConfig{})
	if err := s.Send("hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send err = %v, want ErrNotConnected", err)
	}
	if err := s.SendAudio([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendAudio err = %v, want ErrNotConnected", err)
	}
}

func TestServerSession_RemoteClose(t *testing.T) {
	t.Parallel()

	ep, conns := listen(t)
	var td teardowns
	s := NewServerSession(ServerConfig{OnTeardown: td.record})
	if err := s.Connect(t.Context(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = accept(t, conns).Close()

	waitFor(t, "teardown", func() bool { return td.count() == 1 })
	if st := s.Status(); st.State != Idle || st.Reason != ReasonRemoteClosed {
		t.Errorf("status = %s, want idle: remote closed", st)
	}

	// Teardown already happened; a later Disconnect must be harmless.
	s.Disconnect()
	if n := td.count(); n != 1 {
		t.Errorf("teardown ran %d times, want 1", n)
	}
}

func TestServerSession_SendFailure(t *testing.T) {
	t.Parallel()

	var td teardowns
	s := NewServerSession(ServerConfig{Dial: dialBroken(newBrokenConn()), OnTeardown: td.record})
	if err := s.Connect(t.Context(), Endpoint{Host: "srv", Port: 9000}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, "teardown", func() bool { return td.count() == 1 })
	st := s.Status()
	if st.State != Failed || st.Reason != ReasonSendFailure {
		t.Errorf("status = %s, want failed: send failure", st)
	}
	if !bytes.Contains([]byte(st.String()), []byte("send failure")) {
		t.Errorf("String() = %q lacks reason", st.String())
	}
}

func TestServerSession_DisconnectDuringDial(t *testing.T) {
	t.Parallel()

	dialing := make(chan struct{})
	s := NewServerSession(ServerConfig{
		DialTimeout: 5 * time.Second,
		Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
			close(dialing)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(t.Context(), Endpoint{Host: "srv", Port: 9000}) }()
	<-dialing
	s.Disconnect()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected aborted connect to fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not abort the dial")
	}
	st := s.Status()
	if st.State != Failed || st.Reason != ReasonUserRequested {
		t.Errorf("status = %s, want failed: user requested", st)
	}
}

func TestServerSession_OversizedLineDropped(t *testing.T) {
	t.Parallel()

	ep, conns := listen(t)
	got := make(chan string, 4)
	s := NewServerSession(ServerConfig{
		MaxLine: 1024,
		OnLine:  func(_ context.Context, l string) { got <- l },
	})
	if err := s.Connect(t.Context(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(s.Disconnect)
	peer := accept(t, conns)

	long := bytes.Repeat([]byte("x"), 70*1024)
	if _, err := peer.Write(append(long, "\nsiren\n"...)); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case l := <-got:
		if l != "siren" {
			t.Errorf("first line = %.20q, want siren", l)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("line after the oversized one never arrived")
	}
	if st := s.Status(); st.State != Connected {
		t.Errorf("status = %s, want connected", st)
	}
}

func TestServerSession_DisconnectWhileLineCallbackBlocks(t *testing.T) {
	t.Parallel()

	ep, conns := listen(t)
	entered := make(chan struct{})
	s := NewServerSession(ServerConfig{
		OnLine: func(ctx context.Context, _ string) {
			close(entered)
			<-ctx.Done()
		},
	})
	if err := s.Connect(t.Context(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peer := accept(t, conns)
	if _, err := peer.Write([]byte("horn\n")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	<-entered

	done := make(chan struct{})
	go func() {
		s.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Disconnect blocked behind the line callback")
	}
	if st := s.Status(); st.State != Idle {
		t.Errorf("status = %s, want idle", st)
	}
}

func TestServerSession_DialCompletingAfterDisconnect(t *testing.T) {
	t.Parallel()

	dialing := make(chan struct{})
	remotes := make(chan net.Conn, 1)
	s := NewServerSession(ServerConfig{
		Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
			close(dialing)
			<-ctx.Done()
			// The dial succeeds even though it was cancelled.
			local, remote := net.Pipe()
			remotes <- remote
			return local, nil
		},
	})

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(t.Context(), Endpoint{Host: "srv", Port: 9000}) }()
	<-dialing
	s.Disconnect()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Connect err = %v, want canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
	}
	if st := s.Status(); st.State != Failed || st.Reason != ReasonUserRequested {
		t.Errorf("status = %s, want failed: user requested", st)
	}

	remote := <-remotes
	_ = remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := remote.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("late connection not closed: read err = %v", err)
	}
	if err := s.Send("late"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after aborted connect: err = %v, want ErrNotConnected", err)
	}
}
