package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"
)

// listen starts a loopback listener and returns its endpoint and a channel
// yielding accepted connections.
func listen(t *testing.T) (Endpoint, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	conns := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- c
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port}, conns
}

// closedEndpoint returns a loopback endpoint nobody listens on.
func closedEndpoint(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	_ = ln.Close()
	p, _ := strconv.Atoi(port)
	return Endpoint{Host: "127.0.0.1", Port: p}
}

func accept(t *testing.T, conns <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case c := <-conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// teardowns counts OnTeardown invocations.
type teardowns struct {
	mu   sync.Mutex
	seen []Status
}

func (r *teardowns) record(s Status) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
}

func (r *teardowns) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

// brokenConn is a net.Conn whose writes always fail. Reads block until
// Close, or time out immediately when readTimeout is set.
type brokenConn struct {
	net.Conn // nil; only the methods below are used

	readTimeout bool
	closed      chan struct{}
	once        sync.Once
}

func newBrokenConn() *brokenConn { return &brokenConn{closed: make(chan struct{})} }

func (c *brokenConn) Read([]byte) (int, error) {
	if c.readTimeout {
		select {
		case <-c.closed:
			return 0, net.ErrClosed
		case <-time.After(time.Millisecond):
			return 0, os.ErrDeadlineExceeded
		}
	}
	<-c.closed
	return 0, net.ErrClosed
}

func (c *brokenConn) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func (c *brokenConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *brokenConn) SetReadDeadline(time.Time) error { return nil }

func dialBroken(c *brokenConn) DialFunc {
	return func(context.Context, string, string) (net.Conn, error) { return c, nil }
}
