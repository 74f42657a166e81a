package app_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/hearlink/internal/app"
	"github.com/MrWong99/hearlink/internal/config"
	detectmock "github.com/MrWong99/hearlink/internal/detect/mock"
	notifymock "github.com/MrWong99/hearlink/internal/notify/mock"
	recordingmock "github.com/MrWong99/hearlink/internal/recording/mock"
	"github.com/MrWong99/hearlink/internal/relay"
)

// fixture is a Coordinator wired to in-memory doubles.
type fixture struct {
	c        *app.Coordinator
	notifier *notifymock.Notifier
	storage  *recordingmock.Storage
	sink     *detectmock.Sink
}

// newConfig returns a defaulted config after applying mutate.
func newConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	if mutate != nil {
		mutate(cfg)
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

func newFixture(t *testing.T, cfg *config.Config, opts ...app.Option) *fixture {
	t.Helper()
	f := &fixture{
		notifier: &notifymock.Notifier{},
		storage:  &recordingmock.Storage{},
		sink:     &detectmock.Sink{},
	}
	all := append([]app.Option{
		app.WithNotifier(f.notifier),
		app.WithStorage(f.storage),
		app.WithSink(f.sink),
	}, opts...)

	c, err := app.New(t.Context(), cfg, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	f.c = c
	return f
}

// run starts Run and waits until both pumps are subscribed.
func (f *fixture) run(t *testing.T, upSubscribers int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return")
		}
	})
	waitFor(t, "pumps subscribed", func() bool {
		return f.c.Hub().Subscribers(relay.DeviceToServer) == upSubscribers &&
			f.c.Hub().Subscribers(relay.ServerToDevice) == 1
	})
}

// notificationsTitled returns the recorded notifications with the given title.
func (f *fixture) notificationsTitled(title string) int {
	n := 0
	for _, note := range f.notifier.Notifications() {
		if note.Title == title {
			n++
		}
	}
	return n
}

// ─── Peers ───────────────────────────────────────────────────────────────────

// peer is a loopback TCP listener standing in for the device or the
// processing server.
type peer struct {
	host, port string
	conns      chan net.Conn
}

func listen(t *testing.T) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p := &peer{host: host, port: port, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- c
		}
	}()
	return p
}

// accept returns the next accepted connection, wrapped for line reading.
func (p *peer) accept(t *testing.T) *conn {
	t.Helper()
	select {
	case c := <-p.conns:
		t.Cleanup(func() { _ = c.Close() })
		return &conn{Conn: c, r: bufio.NewReader(c)}
	case <-time.After(3 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

// closedEndpoint returns a host and port nothing listens on.
func closedEndpoint(t *testing.T) (string, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	_ = ln.Close()
	return host, port
}

type conn struct {
	net.Conn
	r *bufio.Reader
}

func (c *conn) readLine(t *testing.T) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *conn) readFull(t *testing.T, n int) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

// skipPreferences consumes the two preference lines sent on connect.
func (c *conn) skipPreferences(t *testing.T) {
	t.Helper()
	for range 2 {
		c.readLine(t)
	}
}

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
