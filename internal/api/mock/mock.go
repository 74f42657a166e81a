// Package mock provides a scriptable [api.Controller] for handler tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/hearlink/internal/app"
	"github.com/MrWong99/hearlink/internal/recording"
)

// Controller records every command and returns the configured results.
// Safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	// Err is returned by every command that can fail, unless a more
	// specific error below is set.
	Err error

	// ConnectError is returned by ConnectDevice, ConnectServer and
	// ConnectLink when set.
	ConnectError error

	// StopResult is returned by StopRecording.
	StopResult *recording.Result

	// State is returned by Snapshot.
	State app.Snapshot

	// Calls records each command as "Name(args)".
	Calls []string
}

func (c *Controller) record(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, fmt.Sprintf(format, args...))
}

func (c *Controller) connectErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectError != nil {
		return c.ConnectError
	}
	return c.Err
}

func (c *Controller) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Err
}

// CallLog returns a copy of the recorded calls.
func (c *Controller) CallLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Calls...)
}

// ─── Device ──────────────────────────────────────────────────────────────────

func (c *Controller) ConnectDevice(_ context.Context, host, port string) error {
	c.record("ConnectDevice(%s,%s)", host, port)
	return c.connectErr()
}

func (c *Controller) DisconnectDevice() { c.record("DisconnectDevice()") }

func (c *Controller) SendVibration(level int) error {
	c.record("SendVibration(%d)", level)
	return c.err()
}

func (c *Controller) SendCommand(text string) error {
	c.record("SendCommand(%s)", text)
	return c.err()
}

// ─── Server ──────────────────────────────────────────────────────────────────

func (c *Controller) ConnectServer(_ context.Context, host, port string) error {
	c.record("ConnectServer(%s,%s)", host, port)
	return c.connectErr()
}

func (c *Controller) DisconnectServer() { c.record("DisconnectServer()") }

func (c *Controller) SendToServer(text string) error {
	c.record("SendToServer(%s)", text)
	return c.err()
}

// ─── Recording ───────────────────────────────────────────────────────────────

func (c *Controller) StartRecording() error {
	c.record("StartRecording()")
	return c.err()
}

func (c *Controller) StopRecording(context.Context) (*recording.Result, error) {
	c.record("StopRecording()")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.StopResult, c.Err
}

// ─── Link ────────────────────────────────────────────────────────────────────

func (c *Controller) ConnectLink(_ context.Context, address string) error {
	c.record("ConnectLink(%s)", address)
	return c.connectErr()
}

func (c *Controller) DisconnectLink() { c.record("DisconnectLink()") }

// Snapshot returns State.
func (c *Controller) Snapshot() app.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State
}
