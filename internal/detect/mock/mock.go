// Package mock provides in-memory implementations of the detect collaborator
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose exported fields that control
// return values.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearlink/internal/detect"
)

// ─── Alerter ──────────────────────────────────────────────────────────────────

// Alerter is a mock [detect.Alerter].
type Alerter struct {
	mu sync.Mutex

	// Alerts records every event passed to Alert, in order.
	Alerts []detect.Event
}

// Alert implements [detect.Alerter].
func (a *Alerter) Alert(_ context.Context, ev detect.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Alerts = append(a.Alerts, ev)
}

// Calls returns a copy of the recorded alerts.
func (a *Alerter) Calls() []detect.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]detect.Event(nil), a.Alerts...)
}

// ─── Vibrator ─────────────────────────────────────────────────────────────────

// Vibrator is a mock [detect.Vibrator].
type Vibrator struct {
	mu sync.Mutex

	// ConnectedResult is returned by Connected.
	ConnectedResult bool

	// Sent records every command passed to Send, in order.
	Sent []string
}

// Connected implements [detect.Vibrator].
func (v *Vibrator) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ConnectedResult
}

// Send implements [detect.Vibrator].
func (v *Vibrator) Send(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Sent = append(v.Sent, text)
}

// Commands returns a copy of the sent commands.
func (v *Vibrator) Commands() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.Sent...)
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [detect.EventSink].
type Sink struct {
	mu sync.Mutex

	// SaveError is returned by SaveDetection.
	SaveError error

	// Gate, when non-nil, holds SaveDetection until it is closed or ctx
	// ends. Set it before the sink is used.
	Gate chan struct{}

	// Saved records every event passed to SaveDetection.
	Saved []detect.Event
}

// SaveDetection implements [detect.EventSink].
func (s *Sink) SaveDetection(ctx context.Context, ev detect.Event) error {
	s.mu.Lock()
	gate := s.Gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saved = append(s.Saved, ev)
	return s.SaveError
}

// Events returns a copy of the saved events.
func (s *Sink) Events() []detect.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]detect.Event(nil), s.Saved...)
}
