// Package mock provides a test double for [bridge.Publisher].
package mock

import (
	"context"
	"sync"
)

// ─── Publisher ───────────────────────────────────────────────────────────────

// Published is one recorded Publish call.
type Published struct {
	Topic   string
	Payload []byte
}

// Publisher records published payloads. PublishError, when set, is returned
// from every call.
type Publisher struct {
	mu           sync.Mutex
	PublishError error
	published    []Published
}

// Publish implements bridge.Publisher.
func (p *Publisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	p.published = append(p.published, Published{Topic: topic, Payload: append([]byte(nil), payload...)})
	p.mu.Unlock()
	return p.PublishError
}

// Published returns a copy of the recorded calls.
func (p *Publisher) Published() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.published))
	copy(out, p.published)
	return out
}
