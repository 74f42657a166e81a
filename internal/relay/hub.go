// Package relay implements the hub that carries traffic between the device
// side and the server side. It has two independent channels, one per
// [Direction]; each channel delivers to every current subscriber in publish
// order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearlink/internal/observe"
)

// DefaultBuffer is the per-subscriber buffer capacity.
const DefaultBuffer = 10

// ErrBusy is returned by [Hub.Offer] when the channel is held by a
// publisher waiting on a full subscriber.
var ErrBusy = errors.New("relay: channel busy")

// Direction names a hub channel.
type Direction int

const (
	DeviceToServer Direction = iota
	ServerToDevice
)

// String returns the metric-friendly direction name.
func (d Direction) String() string {
	switch d {
	case DeviceToServer:
		return "device_to_server"
	case ServerToDevice:
		return "server_to_device"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Message is one immutable unit on a channel. Exactly one of Text and Data
// is set.
type Message struct {
	Direction Direction
	Text      string
	Data      []byte
	Index     uint64 // hub-wide, increasing; for display ordering only
	Time      time.Time
}

// IsAudio reports whether the message carries raw audio.
func (m Message) IsAudio() bool { return m.Data != nil }

// Size returns the payload length in bytes.
func (m Message) Size() int {
	if m.IsAudio() {
		return len(m.Data)
	}
	return len(m.Text)
}

type subscriber struct {
	ch  chan Message
	ctx context.Context
}

type channel struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets the per-subscriber buffer capacity.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub fans messages out to subscribers. Publishing with no subscribers
// succeeds and discards the message. Safe for concurrent use.
type Hub struct {
	buffer  int
	metrics *observe.Metrics
	index   atomic.Uint64
	dropped atomic.Uint64
	chans   [2]channel
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{buffer: DefaultBuffer}
	for _, o := range opts {
		o(h)
	}
	h.metrics = observe.OrDefault(h.metrics)
	for i := range h.chans {
		h.chans[i].subs = make(map[*subscriber]struct{})
	}
	return h
}

func (h *Hub) channel(d Direction) (*channel, error) {
	if d != DeviceToServer && d != ServerToDevice {
		return nil, fmt.Errorf("relay: unknown direction %d", int(d))
	}
	return &h.chans[d], nil
}

// PublishText publishes a text message on d.
func (h *Hub) PublishText(ctx context.Context, d Direction, text string) error {
	return h.Publish(ctx, Message{Direction: d, Text: text})
}

// PublishAudio publishes raw audio on d. data is not copied and must not be
// modified afterwards.
func (h *Hub) PublishAudio(ctx context.Context, d Direction, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	return h.Publish(ctx, Message{Direction: d, Data: data})
}

// Publish assigns msg its index and timestamp and delivers it to every
// current subscriber of its channel. It blocks until each subscriber's buffer
// accepts the message; a subscriber whose context ends is skipped. Publishes
// on one channel are serialised, so subscribers observe publish order.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	c, err := h.channel(msg.Direction)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msg.Index = h.index.Add(1)
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	h.metrics.RecordRelay(ctx, msg.Direction.String(), msg.Size())

	for sub := range c.subs {
		select {
		case sub.ch <- msg:
		case <-sub.ctx.Done():
		case <-ctx.Done():
			return fmt.Errorf("relay: publish %s: %w", msg.Direction, ctx.Err())
		}
	}
	return nil
}

// Offer delivers msg to every subscriber with free buffer space and never
// waits. A subscriber whose buffer is full misses the message, and so does
// every subscriber when the channel is held by a blocked Publish (ErrBusy).
// It returns the number of subscribers that missed msg. Offer is meant for
// lossy streams such as live audio; command traffic goes through Publish.
func (h *Hub) Offer(ctx context.Context, msg Message) (int, error) {
	c, err := h.channel(msg.Direction)
	if err != nil {
		return 0, err
	}
	if !c.mu.TryLock() {
		h.dropped.Add(1)
		return 0, ErrBusy
	}
	defer c.mu.Unlock()

	msg.Index = h.index.Add(1)
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	h.metrics.RecordRelay(ctx, msg.Direction.String(), msg.Size())

	missed := 0
	for sub := range c.subs {
		select {
		case sub.ch <- msg:
		default:
			missed++
		}
	}
	h.dropped.Add(uint64(missed))
	return missed, nil
}

// Dropped returns how many deliveries [Hub.Offer] has skipped so far.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscribe returns a stream of messages published on d from now on. The
// stream is closed after ctx is done.
func (h *Hub) Subscribe(ctx context.Context, d Direction) (<-chan Message, error) {
	c, err := h.channel(d)
	if err != nil {
		return nil, err
	}
	sub := &subscriber{ch: make(chan Message, h.buffer), ctx: ctx}

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, sub)
		close(sub.ch)
		c.mu.Unlock()
	}()
	return sub.ch, nil
}

// Subscribers returns the number of live subscriptions on d.
func (h *Hub) Subscribers(d Direction) int {
	c, err := h.channel(d)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
