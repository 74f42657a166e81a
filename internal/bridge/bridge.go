// Package bridge exposes the relay hub to external consumers.
//
// Two flavours exist. [Server] is a WebSocket endpoint: every connected client
// receives the device→server stream as JSON [Frame]s, and text it sends is
// published on the server→device channel. [Forward] pushes the same frames to
// a broker through the [Publisher] interface (e.g. an MQTT client).
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MrWong99/hearlink/internal/relay"
)

// Frame types.
const (
	FrameHello = "hello"
	FrameText  = "text"
	FrameAudio = "audio"
)

// Frame is the JSON shape of one bridged message.
type Frame struct {
	Type      string    `json:"type"`
	Client    string    `json:"client,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Index     uint64    `json:"index,omitempty"`
	Text      string    `json:"text,omitempty"`
	Audio     []byte    `json:"audio,omitempty"`
	Time      time.Time `json:"time"`
}

// FrameFrom converts a hub message.
func FrameFrom(m relay.Message) Frame {
	f := Frame{
		Type:      FrameText,
		Direction: m.Direction.String(),
		Index:     m.Index,
		Text:      m.Text,
		Time:      m.Time,
	}
	if m.IsAudio() {
		f.Type, f.Text, f.Audio = FrameAudio, "", m.Data
	}
	return f
}

// Publisher delivers payloads to an external broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Forward publishes every text message on direction d to pub under topic
// until ctx is done. Audio is not forwarded. Publish errors are logged and
// do not stop forwarding.
func Forward(ctx context.Context, hub *relay.Hub, d relay.Direction, pub Publisher, topic string) error {
	msgs, err := hub.Subscribe(ctx, d)
	if err != nil {
		return err
	}
	for m := range msgs {
		if m.IsAudio() {
			continue
		}
		payload, err := json.Marshal(FrameFrom(m))
		if err != nil {
			slog.Error("bridge: encode frame", "err", err)
			continue
		}
		if err := pub.Publish(ctx, topic, payload); err != nil {
			slog.Warn("bridge: publish failed", "topic", topic, "index", m.Index, "err", err)
		}
	}
	return nil
}
