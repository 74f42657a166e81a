package resilience

import (
	"context"

	"github.com/MrWong99/hearlink/internal/detect"
)

// Sink guards a [detect.EventSink] with a [Breaker]. While the breaker is
// open, detections are not persisted and SaveDetection returns [ErrOpen].
type Sink struct {
	next    detect.EventSink
	breaker *Breaker
}

var _ detect.EventSink = (*Sink)(nil)

// NewSink wraps next. A nil breaker gets the defaults.
func NewSink(next detect.EventSink, b *Breaker) *Sink {
	if b == nil {
		b = NewBreaker(BreakerConfig{Name: "detection-sink"})
	}
	return &Sink{next: next, breaker: b}
}

// SaveDetection implements [detect.EventSink].
func (s *Sink) SaveDetection(ctx context.Context, ev detect.Event) error {
	return s.breaker.Do(func() error { return s.next.SaveDetection(ctx, ev) })
}

// Breaker returns the breaker guarding the sink.
func (s *Sink) Breaker() *Breaker { return s.breaker }
