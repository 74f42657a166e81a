// Package detect classifies inbound text lines into detection events and
// drives the alerting that follows: notifications, a vibration command to the
// wearable and optional persistence.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearlink/internal/codec"
	"github.com/MrWong99/hearlink/internal/eventlog"
	"github.com/MrWong99/hearlink/internal/observe"
)

// DefaultVibrationCommand is sent to the device once per matching line.
const DefaultVibrationCommand = "VIBRATE_TRIGGER"

// Kind distinguishes user keywords from the built-in alarm vocabulary.
type Kind string

const (
	KindCustom Kind = "custom"
	KindAlarm  Kind = "alarm"
)

// Event is one detection.
type Event struct {
	Kind        Kind
	Token       string
	Description string
	Time        time.Time
}

// Alerter raises a high-priority alert for an event.
type Alerter interface {
	Alert(ctx context.Context, ev Event)
}

// Vibrator is the device side that receives the vibration command.
type Vibrator interface {
	Connected() bool
	Send(text string)
}

// EventSink persists detections.
type EventSink interface {
	SaveDetection(ctx context.Context, ev Event) error
}

// Option configures an [Engine].
type Option func(*Engine)

// WithAlerter sets the alert collaborator.
func WithAlerter(a Alerter) Option { return func(e *Engine) { e.alerter = a } }

// WithVibrator sets the device that receives vibration commands.
func WithVibrator(v Vibrator) Option { return func(e *Engine) { e.vibrator = v } }

// WithSink sets where detections are persisted.
func WithSink(s EventSink) Option { return func(e *Engine) { e.sink = s } }

// WithVibrationCommand overrides [DefaultVibrationCommand].
func WithVibrationCommand(cmd string) Option {
	return func(e *Engine) {
		if cmd != "" {
			e.vibrationCmd = cmd
		}
	}
}

// WithLogSize sets how many recent detections are kept.
func WithLogSize(n int) Option { return func(e *Engine) { e.logSize = n } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observe.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// Engine applies the keyword and alarm rules to inbound lines. The keyword
// set can be swapped at any time; each line is classified against one
// consistent snapshot.
type Engine struct {
	keywords     atomic.Pointer[KeywordSet]
	alerter      Alerter
	vibrator     Vibrator
	sink         EventSink
	vibrationCmd string
	command      atomic.Pointer[string]
	logSize      int
	metrics      *observe.Metrics
	recent       *eventlog.Ring[Event]
}

// New returns an engine matching keywords.
func New(keywords KeywordSet, opts ...Option) *Engine {
	e := &Engine{
		vibrationCmd: DefaultVibrationCommand,
		logSize:      eventlog.DetectionLogSize,
	}
	for _, o := range opts {
		o(e)
	}
	e.metrics = observe.OrDefault(e.metrics)
	e.recent = eventlog.NewRing[Event](e.logSize)
	e.keywords.Store(&keywords)
	e.command.Store(&e.vibrationCmd)
	return e
}

// SetVibrationCommand replaces the vibration command. Empty is ignored.
func (e *Engine) SetVibrationCommand(cmd string) {
	if cmd == "" {
		return
	}
	e.command.Store(&cmd)
}

// VibrationCommand returns the command sent on a match.
func (e *Engine) VibrationCommand() string { return *e.command.Load() }

// SetKeywords replaces the keyword set.
func (e *Engine) SetKeywords(ks KeywordSet) {
	e.keywords.Store(&ks)
	slog.Info("detect: keywords updated", "keywords", ks.String())
}

// Keywords returns the current keyword set.
func (e *Engine) Keywords() KeywordSet { return *e.keywords.Load() }

// Classify returns the events for line without side effects. Tokens are
// split on commas and trimmed; user keywords take precedence over alarms.
func (e *Engine) Classify(line string) []Event {
	ks := e.keywords.Load()
	now := time.Now()

	var events []Event
	for _, tok := range codec.Tokens(line) {
		switch {
		case ks.Contains(tok):
			events = append(events, Event{
				Kind:        KindCustom,
				Token:       tok,
				Description: fmt.Sprintf("'%s' detected", tok),
				Time:        now,
			})
		default:
			if desc, ok := AlarmDescription(tok); ok {
				events = append(events, Event{Kind: KindAlarm, Token: tok, Description: desc, Time: now})
			}
		}
	}
	return events
}

// Process classifies line and acts on the result: every event is logged,
// alerted and persisted, and if anything matched while the device is
// connected the vibration command is sent exactly once.
func (e *Engine) Process(ctx context.Context, line string) []Event {
	events := e.Classify(line)
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		e.recent.Add(ev)
		e.metrics.RecordDetection(ctx, string(ev.Kind))
		slog.Info("detection", "kind", ev.Kind, "token", ev.Token, "description", ev.Description)

		if e.alerter != nil {
			e.alerter.Alert(ctx, ev)
		}
		if e.sink != nil {
			if err := e.sink.SaveDetection(ctx, ev); err != nil {
				slog.Warn("detect: failed to persist detection", "description", ev.Description, "err", err)
			}
		}
	}

	if e.vibrator != nil && e.vibrator.Connected() {
		e.vibrator.Send(*e.command.Load())
		e.metrics.VibrationTriggers.Add(ctx, 1)
	}
	return events
}

// Recent returns the latest detections, newest first.
func (e *Engine) Recent() []Event { return e.recent.Snapshot() }

// ClearRecent empties the detection log.
func (e *Engine) ClearRecent() { e.recent.Clear() }
