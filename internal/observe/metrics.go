// Package observe provides application-wide observability primitives for
// hearlink: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the control API.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hearlink metrics.
const meterName = "github.com/MrWong99/hearlink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Sessions ---

	// SessionConnects counts connect attempts. Attributes: role, result.
	SessionConnects metric.Int64Counter

	// SessionDisconnects counts session teardowns. Attributes: role, reason.
	SessionDisconnects metric.Int64Counter

	// ConnectDuration tracks how long establishing a transport took.
	ConnectDuration metric.Float64Histogram

	// ActiveSessions tracks connected sessions. Attribute: role.
	ActiveSessions metric.Int64UpDownCounter

	// --- Relay ---

	// RelayedBytes counts payload bytes relayed. Attribute: direction.
	RelayedBytes metric.Int64Counter

	// RelayedMessages counts hub messages published. Attribute: direction.
	RelayedMessages metric.Int64Counter

	// LinesReceived counts inbound text lines. Attribute: role.
	LinesReceived metric.Int64Counter

	// --- Detection and recording ---

	// Detections counts classified tokens. Attribute: kind.
	Detections metric.Int64Counter

	// VibrationTriggers counts vibration commands sent to the device.
	VibrationTriggers metric.Int64Counter

	// Recordings counts finished recordings. Attribute: status.
	Recordings metric.Int64Counter

	// RecordedBytes counts PCM bytes persisted to storage.
	RecordedBytes metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control API request latency. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// connectBuckets are histogram boundaries (seconds) sized around the default
// 5 s dial timeout.
var connectBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionConnects, err = m.Int64Counter("hearlink.session.connects",
		metric.WithDescription("Session connect attempts by role and result."),
	); err != nil {
		return nil, err
	}
	if met.SessionDisconnects, err = m.Int64Counter("hearlink.session.disconnects",
		metric.WithDescription("Session teardowns by role and reason."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("hearlink.session.connect.duration",
		metric.WithDescription("Time to establish a session transport."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("hearlink.active_sessions",
		metric.WithDescription("Number of connected sessions by role."),
	); err != nil {
		return nil, err
	}

	if met.RelayedBytes, err = m.Int64Counter("hearlink.relay.bytes",
		metric.WithDescription("Payload bytes relayed by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.RelayedMessages, err = m.Int64Counter("hearlink.relay.messages",
		metric.WithDescription("Messages published on the relay hub by direction."),
	); err != nil {
		return nil, err
	}
	if met.LinesReceived, err = m.Int64Counter("hearlink.lines.received",
		metric.WithDescription("Inbound text lines by session role."),
	); err != nil {
		return nil, err
	}

	if met.Detections, err = m.Int64Counter("hearlink.detections",
		metric.WithDescription("Detected keyword and alarm tokens by kind."),
	); err != nil {
		return nil, err
	}
	if met.VibrationTriggers, err = m.Int64Counter("hearlink.vibration.triggers",
		metric.WithDescription("Vibration commands sent to the device."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("hearlink.recordings",
		metric.WithDescription("Finished recordings by status."),
	); err != nil {
		return nil, err
	}
	if met.RecordedBytes, err = m.Int64Counter("hearlink.recordings.bytes",
		metric.WithDescription("PCM bytes persisted by the recorder."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("hearlink.http.request.duration",
		metric.WithDescription("Control API request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// OrDefault returns m, or [DefaultMetrics] when m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics()
	}
	return m
}

// RecordConnect records a connect attempt and, when it succeeded, its
// duration.
func (m *Metrics) RecordConnect(ctx context.Context, role string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("result", result),
	)
	m.SessionConnects.Add(ctx, 1, attrs)
	if err == nil {
		m.ConnectDuration.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.String("role", role)))
	}
}

// RecordDisconnect records a teardown with its reason tag.
func (m *Metrics) RecordDisconnect(ctx context.Context, role, reason string) {
	m.SessionDisconnects.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("reason", reason),
		),
	)
}

// RecordActive adjusts the active session gauge for role by delta.
func (m *Metrics) RecordActive(ctx context.Context, role string, delta int64) {
	m.ActiveSessions.Add(ctx, delta, metric.WithAttributes(attribute.String("role", role)))
}

// RecordRelay records one relayed message of n payload bytes.
func (m *Metrics) RecordRelay(ctx context.Context, direction string, n int) {
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.RelayedMessages.Add(ctx, 1, attrs)
	m.RelayedBytes.Add(ctx, int64(n), attrs)
}

// RecordLine records an inbound text line on a session of role.
func (m *Metrics) RecordLine(ctx context.Context, role string) {
	m.LinesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordDetection records one classified token.
func (m *Metrics) RecordDetection(ctx context.Context, kind string) {
	m.Detections.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRecording records a finished recording and its payload size.
func (m *Metrics) RecordRecording(ctx context.Context, status string, n int) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if n > 0 {
		m.RecordedBytes.Add(ctx, int64(n))
	}
}
