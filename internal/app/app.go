// Package app wires the sessions, relay hub, detection engine and recorder
// into the running companion relay.
//
// [Coordinator] owns every component: New builds them from the config, Run
// drives the relay pumps until its context ends, and Shutdown disconnects
// everything. Commands may be called from any goroutine;
// [Coordinator.Snapshot] returns the observable state.
//
// Routing:
//
//	device TCP audio ──► recorder (when armed)
//	                 ├─► server session (audio)
//	                 └─► hub device→server (lossy) ──► bridge
//	link lines ────────► hub device→server ──► server session (text), bridge
//	           └───────► detection engine
//	server lines ──────► hub server→device ──► link session
//	             └─────► detection engine ──► alerts, store, device vibration
//	bridge clients ────► hub server→device
//
// For testing, inject doubles via functional options (WithNotifier,
// WithStorage, WithDeviceDial, ...).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/hearlink/internal/bridge"
	"github.com/MrWong99/hearlink/internal/config"
	"github.com/MrWong99/hearlink/internal/detect"
	"github.com/MrWong99/hearlink/internal/eventlog"
	"github.com/MrWong99/hearlink/internal/health"
	"github.com/MrWong99/hearlink/internal/link"
	"github.com/MrWong99/hearlink/internal/notify"
	"github.com/MrWong99/hearlink/internal/observe"
	"github.com/MrWong99/hearlink/internal/recording"
	"github.com/MrWong99/hearlink/internal/relay"
	"github.com/MrWong99/hearlink/internal/resilience"
	"github.com/MrWong99/hearlink/internal/session"
	"github.com/MrWong99/hearlink/internal/store"
)

// Command errors.
var (
	ErrInvalidVibration = errors.New("app: vibration intensity must be between 0 and 10")
	ErrEmptyCommand     = errors.New("app: command is empty")
)

// Coordinator owns all component lifetimes and routes traffic between them.
type Coordinator struct {
	cfg atomic.Pointer[config.Config]

	// Injected or defaulted in New.
	metrics    *observe.Metrics
	notifier   notify.Notifier
	storage    recording.Storage
	sink       detect.EventSink
	pinger     health.Pinger
	deviceDial session.DialFunc
	serverDial session.DialFunc
	linkDialer link.Dialer
	publisher  bridge.Publisher
	topic      string
	watcher    *config.Watcher
	level      *slog.LevelVar

	hub         *relay.Hub
	device      *session.DeviceSession
	server      *session.ServerSession
	link        *link.Session
	recorder    *recording.Recorder
	engine      *detect.Engine
	reconnector *session.Reconnector
	bridge      *bridge.Server
	messages    *eventlog.Ring[relay.Message]

	serverTarget atomic.Pointer[session.Endpoint]

	life context.Context
	stop context.CancelFunc
	bg   sync.WaitGroup

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*Coordinator)

// WithNotifier replaces the default log notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithStorage replaces the recording directory from the config.
func WithStorage(s recording.Storage) Option {
	return func(c *Coordinator) { c.storage = s }
}

// WithSink injects a detection sink instead of opening store.postgres_dsn.
func WithSink(s detect.EventSink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithDeviceDial overrides how the device session dials.
func WithDeviceDial(d session.DialFunc) Option {
	return func(c *Coordinator) { c.deviceDial = d }
}

// WithServerDial overrides how the server session dials.
func WithServerDial(d session.DialFunc) Option {
	return func(c *Coordinator) { c.serverDial = d }
}

// WithLinkDialer overrides the dialer chosen from link.transport.
func WithLinkDialer(d link.Dialer) Option {
	return func(c *Coordinator) { c.linkDialer = d }
}

// WithPublisher forwards device→server text to an external broker under
// topic while Run is active.
func WithPublisher(p bridge.Publisher, topic string) Option {
	return func(c *Coordinator) { c.publisher, c.topic = p, topic }
}

// WithWatcher polls w while Run is active. w should deliver its changes to
// [Coordinator.ApplyConfig].
func WithWatcher(w *config.Watcher) Option {
	return func(c *Coordinator) { c.watcher = w }
}

// WithLogLevel lets config reloads adjust the process log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(c *Coordinator) { c.level = lv }
}

// WithMetrics sets the metrics recorder for every component.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds every component from cfg. It opens the detection store when
// store.postgres_dsn is set and no sink was injected. Nothing connects until
// a command asks for it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{}
	for _, o := range opts {
		o(c)
	}
	c.cfg.Store(cfg)
	c.metrics = observe.OrDefault(c.metrics)
	if c.notifier == nil {
		c.notifier = notify.LogNotifier{}
	}
	if c.storage == nil {
		c.storage = recording.DirStorage{Dir: cfg.Recording.Dir}
	}
	if c.linkDialer == nil {
		c.linkDialer = newLinkDialer(cfg.Link)
	}

	if c.sink == nil && cfg.Store.PostgresDSN != "" {
		st, err := store.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: open store: %w", err)
		}
		c.sink = st
		c.closers = append(c.closers, func() error { st.Close(); return nil })
	}
	if c.sink != nil {
		c.pinger, _ = c.sink.(health.Pinger)
		c.sink = resilience.NewSink(c.sink, resilience.NewBreaker(resilience.BreakerConfig{Name: "detection-store"}))
	}

	c.life, c.stop = context.WithCancel(context.WithoutCancel(ctx))

	hubOpts := []relay.Option{relay.WithMetrics(c.metrics)}
	if cfg.Relay.Buffer > 0 {
		hubOpts = append(hubOpts, relay.WithBuffer(cfg.Relay.Buffer))
	}
	c.hub = relay.NewHub(hubOpts...)
	c.messages = eventlog.NewRing[relay.Message](eventlog.MessageLogSize)

	c.device = session.NewDeviceSession(session.DeviceConfig{
		DialTimeout:    cfg.Device.DialTimeout,
		PollInterval:   cfg.Device.PollInterval,
		ReadBufferSize: cfg.Device.ReadBuffer,
		OnAudio:        c.onDeviceAudio,
		OnStateChange:  c.onDeviceState,
		OnTeardown:     c.onDeviceTeardown,
		Dial:           c.deviceDial,
		Metrics:        c.metrics,
	})
	c.server = session.NewServerSession(session.ServerConfig{
		DialTimeout:   cfg.Processing.DialTimeout,
		OnLine:        c.onServerLine,
		OnStateChange: func(session.Status) { c.refreshStatus() },
		OnTeardown:    c.onServerTeardown,
		Dial:          c.serverDial,
		Metrics:       c.metrics,
	})
	c.link = link.New(link.Config{
		Dialer:      c.linkDialer,
		DialTimeout: cfg.Link.DialTimeout,
		Metrics:     c.metrics,
	})

	rec, err := recording.New(recording.Config{
		Format:  config.RecordingFormat(cfg),
		Storage: c.storage,
		Source:  c.device,
		Metrics: c.metrics,
	})
	if err != nil {
		c.stop()
		c.close()
		return nil, fmt.Errorf("app: recorder: %w", err)
	}
	c.recorder = rec
	slog.Info("recording format", "format", rec.Format().String(), "dir", cfg.Recording.Dir)

	engineOpts := []detect.Option{
		detect.WithAlerter(c),
		detect.WithVibrator(c.device),
		detect.WithVibrationCommand(cfg.Detection.VibrationCommand),
		detect.WithMetrics(c.metrics),
	}
	if cfg.Detection.LogSize > 0 {
		engineOpts = append(engineOpts, detect.WithLogSize(cfg.Detection.LogSize))
	}
	if c.sink != nil {
		engineOpts = append(engineOpts, detect.WithSink(c))
	}
	c.engine = detect.New(detect.ParseKeywords(cfg.Detection.Keywords), engineOpts...)

	if rc := cfg.Processing.Reconnect; rc.Enabled {
		c.reconnector = session.NewReconnector(session.ReconnectorConfig{
			Target:     c.server,
			MaxRetries: rc.MaxRetries,
			Backoff:    rc.Backoff,
			MaxBackoff: rc.MaxBackoff,
			OnGiveUp: func(ep session.Endpoint, err error) {
				c.notifyAsync(notify.Notification{
					ID:       "server-reconnect",
					Title:    "Processing server unreachable",
					Body:     fmt.Sprintf("gave up reconnecting to %s: %v", ep, err),
					Priority: notify.PriorityDefault,
				})
			},
		})
	}
	if cfg.Bridge.Enabled {
		c.bridge = bridge.NewServer(c.hub)
	}
	return c, nil
}

func newLinkDialer(lc config.LinkConfig) link.Dialer {
	if lc.Transport == config.LinkTCP {
		return link.NetDialer{Timeout: lc.DialTimeout}
	}
	channel := lc.Channel
	if channel == 0 {
		channel = link.DefaultRFCOMMChannel
	}
	return link.RFCOMMDialer{Channel: uint8(channel)}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Hub returns the relay hub shared by all components.
func (c *Coordinator) Hub() *relay.Hub { return c.hub }

// Bridge returns the WebSocket bridge, or nil when bridge.enabled is false.
func (c *Coordinator) Bridge() *bridge.Server { return c.bridge }

// Config returns the active configuration.
func (c *Coordinator) Config() *config.Config { return c.cfg.Load() }

// HealthCheckers returns the readiness checks: the processing server must be
// connected when one is configured, and the detection store must answer.
func (c *Coordinator) HealthCheckers() []health.Checker {
	checks := []health.Checker{
		health.SessionConnected("processing_server", c.server.Status, func() bool {
			return c.cfg.Load().Processing.Host != ""
		}),
	}
	if c.pinger != nil {
		checks = append(checks, health.Ping("store", c.pinger))
	}
	return checks
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig installs a reloaded configuration. Keywords, the vibration
// command, preferences and the log level apply immediately; endpoint
// changes apply to the next connect.
func (c *Coordinator) ApplyConfig(cfg *config.Config, d config.ConfigDiff) {
	c.cfg.Store(cfg)
	if d.LogLevelChanged && c.level != nil {
		c.level.Set(d.NewLogLevel.Level())
	}
	if d.KeywordsChanged {
		c.engine.SetKeywords(detect.ParseKeywords(d.NewKeywords))
	}
	if d.VibrationCommandChanged {
		cmd := cfg.Detection.VibrationCommand
		if cmd == "" {
			cmd = detect.DefaultVibrationCommand
		}
		c.engine.SetVibrationCommand(cmd)
	}
	if d.PreferencesChanged {
		if c.device.Connected() {
			c.sendPreferences()
		}
		c.refreshStatus()
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects every session (flushing an armed recording), waits
// for pending notifications and runs the closers. If ctx expires while
// waiting, the closers still run and the context error is returned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var shutdownErr error
	c.stopOnce.Do(func() {
		slog.Info("shutting down")

		if c.reconnector != nil {
			c.reconnector.Stop()
			c.reconnector.Cancel()
		}
		c.link.Disconnect()
		c.device.Disconnect()
		c.server.Disconnect()
		c.stop()

		done := make(chan struct{})
		go func() {
			c.bg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded waiting for notifications")
			shutdownErr = ctx.Err()
		}

		c.close()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (c *Coordinator) close() {
	for i, closer := range c.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	c.closers = nil
}
