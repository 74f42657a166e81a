package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Connector is a session that can be (re)connected to an endpoint.
type Connector interface {
	Connect(ctx context.Context, ep Endpoint) error
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Target is the session to reconnect.
	Target Connector

	// MaxRetries is the number of attempts per outage. Defaults to 10.
	MaxRetries int

	// Backoff is the initial pause between attempts. It doubles after each
	// failure up to MaxBackoff. Defaults to 1s.
	Backoff time.Duration

	// MaxBackoff caps the pause. Defaults to 30s.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful attempt. May be nil.
	OnReconnect func(Endpoint)

	// OnGiveUp is called when every attempt failed. May be nil.
	OnGiveUp func(Endpoint, error)
}

// Reconnector re-dials a session after it dropped for any reason other than
// a user request.
//
// The owner calls [Reconnector.NotifyDisconnect] from the session's teardown
// callback; a background goroutine started by [Reconnector.Monitor] then
// retries with exponential backoff. [Reconnector.Cancel] abandons the current
// outage, e.g. when the user disconnects or connects elsewhere.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	target      Connector
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(Endpoint)
	onGiveUp    func(Endpoint, error)

	mu      sync.Mutex
	pending *Endpoint
	gen     uint64

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}
}

// NewReconnector creates a [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		target:       cfg.Target,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		onGiveUp:     cfg.OnGiveUp,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Monitor starts the retry goroutine. It exits when ctx is done or Stop is
// called.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect schedules reconnection to ep. A newer notification
// supersedes one still being retried.
func (r *Reconnector) NotifyDisconnect(ep Endpoint) {
	r.mu.Lock()
	r.pending = &ep
	r.gen++
	r.mu.Unlock()

	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Cancel abandons any outage being retried.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	r.pending = nil
	r.gen++
	r.mu.Unlock()
}

// Stop halts monitoring. Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// Retrying reports whether an outage is currently being retried.
func (r *Reconnector) Retrying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// current returns the endpoint for generation gen, or false once the outage
// was cancelled or superseded.
func (r *Reconnector) current(gen uint64) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen || r.pending == nil {
		return Endpoint{}, false
	}
	return *r.pending, true
}

func (r *Reconnector) attemptReconnect(ctx context.Context) {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	currentBackoff := r.backoff
	var lastErr error
	var ep Endpoint

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		var ok bool
		if ep, ok = r.current(gen); !ok {
			return
		}

		slog.Info("attempting reconnection",
			"remote", ep.String(),
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		lastErr = r.target.Connect(ctx, ep)
		if lastErr == nil {
			r.mu.Lock()
			if r.gen == gen {
				r.pending = nil
			}
			r.mu.Unlock()

			slog.Info("reconnection successful", "remote", ep.String(), "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(ep)
			}
			return
		}

		slog.Warn("reconnection attempt failed",
			"remote", ep.String(),
			"attempt", attempt,
			"err", lastErr,
		)

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	r.mu.Lock()
	if r.gen == gen {
		r.pending = nil
	}
	r.mu.Unlock()

	slog.Error("reconnection failed after max retries",
		"remote", ep.String(),
		"max_retries", r.maxRetries,
	)
	if r.onGiveUp != nil {
		r.onGiveUp(ep, lastErr)
	}
}
