package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearlink/internal/bridge"
	"github.com/MrWong99/hearlink/internal/detect"
	"github.com/MrWong99/hearlink/internal/link"
	"github.com/MrWong99/hearlink/internal/notify"
	"github.com/MrWong99/hearlink/internal/recording"
	"github.com/MrWong99/hearlink/internal/relay"
	"github.com/MrWong99/hearlink/internal/session"
)

// Run drives the relay until ctx is done or Shutdown is called: one pump per
// hub channel, the link event consumer, and the optional reconnector, config
// watcher and broker forwarder. Messages are only relayed while Run is
// active.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(c.life, cancel)
	defer stopAfter()

	up, err := c.hub.Subscribe(ctx, relay.DeviceToServer)
	if err != nil {
		return fmt.Errorf("app: subscribe: %w", err)
	}
	down, err := c.hub.Subscribe(ctx, relay.ServerToDevice)
	if err != nil {
		return fmt.Errorf("app: subscribe: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { c.pumpUp(up); return nil })
	g.Go(func() error { c.pumpDown(down); return nil })
	g.Go(func() error { return c.consumeLink(gctx) })
	if c.reconnector != nil {
		c.reconnector.Monitor(gctx)
	}
	if c.watcher != nil {
		g.Go(func() error { return c.watcher.Watch(gctx) })
	}
	if c.publisher != nil {
		g.Go(func() error {
			return bridge.Forward(gctx, c.hub, relay.DeviceToServer, c.publisher, c.topic)
		})
	}

	slog.Info("relay running",
		"reconnect", c.reconnector != nil,
		"bridge", c.bridge != nil,
		"publisher", c.publisher != nil,
	)
	return g.Wait()
}

// pumpUp relays device→server text to the server session. Device audio
// reaches the server directly from onDeviceAudio and is only observed here.
func (c *Coordinator) pumpUp(msgs <-chan relay.Message) {
	for m := range msgs {
		if m.IsAudio() {
			continue
		}
		c.messages.Add(m)
		if !c.server.Connected() {
			continue
		}
		if err := c.server.Send(m.Text); err != nil {
			slog.Debug("app: message not relayed to server", "index", m.Index, "err", err)
		}
	}
}

// pumpDown relays server→device text to the direct link.
func (c *Coordinator) pumpDown(msgs <-chan relay.Message) {
	for m := range msgs {
		if m.IsAudio() {
			continue
		}
		c.messages.Add(m)
		if !c.link.Connected() {
			continue
		}
		if err := c.link.Write(m.Text); err != nil {
			slog.Warn("app: relay to link failed", "index", m.Index, "err", err)
		}
	}
}

// consumeLink handles the link session's event stream.
func (c *Coordinator) consumeLink(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.link.Events():
			switch ev.Kind {
			case link.EventLine:
				if err := c.hub.PublishText(ctx, relay.DeviceToServer, ev.Line); err != nil {
					slog.Debug("app: link line not relayed", "err", err)
				}
				c.engine.Process(ctx, ev.Line)
			case link.EventConnected, link.EventDisconnected:
				c.refreshStatus()
			case link.EventError:
				slog.Warn("app: link error", "status", ev.Status.String(), "err", ev.Err)
			}
		}
	}
}

// ─── Session callbacks ───────────────────────────────────────────────────────

// onDeviceAudio runs on the device loop and must never wait on a consumer:
// the server gets the chunk through its own queue and hub subscribers only
// when they have room.
func (c *Coordinator) onDeviceAudio(b []byte) {
	c.recorder.Append(b)
	if c.server.Connected() {
		if err := c.server.SendAudio(b); err != nil {
			slog.Debug("app: device audio not relayed", "err", err)
		}
	}
	msg := relay.Message{Direction: relay.DeviceToServer, Data: b}
	if missed, err := c.hub.Offer(c.life, msg); err != nil || missed > 0 {
		slog.Debug("app: device audio skipped by hub subscribers", "missed", missed, "err", err)
	}
}

func (c *Coordinator) onDeviceState(st session.Status) {
	if st.State == session.Connected {
		c.sendPreferences()
	}
	c.refreshStatus()
}

// onDeviceTeardown flushes a recording that was still armed when the device
// went away.
func (c *Coordinator) onDeviceTeardown(session.Status) {
	if c.recorder.Armed() {
		res, err := c.recorder.Stop(context.WithoutCancel(c.life))
		c.reportRecording(res, err)
	}
	c.refreshStatus()
}

// onServerLine runs on the server receive goroutine. ctx ends with the
// connection, so a stalled hub subscriber cannot hold up a disconnect.
func (c *Coordinator) onServerLine(ctx context.Context, line string) {
	if err := c.hub.PublishText(ctx, relay.ServerToDevice, line); err != nil {
		slog.Debug("app: server line not relayed", "err", err)
	}
	c.engine.Process(ctx, line)
}

// onServerTeardown schedules a reconnect unless the user asked to disconnect.
func (c *Coordinator) onServerTeardown(st session.Status) {
	if c.reconnector != nil && st.Reason != session.ReasonUserRequested {
		if ep := c.serverTarget.Load(); ep != nil {
			c.reconnector.NotifyDisconnect(*ep)
		}
	}
	c.refreshStatus()
}

// ─── Notifications ───────────────────────────────────────────────────────────

// Alert implements [detect.Alerter].
func (c *Coordinator) Alert(_ context.Context, ev detect.Event) {
	c.notifyAsync(notify.Notification{
		ID:       fmt.Sprintf("detection-%d", ev.Time.UnixNano()),
		Title:    "Sound detected",
		Body:     ev.Description,
		Priority: notify.PriorityHigh,
		Time:     ev.Time,
	})
}

// SaveDetection implements [detect.EventSink]. The store write happens on a
// short-lived goroutine tracked for Shutdown; failures are logged there.
func (c *Coordinator) SaveDetection(_ context.Context, ev detect.Event) error {
	ctx := context.WithoutCancel(c.life)
	c.bg.Go(func() {
		if err := c.sink.SaveDetection(ctx, ev); err != nil {
			slog.Warn("app: failed to persist detection", "description", ev.Description, "err", err)
		}
	})
	return nil
}

func (c *Coordinator) reportRecording(res *recording.Result, err error) {
	switch {
	case err != nil:
		slog.Warn("app: recording not saved", "err", err)
		body := err.Error()
		if errors.Is(err, recording.ErrNothingRecorded) {
			body = "nothing recorded"
		}
		c.notifyAsync(notify.Notification{
			ID:       "recording",
			Title:    "Recording failed",
			Body:     body,
			Priority: notify.PriorityDefault,
		})
	case res != nil:
		slog.Info("recording saved", "name", res.Name, "bytes", res.Bytes, "duration", res.Duration)
		c.notifyAsync(notify.Notification{
			ID:       "recording",
			Title:    "Recording saved",
			Body:     fmt.Sprintf("%s (%s)", res.Name, res.Duration.Round(100*time.Millisecond)),
			Priority: notify.PriorityDefault,
		})
	}
}

// refreshStatus re-renders the persistent status notification when
// background execution is enabled.
func (c *Coordinator) refreshStatus() {
	if !c.cfg.Load().Preferences.BackgroundExecution {
		return
	}
	c.notifyAsync(RenderNotification(c.Snapshot()))
}

// notifyAsync delivers n from a short-lived goroutine tracked for Shutdown.
func (c *Coordinator) notifyAsync(n notify.Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	ctx := context.WithoutCancel(c.life)
	c.bg.Go(func() {
		if err := c.notifier.Notify(ctx, n); err != nil {
			slog.Warn("app: notification failed", "id", n.ID, "title", n.Title, "err", err)
		}
	})
}
