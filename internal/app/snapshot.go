package app

import (
	"strings"
	"time"

	"github.com/MrWong99/hearlink/internal/config"
	"github.com/MrWong99/hearlink/internal/detect"
	"github.com/MrWong99/hearlink/internal/notify"
	"github.com/MrWong99/hearlink/internal/relay"
	"github.com/MrWong99/hearlink/internal/session"
)

// StatusNotificationID is the ID of the persistent status notification.
const StatusNotificationID = "hearlink-status"

// Snapshot is the observable state at one instant. Logs are newest first.
type Snapshot struct {
	Device session.Status
	Server session.Status
	Link   session.Status

	Recording     bool
	RecordedBytes int
	Reconnecting  bool

	Keywords         []string
	VibrationCommand string
	Detections       []detect.Event
	Messages         []relay.Message

	BridgeClients int
	Preferences   config.Preferences
	Time          time.Time
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	s := Snapshot{
		Device:           c.device.Status(),
		Server:           c.server.Status(),
		Link:             c.link.Status(),
		Recording:        c.recorder.Armed(),
		RecordedBytes:    c.recorder.Buffered(),
		Keywords:         c.engine.Keywords().Words(),
		VibrationCommand: c.engine.VibrationCommand(),
		Detections:       c.engine.Recent(),
		Messages:         c.messages.Snapshot(),
		Preferences:      c.cfg.Load().Preferences,
		Time:             time.Now(),
	}
	if c.reconnector != nil {
		s.Reconnecting = c.reconnector.Retrying()
	}
	if c.bridge != nil {
		s.BridgeClients = len(c.bridge.Clients())
	}
	return s
}

// RenderNotification builds the status notification for s: a short title
// and one body line per peer, plus the latest detection.
func RenderNotification(s Snapshot) notify.Notification {
	var title string
	switch device, server := s.Device.State == session.Connected, s.Server.State == session.Connected; {
	case device && server:
		title = "Relaying audio"
	case device:
		title = "Device connected"
	case server:
		title = "Server connected"
	case s.Link.State == session.Connected:
		title = "Link connected"
	default:
		title = "Not connected"
	}
	if s.Recording {
		title += " (recording)"
	}

	lines := []string{s.Device.String(), s.Server.String()}
	if s.Link.State != session.Idle || s.Link.Reason != "" {
		lines = append(lines, s.Link.String())
	}
	if s.Reconnecting {
		lines = append(lines, "reconnecting to server")
	}
	if len(s.Detections) > 0 {
		lines = append(lines, "last detection: "+s.Detections[0].Description)
	}

	return notify.Notification{
		ID:       StatusNotificationID,
		Title:    title,
		Body:     strings.Join(lines, "\n"),
		Priority: notify.PriorityLow,
		Time:     s.Time,
	}
}
