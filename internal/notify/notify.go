// Package notify defines the notification shell the relay reports to: a
// persistent status notification plus high-priority alerts for detections.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Priority orders notifications for the shell.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityDefault
	PriorityHigh
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "default"
	}
}

// Notification is one message for the user.
type Notification struct {
	// ID groups updates of the same notification; the status notification
	// reuses one ID so the shell replaces it in place.
	ID       string
	Title    string
	Body     string
	Priority Priority
	Time     time.Time
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a structured logger. It is the default
// shell when no platform integration is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements [Notifier].
func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Priority == PriorityHigh {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "notification",
		"id", n.ID,
		"title", n.Title,
		"body", n.Body,
		"priority", n.Priority.String(),
	)
	return nil
}
