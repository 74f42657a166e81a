// Package mock provides an in-memory [notify.Notifier] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearlink/internal/notify"
)

// Notifier records every notification. Safe for concurrent use.
type Notifier struct {
	mu sync.Mutex

	// NotifyError is returned by Notify.
	NotifyError error

	// Sent records every notification passed to Notify, in order.
	Sent []notify.Notification
}

// Notify implements [notify.Notifier].
func (n *Notifier) Notify(_ context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, note)
	return n.NotifyError
}

// Notifications returns a copy of the recorded notifications.
func (n *Notifier) Notifications() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.Sent...)
}
