package session

import "sync"

// outbox is the outbound FIFO of one connection. It never drops: command
// traffic is small and must arrive in order.
type outbox struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	ready  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{ready: make(chan struct{}, 1)}
}

// push appends b. It reports false once the outbox is closed.
func (o *outbox) push(b []byte) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.items = append(o.items, b)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest item.
func (o *outbox) pop() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return nil, false
	}
	b := o.items[0]
	o.items[0] = nil
	o.items = o.items[1:]
	return b, true
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// close discards pending items and rejects further pushes.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.items = nil
}
