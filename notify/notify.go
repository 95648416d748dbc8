// Package notify delivers push-style state-change notifications.
//
// Asynchronous state changes (local AI toggles, download completion) are
// announced to interested observers outside the request/response path.
// Subscribers receive events on buffered channels; delivery is
// non-blocking and a slow subscriber drops events rather than stalling
// the publisher.
package notify

import (
	"log/slog"
	"sync"
)

// Notification keys.
const (
	// KeyLocalAIState announces local AI enable/disable changes.
	KeyLocalAIState = "local_ai_state"

	// KeyLocalAIChat announces chat/RAG toggle changes.
	KeyLocalAIChat = "local_ai_chat"

	// KeyDownload announces download task completion or failure.
	KeyDownload = "download"
)

// Event is one notification.
type Event struct {
	// Key routes the event ("local_ai_state", "local_ai_chat", "download").
	Key string

	// Payload carries the event data.
	Payload any
}

// Notifier fans events out to subscribers.
// The zero value is not usable; call NewNotifier.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel.
// buffer bounds how many undelivered events the subscriber can lag by.
func (n *Notifier) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(ch <-chan Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for sub := range n.subs {
		if sub == ch {
			delete(n.subs, sub)
			close(sub)
			return
		}
	}
}

// Publish delivers an event to every subscriber without blocking.
// Events to subscribers with full buffers are dropped.
func (n *Notifier) Publish(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for sub := range n.subs {
		select {
		case sub <- event:
		default:
			slog.Debug("notification dropped, subscriber buffer full",
				slog.String("key", event.Key))
		}
	}
}

// Close removes and closes all subscriber channels.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for sub := range n.subs {
		delete(n.subs, sub)
		close(sub)
	}
}
