// Package bus routes notifications to the focused overlay.
//
// Delivery is at most once and best effort: a notification is handed to the
// single focused recipient without blocking, and is dropped when no recipient
// is focused or the recipient cannot take it. There are no retries and no
// queueing beyond the recipient's own buffer.
package bus

import (
	"io"
	"log/slog"
	"sync"

	"github.com/robertmeta/podcatch/model"
)

// Recipient accepts notifications without blocking.
// The returned channel yields the recipient's acknowledgement once handled.
type Recipient interface {
	Deliver(n model.Notification) (<-chan int, bool)
}

// Bus tracks registered recipients and which one is focused, like the
// active tab of a browser window.
type Bus struct {
	mu         sync.Mutex
	recipients map[string]Recipient
	focused    string
	logger     *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		recipients: make(map[string]Recipient),
		logger:     logger.With(slog.String("component", "bus")),
	}
}

// Register adds a recipient under id. The first registered recipient
// becomes focused.
func (b *Bus) Register(id string, r Recipient) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recipients[id] = r
	if b.focused == "" {
		b.focused = id
	}
}

// Unregister removes a recipient. If it was focused, nothing is focused
// afterwards.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.recipients, id)
	if b.focused == id {
		b.focused = ""
	}
}

// Focus makes id the recipient of future notifications.
// It returns false if id is not registered.
func (b *Bus) Focus(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.recipients[id]; !ok {
		return false
	}
	b.focused = id
	return true
}

// Focused returns the id of the focused recipient, or "".
func (b *Bus) Focused() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.focused
}

// Send hands n to the focused recipient. It reports false when the
// notification was dropped.
func (b *Bus) Send(n model.Notification) (<-chan int, bool) {
	b.mu.Lock()
	r, ok := b.recipients[b.focused]
	target := b.focused
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("no focused recipient, notification dropped",
			slog.String("notification_id", n.ID),
			slog.String("type", string(n.Type)))
		return nil, false
	}

	reply, delivered := r.Deliver(n)
	if !delivered {
		b.logger.Debug("recipient unavailable, notification dropped",
			slog.String("notification_id", n.ID),
			slog.String("type", string(n.Type)),
			slog.String("page", target))
		return nil, false
	}
	return reply, true
}
