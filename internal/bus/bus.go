// Package bus implements a lightweight in-process publish/subscribe bus.
//
// The core uses it for the two kinds of cross-component signaling that must
// not become direct references: mutual audio exclusion between the playback
// engine and any competing audio source, and "data changed" notifications the
// sync engine observes to schedule pushes.
package bus

import (
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

// Event types published by the core.
const (
	// EventBookCreated fires after a book is persisted.
	EventBookCreated EventType = "book.created"
	// EventBookDeleted fires after a book and its cached audio are removed.
	EventBookDeleted EventType = "book.deleted"
	// EventProgressUpdated fires on every progress write.
	EventProgressUpdated EventType = "progress.updated"
	// EventBookmarkCreated fires after a bookmark is persisted.
	EventBookmarkCreated EventType = "bookmark.created"
	// EventBookmarkDeleted fires after a bookmark is removed.
	EventBookmarkDeleted EventType = "bookmark.deleted"
	// EventPreferencesUpdated fires when voice or speed preferences change.
	EventPreferencesUpdated EventType = "preferences.updated"

	// EventAudioClaimed announces that a component is about to produce audio.
	// Every other audio-producing subscriber must stop when it sees a claim
	// that is not its own.
	EventAudioClaimed EventType = "audio.claimed"

	// EventAppBackgrounded and EventAppForegrounded mirror host visibility
	// changes. Backgrounding flushes progress and forces pending sync pushes;
	// foregrounding retries a playback session stuck on a synthesis failure.
	EventAppBackgrounded EventType = "app.backgrounded"
	EventAppForegrounded EventType = "app.foregrounded"
)

// Event is a published notification.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	// Source identifies the publisher for events where subscribers must
	// distinguish their own events (audio claims).
	Source string `json:"source,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Publisher is the write side of the bus. Components that only emit events
// depend on this interface, not on the concrete bus.
type Publisher interface {
	Publish(event Event)
}

// NoopPublisher discards all events. Useful in tests.
type NoopPublisher struct{}

// Publish implements Publisher as a no-op.
func (NoopPublisher) Publish(Event) {}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

type subscription struct {
	types   map[EventType]bool // nil means all types
	handler Handler
}

// Bus is an in-process event bus. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]subscription
	nextID int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers a handler for the given event types. An empty type list
// subscribes to everything. The returned function removes the subscription;
// it is safe to call more than once.
func (b *Bus) Subscribe(handler Handler, types ...EventType) (unsubscribe func()) {
	var filter map[EventType]bool
	if len(types) > 0 {
		filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{types: filter, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to all matching subscribers. Handlers run on the
// caller's goroutine; delivery order across subscribers is unspecified.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Snapshot handlers so a handler can unsubscribe without deadlocking.
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.types == nil || sub.types[event.Type] {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
