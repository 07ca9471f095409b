// Package events carries in-process notifications from the memory store and
// the retrieval engine to whoever wants to observe them.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	QueryStart     Type = "query_start"
	HopExpanded    Type = "hop_expanded"
	QueryComplete  Type = "query_complete"
	QueryError     Type = "query_error"
	GuardViolation Type = "guard_violation"
	SlotWritten    Type = "slot_written"
	SlotEvicted    Type = "slot_evicted"
	SlotForgotten  Type = "slot_forgotten"
	NodeRemoved    Type = "node_removed"
)

// Event is a single notification. QueryID is empty for events raised outside
// a query, e.g. a direct memory write.
type Event struct {
	Type      Type
	Timestamp time.Time
	QueryID   string
	Data      map[string]any
}

// Handler receives published events.
type Handler func(Event)

// Publisher is the narrow interface stores depend on.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine, outside the bus lock.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[Type][]Handler
	allHandlers []Handler
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, h)
}

// Publish delivers e to the type's handlers, then to the catch-all handlers.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	specific := b.handlers[e.Type]
	all := b.allHandlers
	b.mu.RUnlock()

	for _, h := range specific {
		h(e)
	}
	for _, h := range all {
		h(e)
	}
}

// PublishWithData is shorthand for Publish(Event{...}).
func (b *Bus) PublishWithData(t Type, queryID string, data map[string]any) {
	b.Publish(Event{Type: t, QueryID: queryID, Data: data})
}
