package event

import (
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// Handler is a function that handles an event.
type Handler func(Event)

// PanicReporter receives handler panics. The default writes nothing; the
// server installs one that logs through the structured logger.
type PanicReporter func(eventType string, recovered any, stack []byte)

type subscription struct {
	id      string
	handler Handler
}

// wildcard is the event type used by SubscribeAll.
const wildcard = "*"

// Bus is a simple synchronous pub-sub event bus.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	onPanic       PanicReporter
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string][]subscription),
	}
}

// SetPanicReporter installs a callback for recovered handler panics.
func (b *Bus) SetPanicReporter(r PanicReporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPanic = r
}

// Subscribe registers a handler for a specific event type and returns an ID
// for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers a handler called for every published event.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			kept := make([]subscription, 0, len(subs)-1)
			kept = append(kept, subs[:i]...)
			kept = append(kept, subs[i+1:]...)
			if len(kept) == 0 {
				delete(b.subscriptions, eventType)
			} else {
				b.subscriptions[eventType] = kept
			}
			return true
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers. Specific handlers
// run first, then wildcard handlers, each group in registration order. A
// panicking handler is recovered and the remaining handlers still run.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	specific := b.subscriptions[event.EventType()]
	all := b.subscriptions[wildcard]
	onPanic := b.onPanic
	b.mu.RUnlock()

	// Slices are replaced, never mutated, on Unsubscribe so iterating the
	// snapshot outside the lock is safe.
	for _, sub := range specific {
		safeCall(sub.handler, event, onPanic)
	}
	for _, sub := range all {
		safeCall(sub.handler, event, onPanic)
	}
}

func safeCall(handler Handler, event Event, onPanic PanicReporter) {
	defer func() {
		if r := recover(); r != nil {
			if onPanic != nil {
				onPanic(event.EventType(), r, debug.Stack())
			}
		}
	}()
	handler(event)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
