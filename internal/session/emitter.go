package session

import (
	"sync"

	"murmur/internal/domain"
)

// Handler receives one session lifecycle event.
type Handler func(domain.Event)

type subscription struct {
	id      int
	handler Handler
}

// Emitter is an explicit observer registry: handlers are registered per
// event kind and invoked synchronously in registration order.
type Emitter struct {
	mu       sync.Mutex
	handlers map[domain.EventKind][]subscription
	nextID   int
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[domain.EventKind][]subscription)}
}

// On registers a handler for one event kind and returns a subscription id
// for Off.
func (e *Emitter) On(kind domain.EventKind, handler Handler) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers[kind] = append(e.handlers[kind], subscription{id: e.nextID, handler: handler})
	return e.nextID
}

// Off removes a previously registered handler.
func (e *Emitter) Off(kind domain.EventKind, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[kind]
	for i, sub := range subs {
		if sub.id == id {
			e.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers the event to every handler registered for its kind. The
// handler list is snapshotted so handlers may subscribe or unsubscribe from
// within a callback.
func (e *Emitter) Emit(event domain.Event) {
	e.mu.Lock()
	subs := append([]subscription(nil), e.handlers[event.Kind]...)
	e.mu.Unlock()

	for _, sub := range subs {
		sub.handler(event)
	}
}
