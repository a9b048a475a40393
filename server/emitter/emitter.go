// Package emitter implements an explicit event dispatch table: a mapping
// from event kind to an ordered list of subscribed handlers, with on,
// once and off semantics implemented as plain list operations under a
// mutex. There is no global registry; each component owns its emitter.
package emitter

import "sync"

// Event tags a kind of event.
type Event string

// Handler receives the payload passed to Emit.
type Handler func(payload interface{})

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	event Event
	id    uint64
}

type registration struct {
	id      uint64
	handler Handler
	once    bool
}

// Emitter dispatches events to subscribed handlers in registration
// order. Handlers run synchronously on the emitting goroutine.
type Emitter struct {
	mu     sync.Mutex
	nextID uint64
	events map[Event][]registration
}

func New() *Emitter {
	return &Emitter{
		events: map[Event][]registration{},
	}
}

// On registers handler for event. Multiple handlers per event are
// permitted and are invoked in registration order.
func (e *Emitter) On(event Event, handler Handler) Subscription {
	return e.subscribe(event, handler, false)
}

// Once registers handler for event and removes it after the first
// invocation.
func (e *Emitter) Once(event Event, handler Handler) Subscription {
	return e.subscribe(event, handler, true)
}

func (e *Emitter) subscribe(event Event, handler Handler, once bool) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++

	e.events[event] = append(e.events[event], registration{
		id:      e.nextID,
		handler: handler,
		once:    once,
	})

	return Subscription{event: event, id: e.nextID}
}

// Off removes the handler identified by sub. Removing an already-removed
// subscription is a no-op.
func (e *Emitter) Off(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.events[sub.event]

	for i, reg := range regs {
		if reg.id == sub.id {
			e.events[sub.event] = append(regs[:i:i], regs[i+1:]...)

			break
		}
	}

	if len(e.events[sub.event]) == 0 {
		delete(e.events, sub.event)
	}
}

// Emit invokes all handlers registered for event, in registration order.
// Once-handlers are unregistered before their invocation so that a
// handler emitting the same event recursively will not run twice.
func (e *Emitter) Emit(event Event, payload interface{}) {
	e.mu.Lock()

	regs := e.events[event]
	handlers := make([]Handler, len(regs))
	remaining := regs[:0:0]

	for i, reg := range regs {
		handlers[i] = reg.handler

		if !reg.once {
			remaining = append(remaining, reg)
		}
	}

	if len(remaining) == 0 {
		delete(e.events, event)
	} else {
		e.events[event] = remaining
	}

	e.mu.Unlock()

	for _, handler := range handlers {
		handler(payload)
	}
}

// RemoveAll unregisters every handler for every event.
func (e *Emitter) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = map[Event][]registration{}
}
