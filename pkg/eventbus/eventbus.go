package eventbus

import (
	"sync"
)

// Handler handles one event.
type Handler[T any] func(event T)

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// EventBus provides typed in-process pub/sub.
type EventBus[T any] struct {
	handlers []subscription[T]
	nextID   uint64
	mu       sync.RWMutex
}

// New creates a new EventBus
func New[T any]() *EventBus[T] {
	return &EventBus[T]{}
}

// Subscribe registers a handler and returns a function that removes it.
func (e *EventBus[T]) Subscribe(handler Handler[T]) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, subscription[T]{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *EventBus[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := make([]subscription[T], 0, len(e.handlers))
	for _, s := range e.handlers {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	e.handlers = kept
}

func (e *EventBus[T]) snapshot() []subscription[T] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers
}

// Publish delivers the event to every subscriber on its own goroutine.
// Delivery order across events is not preserved.
func (e *EventBus[T]) Publish(event T) {
	for _, s := range e.snapshot() {
		go s.handler(event)
	}
}

// PublishSync delivers the event to every subscriber in subscription order
// before returning, so subscribers observe events in publish order.
func (e *EventBus[T]) PublishSync(event T) {
	for _, s := range e.snapshot() {
		s.handler(event)
	}
}

// HasSubscribers returns true if anyone is subscribed.
func (e *EventBus[T]) HasSubscribers() bool {
	return e.SubscriberCount() > 0
}

// SubscriberCount returns the number of subscribers.
func (e *EventBus[T]) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}
