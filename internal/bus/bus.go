// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

const (
	// Session (request orchestrator) events
	EventTypeSessionChanged  EventType = "session.changed"
	EventTypeRequestStarted  EventType = "session.request_started"
	EventTypeRequestFailed   EventType = "session.request_failed"
	EventTypeResponseReady   EventType = "session.response_ready"
	EventTypeResponseDropped EventType = "session.response_dropped"

	// Capture events
	EventTypeTranscript   EventType = "capture.transcript"
	EventTypeCaptureError EventType = "capture.error"

	// Playback events
	EventTypePlaybackChanged EventType = "playback.changed"
	EventTypeTurnStarted     EventType = "playback.turn_started"
	EventTypeStaleMedia      EventType = "playback.stale_event"

	// App lifecycle. Shutdown is published with PublishSync so handlers
	// finish before components are closed.
	EventTypeShutdown EventType = "app.shutdown"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// Unsubscribe removes a handler registered with Subscribe
type Unsubscribe func()

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventType]map[uint64]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType]map[uint64]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[eventType], id)
			b.mu.Unlock()
		})
	}
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) Unsubscribe {
	unsubs := make([]Unsubscribe, 0, len(eventTypes))
	for _, et := range eventTypes {
		unsubs = append(unsubs, b.Subscribe(et, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish sends an event to all subscribed handlers without waiting
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	var wg sync.WaitGroup
	for _, handler := range b.snapshot(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType]map[uint64]Handler)
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := make([]Handler, 0, len(b.handlers[eventType]))
	for _, h := range b.handlers[eventType] {
		handlers = append(handlers, h)
	}
	return handlers
}
