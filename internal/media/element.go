// Package media defines the contract for audio/video elements driven by the
// playback controller, and the registry of the current turn's asset references.
package media

import (
	"context"
	"errors"
	"sync"
)

// EventKind names a lifecycle event raised by an element
type EventKind string

const (
	EventReady EventKind = "ready" // enough data buffered to start without stalling
	EventEnded EventKind = "ended"
	EventError EventKind = "error" // the source failed to load or decode
)

// ErrPlaybackRejected is returned by Play when the platform refuses to start
// playback, typically an autoplay policy.
var ErrPlaybackRejected = errors.New("playback rejected")

// Subscription is a live event listener. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Element is one audio or video surface.
//
// Implementations must never invoke subscribed handlers synchronously from
// inside Load, Play, Stop or Subscribe; callers hold locks across those calls.
type Element interface {
	Name() string
	Load(uri string) error
	Play(ctx context.Context) error
	Stop()
	Subscribe(kind EventKind, fn func()) Subscription
}

// Dispatcher is a reusable listener table for Element implementations.
type Dispatcher struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[EventKind]map[uint64]func()
}

// Subscribe registers fn for kind.
func (d *Dispatcher) Subscribe(kind EventKind, fn func()) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.subs == nil {
		d.subs = make(map[EventKind]map[uint64]func())
	}
	if d.subs[kind] == nil {
		d.subs[kind] = make(map[uint64]func())
	}
	d.nextID++
	id := d.nextID
	d.subs[kind][id] = fn

	return &subscription{remove: func() {
		d.mu.Lock()
		delete(d.subs[kind], id)
		d.mu.Unlock()
	}}
}

// Dispatch runs every handler registered for kind and reports how many ran.
// Handlers run outside the dispatcher lock so they may unsubscribe.
func (d *Dispatcher) Dispatch(kind EventKind) int {
	d.mu.Lock()
	handlers := make([]func(), 0, len(d.subs[kind]))
	for _, fn := range d.subs[kind] {
		handlers = append(handlers, fn)
	}
	d.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
	return len(handlers)
}

// Active returns the number of live listeners across all kinds.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, m := range d.subs {
		n += len(m)
	}
	return n
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.remove)
}
