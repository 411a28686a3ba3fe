// Package mediatest provides a scriptable media.Element for tests.
package mediatest

import (
	"context"
	"sync"

	"github.com/normanking/talkingavatar/internal/media"
)

// Element records every call and lets a test fire lifecycle events by hand.
type Element struct {
	name string
	d    media.Dispatcher

	mu       sync.Mutex
	loads    []string
	plays    int
	stops    int
	playErrs []error
}

var _ media.Element = (*Element)(nil)

// New creates a fake element.
func New(name string) *Element {
	return &Element{name: name}
}

func (e *Element) Name() string { return e.name }

func (e *Element) Load(uri string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, uri)
	return nil
}

// Play consumes one queued result, succeeding when none is queued.
func (e *Element) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays++
	if len(e.playErrs) == 0 {
		return nil
	}
	err := e.playErrs[0]
	e.playErrs = e.playErrs[1:]
	return err
}

func (e *Element) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
}

func (e *Element) Subscribe(kind media.EventKind, fn func()) media.Subscription {
	return e.d.Subscribe(kind, fn)
}

// RejectPlays makes the next n Play calls fail with media.ErrPlaybackRejected.
func (e *Element) RejectPlays(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < n; i++ {
		e.playErrs = append(e.playErrs, media.ErrPlaybackRejected)
	}
}

// Fire raises kind and returns how many listeners received it.
func (e *Element) Fire(kind media.EventKind) int {
	return e.d.Dispatch(kind)
}

// Active returns the number of live listeners.
func (e *Element) Active() int {
	return e.d.Active()
}

func (e *Element) Loads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loads...)
}

// LastLoad returns the most recently loaded URI, or "".
func (e *Element) LastLoad() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.loads) == 0 {
		return ""
	}
	return e.loads[len(e.loads)-1]
}

func (e *Element) Plays() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plays
}

func (e *Element) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}
