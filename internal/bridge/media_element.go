package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/normanking/talkingavatar/internal/media"
)

// Frontend events driving the <video>/<audio> elements
const (
	EventMediaLoad = "media:load"
	EventMediaPlay = "media:play"
	EventMediaStop = "media:stop"
)

// ErrNotBound is returned before the Wails context is available.
var ErrNotBound = errors.New("frontend not bound")

// Emitter sends an event to the frontend. runtime.EventsEmit in production.
type Emitter func(ctx context.Context, eventName string, optionalData ...interface{})

// FrontendElement is a media.Element backed by an element in the webview.
// Commands go out as Wails events; lifecycle events and play results come
// back through AvatarBridge.
//
// The webview element is reused across turns, so every Load gets a new load
// id that the page echoes with each lifecycle event. Events carrying any
// other id belong to a source that has since been replaced or stopped.
type FrontendElement struct {
	name string
	d    media.Dispatcher

	mu      sync.Mutex
	ctx     context.Context
	emit    Emitter
	nextID  uint64
	pending map[uint64]chan error
	loadID  uint64
}

var _ media.Element = (*FrontendElement)(nil)

// NewFrontendElement creates an element. emit may be nil to use the Wails runtime.
func NewFrontendElement(name string, emit Emitter) *FrontendElement {
	if emit == nil {
		emit = runtime.EventsEmit
	}
	return &FrontendElement{
		name:    name,
		emit:    emit,
		pending: make(map[uint64]chan error),
	}
}

// Bind sets the Wails runtime context
func (e *FrontendElement) Bind(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx = ctx
}

func (e *FrontendElement) Name() string { return e.name }

func (e *FrontendElement) Load(uri string) error {
	e.mu.Lock()
	if e.ctx == nil {
		e.mu.Unlock()
		return ErrNotBound
	}
	ctx := e.ctx
	e.loadID++
	loadID := e.loadID
	e.mu.Unlock()

	e.emit(ctx, EventMediaLoad, map[string]any{"element": e.name, "uri": uri, "loadId": loadID})
	return nil
}

// Play asks the frontend to start playback and waits for its verdict.
func (e *FrontendElement) Play(ctx context.Context) error {
	wctx, err := e.boundCtx()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	result := make(chan error, 1)
	e.pending[id] = result
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	e.emit(wctx, EventMediaPlay, map[string]any{"element": e.name, "id": id})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the element. Events still in flight for the stopped source
// are dropped.
func (e *FrontendElement) Stop() {
	e.mu.Lock()
	if e.ctx == nil {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.loadID++
	e.mu.Unlock()

	e.emit(ctx, EventMediaStop, map[string]any{"element": e.name})
}

func (e *FrontendElement) Subscribe(kind media.EventKind, fn func()) media.Subscription {
	return e.d.Subscribe(kind, fn)
}

// Deliver raises a lifecycle event reported by the frontend for the source
// loaded as loadID. It reports false, without running any handler, when that
// source is no longer the element's current one.
func (e *FrontendElement) Deliver(loadID uint64, kind media.EventKind) (int, bool) {
	e.mu.Lock()
	current := e.loadID
	e.mu.Unlock()
	if loadID == 0 || loadID != current {
		return 0, false
	}
	return e.d.Dispatch(kind), true
}

// LoadID returns the id of the most recent load.
func (e *FrontendElement) LoadID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadID
}

// ResolvePlay completes a pending Play call. Unknown ids are ignored and
// reported as false.
func (e *FrontendElement) ResolvePlay(id uint64, ok bool, reason string) bool {
	e.mu.Lock()
	result, found := e.pending[id]
	e.mu.Unlock()
	if !found {
		return false
	}

	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", media.ErrPlaybackRejected, reason)
	}
	select {
	case result <- err:
	default:
	}
	return true
}

func (e *FrontendElement) boundCtx() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil, ErrNotBound
	}
	return e.ctx, nil
}
