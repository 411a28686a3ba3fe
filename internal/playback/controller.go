package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/metrics"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("playback controller closed")

// Options configures a Controller
type Options struct {
	IdleURI     string
	Retry       RetryPolicy
	PlayTimeout time.Duration
	Registry    *media.Registry // optional
	Bus         *bus.EventBus   // optional
	Logger      zerolog.Logger
}

// Controller is the playback state machine.
//
// Every transition happens under mu, including detaching the previous turn's
// listeners and attaching the next turn's, so at most one response element
// has live listeners at any instant. Listeners carry the handle they were
// attached for and are ignored once that handle is no longer current.
// Observers are notified outside the lock; Snapshot.Version orders them.
type Controller struct {
	elems       Elements
	idleURI     string
	playTimeout time.Duration
	registry    *media.Registry
	bus         *bus.EventBus
	log         zerolog.Logger

	mu        sync.Mutex
	state     State
	current   *handle
	version   uint64
	changedAt time.Time
	idleEpoch uint64
	retry     RetryPolicy
	closed    bool

	onStateChange func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller in the Idle state. Call Start to begin
// the idle loop.
func NewController(elems Elements, opts Options) *Controller {
	if opts.PlayTimeout <= 0 {
		opts.PlayTimeout = 10 * time.Second
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		elems:       elems,
		idleURI:     opts.IdleURI,
		playTimeout: opts.PlayTimeout,
		registry:    opts.Registry,
		bus:         opts.Bus,
		log:         opts.Logger.With().Str("component", "playback").Logger(),
		state:       StateIdle,
		changedAt:   time.Now(),
		retry:       opts.Retry.normalized(),
		ctx:         ctx,
		cancel:      cancel,
	}
	metrics.SetPlaybackState(string(StateIdle), stateNames())
	return c
}

// SetStateHandler sets the callback for state changes
func (c *Controller) SetStateHandler(handler func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = handler
}

// SetRetryPolicy replaces the autoplay retry policy for future attempts.
func (c *Controller) SetRetryPolicy(p RetryPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = p.normalized()
}

// Start loads the idle loop and plays it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.elems.Idle.Load(c.idleURI); err != nil {
		return err
	}
	c.log.Info().Str("uri", c.idleURI).Msg("idle loop loaded")
	c.resumeIdleLocked()
	return nil
}

// StartTurn supersedes whatever is playing with the given turn's media.
// A turn with a video goes to LoadingResponse, audio only goes to
// PlayingAudioOnly, and a turn with neither returns to Idle.
func (c *Controller) StartTurn(turnID uint64, refs media.Refs) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	prev := c.state
	c.teardownLocked()
	if c.registry != nil {
		c.registry.Replace(refs)
	}

	kind := "none"
	switch {
	case refs.Video != "" && c.bindVideoLocked(turnID, refs):
		kind = "video"
	case refs.Audio != "" && c.bindAudioLocked(turnID, refs):
		kind = "audio"
	default:
		c.state = StateIdle
	}
	if !prev.IdleVisible() && c.state.IdleVisible() {
		c.resumeIdleLocked()
	}
	snap := c.commitLocked()
	c.mu.Unlock()

	metrics.Turns.WithLabelValues(kind).Inc()
	c.log.Info().
		Uint64("turn", turnID).
		Str("media", kind).
		Str("from", prev.String()).
		Str("to", snap.State.String()).
		Msg("turn started")
	c.publish(bus.EventTypeTurnStarted, map[string]any{
		"turn":  turnID,
		"media": kind,
		"state": string(snap.State),
	})
	c.notify(snap)
}

// Interrupt stops the current turn and returns to Idle. It reports whether
// a turn was active.
func (c *Controller) Interrupt() bool {
	c.mu.Lock()
	if c.closed || c.current == nil {
		c.mu.Unlock()
		return false
	}
	turn := c.current.turn
	prev := c.state
	c.teardownLocked()
	c.state = StateIdle
	if !prev.IdleVisible() {
		c.resumeIdleLocked()
	}
	snap := c.commitLocked()
	c.mu.Unlock()

	c.log.Info().Uint64("turn", turn).Msg("turn interrupted")
	c.notify(snap)
	return true
}

// Snapshot returns the current state without changing it.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close detaches every listener and cancels pending playback retries.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.teardownLocked()
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Controller) bindVideoLocked(turnID uint64, refs media.Refs) bool {
	el := c.elems.Video
	if err := el.Load(refs.Video); err != nil {
		c.log.Warn().Err(err).Uint64("turn", turnID).Msg("response video failed to load")
		return false
	}
	h := &handle{turn: turnID, refs: refs, element: el}
	h.subs = []media.Subscription{
		el.Subscribe(media.EventReady, func() { c.handleEvent(h, media.EventReady) }),
		el.Subscribe(media.EventEnded, func() { c.handleEvent(h, media.EventEnded) }),
		el.Subscribe(media.EventError, func() { c.handleEvent(h, media.EventError) }),
	}
	c.current = h
	c.state = StateLoadingResponse
	return true
}

func (c *Controller) bindAudioLocked(turnID uint64, refs media.Refs) bool {
	el := c.elems.Audio
	if err := el.Load(refs.Audio); err != nil {
		c.log.Warn().Err(err).Uint64("turn", turnID).Msg("response audio failed to load")
		return false
	}
	h := &handle{turn: turnID, refs: refs, element: el}
	h.subs = []media.Subscription{
		el.Subscribe(media.EventEnded, func() { c.handleEvent(h, media.EventEnded) }),
		el.Subscribe(media.EventError, func() { c.handleEvent(h, media.EventError) }),
	}
	c.current = h
	c.state = StatePlayingAudioOnly
	c.playLocked(el, func() bool { return c.current == h })
	return true
}

// handleEvent applies one element event for handle h.
func (c *Controller) handleEvent(h *handle, kind media.EventKind) {
	c.mu.Lock()
	if c.closed || c.current != h {
		c.mu.Unlock()
		metrics.StaleMediaEvents.WithLabelValues(string(kind)).Inc()
		c.log.Debug().
			Uint64("turn", h.turn).
			Str("element", h.element.Name()).
			Str("event", string(kind)).
			Msg("ignoring event from superseded turn")
		c.publish(bus.EventTypeStaleMedia, map[string]any{
			"turn":  h.turn,
			"event": string(kind),
		})
		return
	}

	prev := c.state
	switch kind {
	case media.EventReady:
		if prev != StateLoadingResponse {
			c.mu.Unlock()
			return
		}
		c.state = StatePlayingResponseVideo
		c.playLocked(h.element, func() bool { return c.current == h })

	case media.EventEnded:
		c.teardownLocked()
		c.state = StateIdle

	case media.EventError:
		c.log.Warn().
			Uint64("turn", h.turn).
			Str("element", h.element.Name()).
			Msg("response media failed")
		fallback := h.element == c.elems.Video && h.refs.Audio != ""
		c.teardownLocked()
		if !fallback || !c.bindAudioLocked(h.turn, media.Refs{Audio: h.refs.Audio}) {
			c.state = StateIdle
		}
	}

	if !prev.IdleVisible() && c.state.IdleVisible() {
		c.resumeIdleLocked()
	}
	snap := c.commitLocked()
	c.mu.Unlock()

	c.log.Debug().
		Uint64("turn", h.turn).
		Str("event", string(kind)).
		Str("from", prev.String()).
		Str("to", snap.State.String()).
		Msg("transition")
	c.notify(snap)
}

// teardownLocked detaches and stops the current handle, if any.
func (c *Controller) teardownLocked() {
	if c.current == nil {
		return
	}
	c.current.detach()
	c.current.element.Stop()
	c.current = nil
}

// resumeIdleLocked starts the idle loop. Older idle attempts stop retrying.
func (c *Controller) resumeIdleLocked() {
	c.idleEpoch++
	epoch := c.idleEpoch
	c.playLocked(c.elems.Idle, func() bool {
		return c.idleEpoch == epoch && c.state.IdleVisible()
	})
}

// playLocked runs a bounded play-with-retry on its own goroutine. stillWanted
// is evaluated under mu before every attempt.
func (c *Controller) playLocked(el media.Element, stillWanted func() bool) {
	if c.closed {
		return
	}
	policy := c.retry
	c.wg.Add(1)
	go c.runPlay(el, policy, stillWanted)
}

func (c *Controller) runPlay(el media.Element, policy RetryPolicy, stillWanted func() bool) {
	defer c.wg.Done()

	for attempt := 1; ; attempt++ {
		c.mu.Lock()
		wanted := !c.closed && stillWanted()
		c.mu.Unlock()
		if !wanted {
			return
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.playTimeout)
		err := el.Play(ctx)
		cancel()
		if err == nil {
			return
		}
		if attempt >= policy.MaxAttempts {
			metrics.PlayGiveUps.WithLabelValues(el.Name()).Inc()
			c.log.Debug().Err(err).Str("element", el.Name()).Int("attempts", attempt).
				Msg("playback not started, waiting for user gesture")
			return
		}

		metrics.PlayRetries.WithLabelValues(el.Name()).Inc()
		c.log.Debug().Err(err).Str("element", el.Name()).Dur("delay", policy.Delay).Msg("playback rejected, retrying")
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(policy.Delay):
		}
	}
}

// commitLocked records a transition and returns the snapshot to publish.
func (c *Controller) commitLocked() Snapshot {
	c.version++
	c.changedAt = time.Now()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:                c.state,
		IdleURI:              c.idleURI,
		Version:              c.version,
		ChangedAt:            c.changedAt,
		IdleVisible:          c.state.IdleVisible(),
		ResponseVideoVisible: c.state == StatePlayingResponseVideo,
		Loading:              c.state == StateLoadingResponse,
		AudioOnly:            c.state == StatePlayingAudioOnly,
	}
	if c.current != nil {
		snap.TurnID = c.current.turn
		snap.Refs = c.current.refs
	}
	return snap
}

func (c *Controller) notify(snap Snapshot) {
	metrics.SetPlaybackState(string(snap.State), stateNames())

	c.mu.Lock()
	handler := c.onStateChange
	c.mu.Unlock()
	if handler != nil {
		handler(snap)
	}

	c.publish(bus.EventTypePlaybackChanged, map[string]any{
		"state":   string(snap.State),
		"turn":    snap.TurnID,
		"version": snap.Version,
	})
}

func (c *Controller) publish(t bus.EventType, data map[string]any) {
	if c.bus != nil {
		c.bus.Publish(bus.Event{Type: t, Data: data})
	}
}

func stateNames() []string {
	names := make([]string, len(AllStates))
	for i, s := range AllStates {
		names[i] = string(s)
	}
	return names
}
