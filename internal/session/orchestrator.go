package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/generation"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/metrics"
)

var (
	// ErrBlankInput is returned by Submit for empty or whitespace-only text.
	ErrBlankInput = errors.New("nothing to submit")
	// ErrSubmitInFlight is returned by Submit while a request is pending.
	ErrSubmitInFlight = errors.New("a request is already in flight")
	// ErrSuperseded is returned when a newer request was issued before this
	// one resolved; its result was discarded.
	ErrSuperseded = errors.New("request superseded by a newer one")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// Generator produces a response bundle for text
type Generator interface {
	Generate(ctx context.Context, requestID, text string) (*generation.Bundle, error)
}

// Player takes a resolved turn's media
type Player interface {
	StartTurn(turnID uint64, refs media.Refs)
}

// Options configures an Orchestrator
type Options struct {
	BannerTTL       time.Duration
	AutoSubmit      bool
	AutoSubmitDelay time.Duration
	History         *History      // optional
	Bus             *bus.EventBus // optional
	Logger          zerolog.Logger
}

// Orchestrator runs the submit lifecycle. It owns the session State and
// hands each resolved turn to the Player. Only the most recently issued
// request may change what is displayed.
type Orchestrator struct {
	gen     Generator
	player  Player
	history *History
	bus     *bus.EventBus
	log     zerolog.Logger

	mu         sync.Mutex
	state      State
	seq        uint64 // latest issued
	bannerTTL  time.Duration
	bannerGen  uint64
	autoSubmit bool
	autoDelay  time.Duration
	autoTimer  *time.Timer
	closed     bool
	onChange   func(State)

	// turnMu orders resolution so an older turn can never reach the player
	// after a newer one.
	turnMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an orchestrator with submit enabled.
func NewOrchestrator(gen Generator, player Player, opts Options) *Orchestrator {
	if opts.BannerTTL <= 0 {
		opts.BannerTTL = 5 * time.Second
	}
	if opts.AutoSubmitDelay < 0 {
		opts.AutoSubmitDelay = 0
	}
	if opts.History == nil {
		opts.History = NewHistory(DefaultHistoryConfig())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		gen:        gen,
		player:     player,
		history:    opts.History,
		bus:        opts.Bus,
		log:        opts.Logger.With().Str("component", "session").Logger(),
		state:      State{SubmitEnabled: true, Request: Request{Status: StatusIdle}},
		bannerTTL:  opts.BannerTTL,
		autoSubmit: opts.AutoSubmit,
		autoDelay:  opts.AutoSubmitDelay,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetChangeHandler sets the callback for session state changes
func (o *Orchestrator) SetChangeHandler(handler func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onChange = handler
}

// SetBannerTTL changes how long future failure banners stay up.
func (o *Orchestrator) SetBannerTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bannerTTL = d
}

// SetAutoSubmit toggles submitting on transcription-complete.
func (o *Orchestrator) SetAutoSubmit(enabled bool, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.autoSubmit = enabled
	o.autoDelay = delay
}

// Snapshot returns a copy of the session state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History returns the exchange history.
func (o *Orchestrator) History() *History {
	return o.history
}

// SetInputText updates the typed text.
func (o *Orchestrator) SetInputText(text string) {
	o.mu.Lock()
	if o.state.InputText == text {
		o.mu.Unlock()
		return
	}
	o.state.InputText = text
	snap := o.commitLocked()
	o.mu.Unlock()

	o.notify(snap)
}

// Submit sends text to the generation service and blocks until it resolves.
// It is a no-op returning ErrBlankInput for blank text and ErrSubmitInFlight
// while another request is pending.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	return o.submit(ctx, text, false)
}

// submit runs one request. supersede lets a voice turn replace a pending
// request instead of being rejected.
func (o *Orchestrator) submit(ctx context.Context, text string, supersede bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		o.log.Debug().Msg("ignoring blank submit")
		return ErrBlankInput
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state.Submitting() && !supersede {
		o.mu.Unlock()
		return ErrSubmitInFlight
	}
	o.seq++
	req := Request{
		ID:        uuid.NewString(),
		Seq:       o.seq,
		InputText: text,
		Status:    StatusSubmitting,
		StartedAt: time.Now(),
	}
	o.state.Request = req
	o.state.SubmitEnabled = false
	o.state.SpokenText = ""
	o.state.Summary = ""
	o.state.Insight = ""
	o.state.Notice = ""
	o.state.Refs = media.Refs{}
	o.state.Banner = ""
	o.bannerGen++
	snap := o.commitLocked()
	o.mu.Unlock()

	o.log.Info().
		Str("request_id", req.ID).
		Uint64("seq", req.Seq).
		Bool("voice", supersede).
		Msg("submitting")
	o.publish(bus.EventTypeRequestStarted, map[string]any{
		"request_id": req.ID,
		"seq":        req.Seq,
		"text":       text,
	})
	o.notify(snap)

	bundle, err := o.gen.Generate(ctx, req.ID, text)
	metrics.RequestDuration.Observe(time.Since(req.StartedAt).Seconds())

	return o.resolve(req, bundle, err)
}

// resolve applies a finished request if it is still the latest one.
func (o *Orchestrator) resolve(req Request, bundle *generation.Bundle, genErr error) error {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	o.mu.Lock()
	if o.closed || req.Seq != o.seq {
		latest := o.seq
		o.mu.Unlock()

		metrics.Requests.WithLabelValues("discarded").Inc()
		o.log.Info().
			Str("request_id", req.ID).
			Uint64("seq", req.Seq).
			Uint64("latest", latest).
			Bool("failed", genErr != nil).
			Msg("discarding response from superseded request")
		o.publish(bus.EventTypeResponseDropped, map[string]any{
			"request_id": req.ID,
			"seq":        req.Seq,
		})
		return ErrSuperseded
	}

	if genErr != nil {
		o.state.Request.Status = StatusFailed
		o.state.SubmitEnabled = true
		o.state.Banner = bannerFor(genErr)
		o.scheduleBannerClearLocked()
		snap := o.commitLocked()
		o.mu.Unlock()

		metrics.Requests.WithLabelValues("failed").Inc()
		o.log.Warn().Err(genErr).Str("request_id", req.ID).Uint64("seq", req.Seq).Msg("request failed")
		o.publish(bus.EventTypeRequestFailed, map[string]any{
			"request_id": req.ID,
			"seq":        req.Seq,
			"error":      genErr.Error(),
		})
		o.notify(snap)
		return genErr
	}

	refs := media.Refs{Audio: bundle.AudioRef, Video: bundle.VideoRef}
	o.state.Request.Status = StatusCompleted
	o.state.SubmitEnabled = true
	o.state.SpokenText = bundle.SpokenText
	o.state.Summary = bundle.Summary
	o.state.Insight = bundle.Insight
	o.state.Notice = bundle.Notice
	o.state.Refs = refs
	if strings.TrimSpace(o.state.InputText) == req.InputText {
		o.state.InputText = ""
	}
	snap := o.commitLocked()
	o.mu.Unlock()

	kind := mediaKind(refs)
	o.history.Add(Exchange{
		Seq:        req.Seq,
		UserText:   req.InputText,
		SpokenText: bundle.SpokenText,
		Summary:    bundle.Summary,
		Media:      kind,
	})
	o.player.StartTurn(req.Seq, refs)

	metrics.Requests.WithLabelValues("completed").Inc()
	ev := o.log.Info().
		Str("request_id", req.ID).
		Uint64("seq", req.Seq).
		Str("media", kind)
	if bundle.Notice != "" {
		ev = ev.Str("notice", bundle.Notice)
	}
	ev.Msg("response ready")
	o.publish(bus.EventTypeResponseReady, map[string]any{
		"request_id": req.ID,
		"seq":        req.Seq,
		"media":      kind,
	})
	o.notify(snap)
	return nil
}

// OnTranscription commits a transcript as the input text.
func (o *Orchestrator) OnTranscription(text string) {
	o.mu.Lock()
	o.state.InputText = text
	o.state.CaptureError = ""
	snap := o.commitLocked()
	o.mu.Unlock()

	o.notify(snap)
}

// OnTranscriptionComplete schedules an auto-submit of the committed input
// text. The timer reads the text when it fires, never before.
func (o *Orchestrator) OnTranscriptionComplete() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || !o.autoSubmit {
		return
	}
	if o.autoTimer != nil && o.autoTimer.Stop() {
		o.wg.Done()
	}
	o.wg.Add(1)
	o.autoTimer = time.AfterFunc(o.autoDelay, func() {
		defer o.wg.Done()

		o.mu.Lock()
		text := o.state.InputText
		o.mu.Unlock()

		if err := o.submit(o.ctx, text, true); err != nil && !errors.Is(err, ErrBlankInput) {
			o.log.Debug().Err(err).Msg("auto-submit did not complete")
		}
	})
}

// OnCaptureError shows a capture failure next to the mic. Playback and the
// pending request are untouched.
func (o *Orchestrator) OnCaptureError(err error) {
	o.mu.Lock()
	o.state.CaptureError = err.Error()
	snap := o.commitLocked()
	o.mu.Unlock()

	o.notify(snap)
}

// Close cancels pending auto-submits and waits for them to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.autoTimer != nil && o.autoTimer.Stop() {
		o.wg.Done()
	}
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Orchestrator) scheduleBannerClearLocked() {
	o.bannerGen++
	gen := o.bannerGen
	time.AfterFunc(o.bannerTTL, func() {
		o.mu.Lock()
		if o.bannerGen != gen || o.state.Banner == "" {
			o.mu.Unlock()
			return
		}
		o.state.Banner = ""
		snap := o.commitLocked()
		o.mu.Unlock()

		o.notify(snap)
	})
}

func (o *Orchestrator) commitLocked() State {
	o.state.Version++
	return o.state
}

func (o *Orchestrator) notify(snap State) {
	o.mu.Lock()
	handler := o.onChange
	o.mu.Unlock()
	if handler != nil {
		handler(snap)
	}
	o.publish(bus.EventTypeSessionChanged, map[string]any{
		"version":    snap.Version,
		"status":     string(snap.Request.Status),
		"submitting": snap.Submitting(),
	})
}

func (o *Orchestrator) publish(t bus.EventType, data map[string]any) {
	if o.bus != nil {
		o.bus.Publish(bus.Event{Type: t, Data: data})
	}
}

func bannerFor(err error) string {
	var apiErr *generation.APIError
	var timeout interface{ Timeout() bool }
	switch {
	case errors.As(err, &apiErr) && apiErr.Detail != "":
		return "The avatar couldn't answer: " + apiErr.Detail
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &timeout) && timeout.Timeout():
		return "The avatar took too long to answer. Please try again."
	default:
		return "Couldn't reach the avatar service. Please try again."
	}
}

func mediaKind(refs media.Refs) string {
	switch {
	case refs.Video != "":
		return "video"
	case refs.Audio != "":
		return "audio"
	default:
		return "none"
	}
}
