// Package bridge provides Wails bindings between Go and frontend
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/capture"
	"github.com/normanking/talkingavatar/internal/feed"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/metrics"
	"github.com/normanking/talkingavatar/internal/playback"
	"github.com/normanking/talkingavatar/internal/session"
)

// AvatarBridge exposes the avatar page's actions to the frontend
type AvatarBridge struct {
	ctx          context.Context
	controller   *playback.Controller
	orchestrator *session.Orchestrator
	pipeline     *capture.Pipeline
	elements     map[string]*FrontendElement
	eventBus     *bus.EventBus
	emit         Emitter
	logger       zerolog.Logger
}

// NewAvatarBridge creates the avatar bridge
func NewAvatarBridge(
	controller *playback.Controller,
	orchestrator *session.Orchestrator,
	pipeline *capture.Pipeline,
	elements []*FrontendElement,
	eventBus *bus.EventBus,
	emit Emitter,
	logger zerolog.Logger,
) *AvatarBridge {
	byName := make(map[string]*FrontendElement, len(elements))
	for _, el := range elements {
		byName[el.Name()] = el
	}
	if emit == nil {
		emit = defaultEmitter
	}
	return &AvatarBridge{
		controller:   controller,
		orchestrator: orchestrator,
		pipeline:     pipeline,
		elements:     byName,
		eventBus:     eventBus,
		emit:         emit,
		logger:       logger.With().Str("component", "avatar-bridge").Logger(),
	}
}

// Bind sets the Wails runtime context
func (b *AvatarBridge) Bind(ctx context.Context) {
	b.ctx = ctx
	for _, el := range b.elements {
		el.Bind(ctx)
	}

	b.controller.SetStateHandler(func(s playback.Snapshot) {
		b.emit(b.ctx, "playback:state", s)
	})
	b.orchestrator.SetChangeHandler(func(s session.State) {
		b.emit(b.ctx, "session:state", s)
	})

	b.eventBus.Subscribe(bus.EventTypeCaptureError, func(e bus.Event) {
		b.emit(b.ctx, "capture:error", e.Data)
	})
	b.eventBus.Subscribe(bus.EventTypeResponseReady, func(e bus.Event) {
		b.emit(b.ctx, "session:history", b.orchestrator.History().Exchanges())
	})
}

// Submit sends typed text. Blank input and superseded requests are not errors.
func (b *AvatarBridge) Submit(text string) error {
	err := b.orchestrator.Submit(context.Background(), text)
	switch {
	case err == nil, errors.Is(err, session.ErrBlankInput), errors.Is(err, session.ErrSuperseded):
		return nil
	default:
		return err
	}
}

// SetInputText mirrors the text box into the session state
func (b *AvatarBridge) SetInputText(text string) {
	b.orchestrator.SetInputText(text)
}

// TranscribeAudio uploads a base64 recording. The transcript lands in the
// input box and, when auto-submit is on, is submitted.
func (b *AvatarBridge) TranscribeAudio(audioBase64 string) (string, error) {
	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", fmt.Errorf("failed to decode audio: %w", err)
	}
	return b.pipeline.Process(context.Background(), audio)
}

// MediaEvent receives a lifecycle event (ready, ended, error) from a frontend
// element. loadID is the id the element was given with its current source.
func (b *AvatarBridge) MediaEvent(element string, loadID uint64, event string) {
	el, ok := b.elements[element]
	if !ok {
		b.logger.Warn().Str("element", element).Msg("event from unknown element")
		return
	}
	kind := media.EventKind(event)
	switch kind {
	case media.EventReady, media.EventEnded, media.EventError:
		if _, current := el.Deliver(loadID, kind); !current {
			metrics.StaleMediaEvents.WithLabelValues(event).Inc()
			b.logger.Debug().
				Str("element", element).
				Uint64("load", loadID).
				Uint64("current", el.LoadID()).
				Str("event", event).
				Msg("dropping event from replaced source")
		}
	default:
		b.logger.Debug().Str("element", element).Str("event", event).Msg("ignoring media event")
	}
}

// ReportPlayResult completes a play request the frontend was asked to run.
func (b *AvatarBridge) ReportPlayResult(element string, id uint64, ok bool, reason string) {
	el, found := b.elements[element]
	if !found || !el.ResolvePlay(id, ok, reason) {
		b.logger.Debug().Str("element", element).Uint64("id", id).Msg("late play result")
	}
}

// Interrupt stops the current response
func (b *AvatarBridge) Interrupt() bool {
	return b.controller.Interrupt()
}

// GetSnapshot returns playback and session state together
func (b *AvatarBridge) GetSnapshot() feed.View {
	return feed.View{
		Playback: b.controller.Snapshot(),
		Session:  b.orchestrator.Snapshot(),
	}
}

// GetHistory returns recent exchanges
func (b *AvatarBridge) GetHistory() []session.Exchange {
	return b.orchestrator.History().Exchanges()
}

func defaultEmitter(ctx context.Context, eventName string, optionalData ...interface{}) {
	if ctx == nil {
		return
	}
	runtime.EventsEmit(ctx, eventName, optionalData...)
}
