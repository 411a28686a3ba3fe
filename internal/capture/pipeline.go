package capture

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/metrics"
)

// Listener receives capture results. For one utterance OnTranscription is
// always called before OnTranscriptionComplete.
type Listener interface {
	OnTranscription(text string)
	OnTranscriptionComplete()
	OnCaptureError(err error)
}

// Recognizer turns audio into text.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Pipeline runs one recording through the recognizer and reports to the
// listener in order.
type Pipeline struct {
	rec      Recognizer
	listener Listener
	bus      *bus.EventBus
	logger   zerolog.Logger
}

// NewPipeline creates a pipeline. eventBus may be nil.
func NewPipeline(rec Recognizer, listener Listener, eventBus *bus.EventBus, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		rec:      rec,
		listener: listener,
		bus:      eventBus,
		logger:   logger.With().Str("component", "capture").Logger(),
	}
}

// Process transcribes audio and notifies the listener. Blank transcripts are
// delivered but never followed by OnTranscriptionComplete, so they cannot
// trigger a submit. The returned error has already been reported to the
// listener.
func (p *Pipeline) Process(ctx context.Context, audio []byte) (string, error) {
	text, err := p.rec.Transcribe(ctx, audio)
	if err != nil {
		metrics.CaptureErrors.Inc()
		p.logger.Warn().Err(err).Msg("transcription failed")
		p.listener.OnCaptureError(err)
		p.publish(bus.EventTypeCaptureError, map[string]any{"error": err.Error()})
		return "", err
	}

	p.listener.OnTranscription(text)
	p.publish(bus.EventTypeTranscript, map[string]any{"text": text})

	if strings.TrimSpace(text) == "" {
		p.logger.Debug().Msg("empty transcript, not submitting")
		return text, nil
	}
	p.listener.OnTranscriptionComplete()
	return text, nil
}

func (p *Pipeline) publish(t bus.EventType, data map[string]any) {
	if p.bus != nil {
		p.bus.Publish(bus.Event{Type: t, Data: data})
	}
}
