// Package playback owns the avatar's on-screen media state: the idle loop,
// a turn's response video, and the audio-only fallback.
package playback

import (
	"time"

	"github.com/normanking/talkingavatar/internal/media"
)

// State is the single source of truth for what is on screen
type State string

const (
	StateIdle                 State = "idle"
	StateLoadingResponse      State = "loading_response"
	StatePlayingResponseVideo State = "playing_response_video"
	StatePlayingAudioOnly     State = "playing_audio_only"
)

// AllStates lists every state, in declaration order.
var AllStates = []State{
	StateIdle,
	StateLoadingResponse,
	StatePlayingResponseVideo,
	StatePlayingAudioOnly,
}

func (s State) String() string { return string(s) }

// IdleVisible reports whether the idle loop is on screen in s.
// The idle loop stays up as the background for audio-only turns.
func (s State) IdleVisible() bool {
	return s != StatePlayingResponseVideo
}

// Snapshot is what observers see after each transition
type Snapshot struct {
	State     State      `json:"state"`
	TurnID    uint64     `json:"turnId"`
	Refs      media.Refs `json:"refs"`
	IdleURI   string     `json:"idleUri"`
	Version   uint64     `json:"version"`
	ChangedAt time.Time  `json:"changedAt"`

	IdleVisible          bool `json:"idleVisible"`
	ResponseVideoVisible bool `json:"responseVideoVisible"`
	Loading              bool `json:"loading"`
	AudioOnly            bool `json:"audioOnly"`
}

// RetryPolicy bounds playback attempts after the platform rejects autoplay.
// MaxAttempts counts the first attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy is one retry after half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Delay: 500 * time.Millisecond}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Elements are the three surfaces the controller drives.
type Elements struct {
	Idle  media.Element
	Video media.Element
	Audio media.Element
}

// handle binds one turn to the element playing it and the listeners attached
// for that turn.
type handle struct {
	turn    uint64
	refs    media.Refs
	element media.Element
	subs    []media.Subscription
}

func (h *handle) detach() {
	for _, s := range h.subs {
		s.Unsubscribe()
	}
	h.subs = nil
}
