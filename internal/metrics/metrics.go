// Package metrics holds the prometheus collectors shared by the session and playback packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkingavatar_requests_total",
			Help: "Generation requests by outcome (completed, failed, discarded)",
		},
		[]string{"outcome"},
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talkingavatar_request_duration_seconds",
			Help:    "Generation request latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)

	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkingavatar_turns_total",
			Help: "Turns handed to the playback controller by media kind (video, audio, none)",
		},
		[]string{"media"},
	)

	StaleMediaEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkingavatar_stale_media_events_total",
			Help: "Media element events ignored because their turn was superseded",
		},
		[]string{"event"},
	)

	PlayRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkingavatar_play_retries_total",
			Help: "Playback attempts retried after rejection, by element",
		},
		[]string{"element"},
	)

	PlayGiveUps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkingavatar_play_giveups_total",
			Help: "Playback attempts abandoned after the retry budget, by element",
		},
		[]string{"element"},
	)

	PlaybackState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "talkingavatar_playback_state",
			Help: "1 for the current playback state, 0 otherwise",
		},
		[]string{"state"},
	)

	CaptureErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkingavatar_capture_errors_total",
			Help: "Transcription failures reported to the user",
		},
	)
)

// SetPlaybackState flips the state gauge so exactly one label reads 1.
func SetPlaybackState(current string, all []string) {
	for _, s := range all {
		if s == current {
			PlaybackState.WithLabelValues(s).Set(1)
		} else {
			PlaybackState.WithLabelValues(s).Set(0)
		}
	}
}
