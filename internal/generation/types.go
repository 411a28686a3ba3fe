// Package generation is the HTTP client for the remote avatar generation
// service, which turns text into a spoken reply with optional audio and video.
package generation

import (
	"fmt"
	"strings"
)

// Bundle is the immutable result of one generation call
type Bundle struct {
	SpokenText string `json:"spokenText"`
	Summary    string `json:"summary,omitempty"`
	Insight    string `json:"insight,omitempty"`
	AudioRef   string `json:"audioRef,omitempty"`
	VideoRef   string `json:"videoRef,omitempty"`

	// Notice carries the service's error text on a partial success, e.g.
	// audio came back but video generation failed.
	Notice string `json:"notice,omitempty"`
}

// Degraded reports a text-only bundle.
func (b *Bundle) Degraded() bool {
	return b.AudioRef == "" && b.VideoRef == ""
}

// request is the JSON body sent to the service
type request struct {
	Text string `json:"text"`
}

// response is the service's JSON reply
type response struct {
	Text        string `json:"text"`
	Summary     string `json:"summary,omitempty"`
	BookInsight string `json:"book_insight,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
	VideoURL    string `json:"video_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (r *response) empty() bool {
	return strings.TrimSpace(r.Text) == "" && r.AudioURL == "" && r.VideoURL == ""
}

// errorBody is the shape of a non-2xx reply
type errorBody struct {
	Detail string `json:"detail"`
}

// APIError is a non-success reply from the service.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("generation service returned %d", e.Status)
	}
	return fmt.Sprintf("generation service returned %d: %s", e.Status, e.Detail)
}
