// Package session owns the submit lifecycle and the session-state aggregate
// shown by the text panels.
package session

import (
	"time"

	"github.com/normanking/talkingavatar/internal/media"
)

// Status is the lifecycle of one request
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Request is one user turn
type Request struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	InputText string    `json:"inputText"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// State is the session aggregate. It only changes through Orchestrator
// methods; observers get copies.
type State struct {
	InputText     string  `json:"inputText"`
	Request       Request `json:"request"`
	SubmitEnabled bool    `json:"submitEnabled"`

	SpokenText string     `json:"spokenText"`
	Summary    string     `json:"summary"`
	Insight    string     `json:"insight"`
	Refs       media.Refs `json:"refs"`
	Notice     string     `json:"notice,omitempty"`

	Banner       string `json:"banner,omitempty"`       // transient failure message
	CaptureError string `json:"captureError,omitempty"` // shown next to the mic

	Version uint64 `json:"version"`
}

// Submitting reports whether a request is in flight.
func (s State) Submitting() bool {
	return s.Request.Status == StatusSubmitting
}
