package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Exchange is one completed turn: what the user asked and what the avatar said.
type Exchange struct {
	Seq        uint64    `json:"seq"`
	UserText   string    `json:"userText"`
	SpokenText string    `json:"spokenText"`
	Summary    string    `json:"summary,omitempty"`
	Media      string    `json:"media"` // video, audio or none
	Timestamp  time.Time `json:"timestamp"`
}

// HistoryConfig configures History behavior.
type HistoryConfig struct {
	// MaxExchanges is the maximum number of exchanges to retain (default: 10)
	MaxExchanges int
	// InactivityTimeout is the duration after which history expires (default: 30 minutes)
	InactivityTimeout time.Duration
}

// DefaultHistoryConfig returns sensible defaults.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		MaxExchanges:      10,
		InactivityTimeout: 30 * time.Minute,
	}
}

// History keeps the last few exchanges for the transcript panel.
type History struct {
	mu           sync.RWMutex
	exchanges    []Exchange
	lastActivity time.Time
	config       HistoryConfig
}

// NewHistory creates a History with the given config.
func NewHistory(config HistoryConfig) *History {
	if config.MaxExchanges <= 0 {
		config.MaxExchanges = 10
	}
	if config.InactivityTimeout <= 0 {
		config.InactivityTimeout = 30 * time.Minute
	}
	return &History{
		exchanges:    make([]Exchange, 0, config.MaxExchanges),
		lastActivity: time.Now(),
		config:       config,
	}
}

// Add records an exchange, dropping the oldest beyond MaxExchanges.
func (h *History) Add(ex Exchange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isExpiredLocked() {
		h.exchanges = h.exchanges[:0]
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}
	h.exchanges = append(h.exchanges, ex)
	h.lastActivity = time.Now()

	if len(h.exchanges) > h.config.MaxExchanges {
		h.exchanges = h.exchanges[len(h.exchanges)-h.config.MaxExchanges:]
	}
}

// Exchanges returns a copy of the retained exchanges, oldest first.
func (h *History) Exchanges() []Exchange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.isExpiredLocked() {
		return nil
	}
	out := make([]Exchange, len(h.exchanges))
	copy(out, h.exchanges)
	return out
}

// Len returns the number of stored exchanges.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.exchanges)
}

// Transcript formats the last n exchanges for display. n <= 0 means all.
func (h *History) Transcript(n int) string {
	exchanges := h.Exchanges()
	if len(exchanges) == 0 {
		return ""
	}
	if n > 0 && n < len(exchanges) {
		exchanges = exchanges[len(exchanges)-n:]
	}

	var sb strings.Builder
	for i, ex := range exchanges {
		fmt.Fprintf(&sb, "You: %s\n", ex.UserText)
		spoken := ex.SpokenText
		if len(spoken) > 200 {
			spoken = spoken[:200] + "..."
		}
		fmt.Fprintf(&sb, "Avatar: %s\n", spoken)
		if i < len(exchanges)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Clear removes all history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = make([]Exchange, 0, h.config.MaxExchanges)
}

// Resize changes MaxExchanges, trimming if needed.
func (h *History) Resize(n int) {
	if n <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config.MaxExchanges = n
	if len(h.exchanges) > n {
		h.exchanges = h.exchanges[len(h.exchanges)-n:]
	}
}

// isExpiredLocked checks expiry without acquiring lock (caller must hold lock).
func (h *History) isExpiredLocked() bool {
	if len(h.exchanges) == 0 {
		return false
	}
	return time.Since(h.lastActivity) > h.config.InactivityTimeout
}
