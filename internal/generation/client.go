package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EndpointVideo  = "/generate-video"
	EndpointSpeech = "/generate-speech"

	// RequestIDHeader correlates a request with the service's logs.
	RequestIDHeader = "X-Request-ID"
)

// ErrEmptyResponse is returned when the service replies 2xx with neither
// text nor media.
var ErrEmptyResponse = errors.New("generation service returned an empty response")

// ClientConfig configures the generation client
type ClientConfig struct {
	ServerURL string        // e.g., "http://localhost:8000"
	Endpoint  string        // /generate-video or /generate-speech
	Timeout   time.Duration // hard limit per call
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL: "http://localhost:8000",
		Endpoint:  EndpointVideo,
		Timeout:   90 * time.Second,
	}
}

// Client talks to the generation service
type Client struct {
	config     *ClientConfig
	base       *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new generation client
func NewClient(cfg *ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", cfg.ServerURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: scheme and host required", cfg.ServerURL)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = EndpointVideo
	}

	return &Client{
		config:     cfg,
		base:       base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "generation").Logger(),
	}, nil
}

// Generate sends text to the service and returns its bundle. requestID is
// sent as X-Request-ID; a new one is made when empty.
func (c *Client) Generate(ctx context.Context, requestID, text string) (*Bundle, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(request{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.resolve(c.config.Endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.empty() {
		if out.Error != "" {
			return nil, &APIError{Status: resp.StatusCode, Detail: out.Error}
		}
		return nil, ErrEmptyResponse
	}

	bundle := &Bundle{
		SpokenText: out.Text,
		Summary:    out.Summary,
		Insight:    out.BookInsight,
		AudioRef:   c.resolve(out.AudioURL),
		VideoRef:   c.resolve(out.VideoURL),
		Notice:     out.Error,
	}

	c.logger.Debug().
		Str("request_id", requestID).
		Dur("elapsed", time.Since(start)).
		Bool("audio", bundle.AudioRef != "").
		Bool("video", bundle.VideoRef != "").
		Str("notice", bundle.Notice).
		Msg("generation complete")

	return bundle, nil
}

// resolve joins a service-relative path like /audio/x.mp3 onto the server
// URL. Absolute URLs and empty strings pass through.
func (c *Client) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.base.String() + ref
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Detail == "" {
		eb.Detail = strings.TrimSpace(string(raw))
	}
	return &APIError{Status: resp.StatusCode, Detail: eb.Detail}
}
