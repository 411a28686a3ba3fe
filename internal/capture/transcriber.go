// Package capture turns recorded audio into text via the service's
// /transcribe endpoint and hands the result to a Listener in order.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTranscribePath = "/transcribe"

	formField = "file"
	fileName  = "recording.wav"
)

// APIError is a non-success reply from the transcription endpoint.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transcription failed with status %d", e.Status)
	}
	return fmt.Sprintf("transcription failed: %s", e.Detail)
}

// TranscriberConfig configures the transcription client
type TranscriberConfig struct {
	ServerURL string
	Path      string
	Timeout   time.Duration
}

// Transcriber uploads audio and returns the recognised text
type Transcriber struct {
	config     TranscriberConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTranscriber creates a transcription client
func NewTranscriber(cfg TranscriberConfig, logger zerolog.Logger) *Transcriber {
	if cfg.Path == "" {
		cfg.Path = DefaultTranscribePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	return &Transcriber{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "transcriber").Logger(),
	}
}

// Transcribe posts audio as a multipart upload and returns the text.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(formField, fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.ServerURL+t.config.Path, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(raw, &eb); err != nil || eb.Detail == "" {
			eb.Detail = strings.TrimSpace(string(raw))
		}
		return "", &APIError{Status: resp.StatusCode, Detail: eb.Detail}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	t.logger.Debug().
		Int("bytes", len(audio)).
		Dur("elapsed", time.Since(start)).
		Int("chars", len(out.Text)).
		Msg("transcription complete")

	return out.Text, nil
}
