package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/config"
)

// SettingsData is the settings panel's view of the config
type SettingsData struct {
	// Service
	ServerURL      string `json:"serverUrl"`
	Endpoint       string `json:"endpoint"` // /generate-video or /generate-speech
	TimeoutSeconds int    `json:"timeoutSeconds"`

	// Voice input
	AutoSubmit        bool `json:"autoSubmit"`
	AutoSubmitDelayMs int  `json:"autoSubmitDelayMs"`

	// Playback
	IdleVideoURI  string `json:"idleVideoUri"`
	RetryAttempts int    `json:"retryAttempts"`
	RetryDelayMs  int    `json:"retryDelayMs"`

	BannerSeconds int    `json:"bannerSeconds"`
	LogLevel      string `json:"logLevel"`
}

// SettingsBridge exposes settings methods to the frontend
type SettingsBridge struct {
	ctx    context.Context
	cfg    *config.Config
	save   func(*config.Config) error
	apply  func(*config.Config)
	emit   Emitter
	logger zerolog.Logger
}

// NewSettingsBridge creates a new settings bridge. save persists the config
// (config.Save in production); apply pushes live-tunable values into the
// running components.
func NewSettingsBridge(cfg *config.Config, save func(*config.Config) error, apply func(*config.Config), emit Emitter, logger zerolog.Logger) *SettingsBridge {
	if save == nil {
		save = config.Save
	}
	if emit == nil {
		emit = defaultEmitter
	}
	return &SettingsBridge{
		cfg:    cfg,
		save:   save,
		apply:  apply,
		emit:   emit,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// Bind sets the Wails runtime context
func (b *SettingsBridge) Bind(ctx context.Context) {
	b.ctx = ctx
}

// GetSettings returns current settings
func (b *SettingsBridge) GetSettings() SettingsData {
	return SettingsData{
		ServerURL:         b.cfg.Generation.ServerURL,
		Endpoint:          b.cfg.Generation.Endpoint,
		TimeoutSeconds:    int(b.cfg.Generation.Timeout / time.Second),
		AutoSubmit:        b.cfg.Capture.AutoSubmit,
		AutoSubmitDelayMs: int(b.cfg.Capture.AutoSubmitDelay / time.Millisecond),
		IdleVideoURI:      b.cfg.Playback.IdleVideoURI,
		RetryAttempts:     b.cfg.Playback.RetryAttempts,
		RetryDelayMs:      int(b.cfg.Playback.RetryDelay / time.Millisecond),
		BannerSeconds:     int(b.cfg.Session.BannerTTL / time.Second),
		LogLevel:          b.cfg.Log.Level,
	}
}

// SaveSettings validates, persists and applies settings. The service URL,
// endpoint and idle video take effect on the next launch.
func (b *SettingsBridge) SaveSettings(s SettingsData) error {
	next := *b.cfg
	next.Generation.ServerURL = s.ServerURL
	next.Generation.Endpoint = s.Endpoint
	next.Generation.Timeout = time.Duration(s.TimeoutSeconds) * time.Second
	next.Capture.AutoSubmit = s.AutoSubmit
	next.Capture.AutoSubmitDelay = time.Duration(s.AutoSubmitDelayMs) * time.Millisecond
	next.Playback.IdleVideoURI = s.IdleVideoURI
	next.Playback.RetryAttempts = s.RetryAttempts
	next.Playback.RetryDelay = time.Duration(s.RetryDelayMs) * time.Millisecond
	next.Session.BannerTTL = time.Duration(s.BannerSeconds) * time.Second
	next.Log.Level = s.LogLevel

	if err := next.Validate(); err != nil {
		b.logger.Warn().Err(err).Msg("Rejected settings")
		return err
	}
	if err := b.save(&next); err != nil {
		b.logger.Error().Err(err).Msg("Failed to save settings")
		return err
	}

	*b.cfg = next
	if b.apply != nil {
		b.apply(b.cfg)
	}

	b.logger.Info().
		Str("server", s.ServerURL).
		Bool("autoSubmit", s.AutoSubmit).
		Int("retryAttempts", s.RetryAttempts).
		Msg("Settings saved")
	b.emit(b.ctx, "settings:saved", s)
	return nil
}
