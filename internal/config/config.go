// Package config provides configuration management for the talking avatar client
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const appDirName = ".talkingavatar"

// Config holds all application configuration
type Config struct {
	Generation GenerationConfig `mapstructure:"generation"`
	Capture    CaptureConfig    `mapstructure:"capture"`
	Playback   PlaybackConfig   `mapstructure:"playback"`
	Session    SessionConfig    `mapstructure:"session"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Log        LogConfig        `mapstructure:"log"`
	Window     WindowConfig     `mapstructure:"window"`
}

// GenerationConfig configures the remote generation service client
type GenerationConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Endpoint  string        `mapstructure:"endpoint"` // /generate-video or /generate-speech
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CaptureConfig configures transcription and the auto-submit path
type CaptureConfig struct {
	TranscribePath  string        `mapstructure:"transcribe_path"`
	Timeout         time.Duration `mapstructure:"timeout"`
	AutoSubmit      bool          `mapstructure:"auto_submit"`
	AutoSubmitDelay time.Duration `mapstructure:"auto_submit_delay"`
}

// PlaybackConfig configures the playback controller
type PlaybackConfig struct {
	IdleVideoURI  string        `mapstructure:"idle_video_uri"`
	RetryAttempts int           `mapstructure:"retry_attempts"` // total play attempts, including the first
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	PlayTimeout   time.Duration `mapstructure:"play_timeout"`
}

// SessionConfig configures the request orchestrator
type SessionConfig struct {
	BannerTTL    time.Duration `mapstructure:"banner_ttl"`
	MaxExchanges int           `mapstructure:"max_exchanges"`
}

// FeedConfig configures the live state feed
type FeedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig configures logging
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// WindowConfig configures the window
type WindowConfig struct {
	Title       string `mapstructure:"title"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	AlwaysOnTop bool   `mapstructure:"always_on_top"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Generation: GenerationConfig{
			ServerURL: "http://localhost:8000",
			Endpoint:  "/generate-video",
			Timeout:   90 * time.Second, // lip-sync rendering is slow
		},
		Capture: CaptureConfig{
			TranscribePath:  "/transcribe",
			Timeout:         30 * time.Second,
			AutoSubmit:      true,
			AutoSubmitDelay: 300 * time.Millisecond,
		},
		Playback: PlaybackConfig{
			IdleVideoURI:  "/assets/idle.mp4",
			RetryAttempts: 2,
			RetryDelay:    500 * time.Millisecond,
			PlayTimeout:   10 * time.Second,
		},
		Session: SessionConfig{
			BannerTTL:    5 * time.Second,
			MaxExchanges: 10,
		},
		Feed: FeedConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8710",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Window: WindowConfig{
			Title:  "Talking Avatar",
			Width:  720,
			Height: 900,
		},
	}
}

// Validate checks values the core cannot run without
func (c *Config) Validate() error {
	var errs []error
	if c.Generation.ServerURL == "" {
		errs = append(errs, errors.New("generation.server_url is required"))
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("generation.timeout must be positive, got %s", c.Generation.Timeout))
	}
	if c.Capture.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.timeout must be positive, got %s", c.Capture.Timeout))
	}
	if c.Capture.AutoSubmitDelay < 0 {
		errs = append(errs, fmt.Errorf("capture.auto_submit_delay must not be negative, got %s", c.Capture.AutoSubmitDelay))
	}
	if c.Playback.IdleVideoURI == "" {
		errs = append(errs, errors.New("playback.idle_video_uri is required"))
	}
	if c.Playback.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("playback.retry_attempts must be at least 1, got %d", c.Playback.RetryAttempts))
	}
	if c.Playback.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("playback.retry_delay must not be negative, got %s", c.Playback.RetryDelay))
	}
	return errors.Join(errs...)
}

// Load reads configuration from the default location and environment
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return DefaultConfig(), err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return DefaultConfig(), err
	}
	return LoadFrom(viper.GetViper(), configDir)
}

// LoadFrom reads configuration through v, searching dir and the working directory.
// A missing file is created from defaults.
func LoadFrom(v *viper.Viper, dir string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")

	// Environment variable overrides
	v.SetEnvPrefix("TALKINGAVATAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		if err := v.WriteConfigAs(filepath.Join(dir, "config.yaml")); err != nil {
			return cfg, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Watch reloads the configuration whenever the file changes on disk.
// onChange receives the freshly decoded config; invalid edits are reported via onError.
func Watch(v *viper.Viper, onChange func(*Config, fsnotify.Event), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := DefaultConfig()
		if err := v.Unmarshal(cfg); err != nil {
			if onError != nil {
				onError(fmt.Errorf("decode %s: %w", e.Name, err))
			}
			return
		}
		if err := cfg.Validate(); err != nil {
			if onError != nil {
				onError(fmt.Errorf("invalid config %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg, e)
	})
	v.WatchConfig()
}

// Save writes the configuration to the default location
func Save(cfg *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}
	v := viper.GetViper()
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}
	return v.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, appDirName), nil
}

// settings flattens cfg into viper keys.
func settings(cfg *Config) map[string]any {
	return map[string]any{
		"generation.server_url": cfg.Generation.ServerURL,
		"generation.endpoint":   cfg.Generation.Endpoint,
		"generation.timeout":    cfg.Generation.Timeout,

		"capture.transcribe_path":   cfg.Capture.TranscribePath,
		"capture.timeout":           cfg.Capture.Timeout,
		"capture.auto_submit":       cfg.Capture.AutoSubmit,
		"capture.auto_submit_delay": cfg.Capture.AutoSubmitDelay,

		"playback.idle_video_uri": cfg.Playback.IdleVideoURI,
		"playback.retry_attempts": cfg.Playback.RetryAttempts,
		"playback.retry_delay":    cfg.Playback.RetryDelay,
		"playback.play_timeout":   cfg.Playback.PlayTimeout,

		"session.banner_ttl":    cfg.Session.BannerTTL,
		"session.max_exchanges": cfg.Session.MaxExchanges,

		"feed.enabled": cfg.Feed.Enabled,
		"feed.addr":    cfg.Feed.Addr,

		"log.level":   cfg.Log.Level,
		"log.dir":     cfg.Log.Dir,
		"log.console": cfg.Log.Console,

		"window.title":         cfg.Window.Title,
		"window.width":         cfg.Window.Width,
		"window.height":        cfg.Window.Height,
		"window.always_on_top": cfg.Window.AlwaysOnTop,
	}
}

// setDefaults registers every key so AutomaticEnv can override nested values.
func setDefaults(v *viper.Viper, cfg *Config) {
	for key, value := range settings(cfg) {
		v.SetDefault(key, value)
	}
}
