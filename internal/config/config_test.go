package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/generate-video", cfg.Generation.Endpoint)
	assert.Equal(t, 2, cfg.Playback.RetryAttempts)
	assert.Equal(t, 300*time.Millisecond, cfg.Capture.AutoSubmitDelay)
	assert.Positive(t, cfg.Generation.Timeout, "generation calls must never be unbounded")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Generation.Timeout = 0
	cfg.Playback.IdleVideoURI = ""
	cfg.Playback.RetryAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation.timeout")
	assert.Contains(t, err.Error(), "playback.idle_video_uri")
	assert.Contains(t, err.Error(), "playback.retry_attempts")
}

func TestLoadFrom_CreatesFileWhenMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFrom(viper.New(), dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Generation.ServerURL, cfg.Generation.ServerURL)

	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err, "defaults should be written on first run")
}

func TestLoadFrom_ReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()

	yaml := []byte(`generation:
  server_url: http://avatar.local:9000
  endpoint: /generate-speech
playback:
  idle_video_uri: file:///srv/idle.mp4
  retry_attempts: 3
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0644))
	t.Setenv("TALKINGAVATAR_GENERATION_TIMEOUT", "15s")

	cfg, err := LoadFrom(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, "http://avatar.local:9000", cfg.Generation.ServerURL)
	assert.Equal(t, "/generate-speech", cfg.Generation.Endpoint)
	assert.Equal(t, 15*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, "file:///srv/idle.mp4", cfg.Playback.IdleVideoURI)
	assert.Equal(t, 3, cfg.Playback.RetryAttempts)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultConfig().Session.BannerTTL, cfg.Session.BannerTTL)
}

func TestLoadFrom_RejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()

	yaml := []byte("playback:\n  retry_attempts: 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0644))

	_, err := LoadFrom(viper.New(), dir)
	assert.ErrorContains(t, err, "retry_attempts")
}
