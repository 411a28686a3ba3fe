package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, level string, maxHist int) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(&Config{Level: level, MaxHistory: maxHist, Out: &buf})
	require.NoError(t, err)
	return l, &buf
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestLogger_WritesJSONWithComponent(t *testing.T) {
	l, buf := newTestLogger(t, "debug", 10)

	l.Info("playback", "State changed", map[string]interface{}{"to": "idle"})

	out := buf.String()
	assert.Contains(t, out, `"component":"playback"`)
	assert.Contains(t, out, `"to":"idle"`)
	assert.Contains(t, out, `"app":"talkingavatar"`)
}

func TestLogger_HistoryIsBoundedAndOrdered(t *testing.T) {
	l, _ := newTestLogger(t, "debug", 3)

	l.Debug("a", "one", nil)
	l.Debug("a", "two", nil)
	l.Debug("a", "three", nil)
	l.Debug("a", "four", nil)

	hist := l.GetHistory(0)
	require.Len(t, hist, 3)
	assert.Equal(t, "two", hist[0].Message)
	assert.Equal(t, "four", hist[2].Message)

	last := l.GetHistory(1)
	require.Len(t, last, 1)
	assert.Equal(t, "four", last[0].Message)
}

func TestLogger_BelowLevelIsDropped(t *testing.T) {
	l, buf := newTestLogger(t, "warn", 10)
	buf.Reset()

	l.Info("session", "noise", nil)
	l.Error("session", "Generation failed", errors.New("boom"), map[string]interface{}{"seq": 2})

	assert.NotContains(t, buf.String(), "noise")
	hist := l.GetHistory(0)
	require.NotEmpty(t, hist)
	entry := hist[len(hist)-1]
	assert.Equal(t, "error", entry.Level)
	assert.Equal(t, "seq=2 error=boom", entry.Data)
}

func TestFormatData_SortsKeys(t *testing.T) {
	assert.Equal(t, "", formatData(nil))
	assert.Equal(t, "a=1, b=x", formatData(map[string]interface{}{"b": "x", "a": 1}))
}
