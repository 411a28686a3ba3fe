package bridge

import (
	"context"
	"os/exec"
	"path/filepath"
	goruntime "runtime"

	"github.com/normanking/talkingavatar/internal/logging"
)

// LogBridge exposes logging methods to the frontend
type LogBridge struct {
	ctx    context.Context
	logger *logging.Logger
	emit   Emitter
}

// NewLogBridge creates a new log bridge
func NewLogBridge(logger *logging.Logger, emit Emitter) *LogBridge {
	if emit == nil {
		emit = defaultEmitter
	}
	return &LogBridge{
		logger: logger,
		emit:   emit,
	}
}

// Bind sets the Wails context and starts streaming log entries to the log panel
func (b *LogBridge) Bind(ctx context.Context) {
	b.ctx = ctx
	b.logger.SetOnLog(func(entry logging.LogEntry) {
		b.emit(b.ctx, "log:entry", entry)
	})
}

// Log records a message from the frontend, e.g. a media element that
// refused to decode.
func (b *LogBridge) Log(level, component, message string, data map[string]interface{}) {
	switch level {
	case "debug":
		b.logger.Debug(component, message, data)
	case "warn":
		b.logger.Warn(component, message, data)
	case "error":
		b.logger.Error(component, message, nil, data)
	default:
		b.logger.Info(component, message, data)
	}
}

// GetLogHistory returns recent log entries
func (b *LogBridge) GetLogHistory(limit int) []logging.LogEntry {
	return b.logger.GetHistory(limit)
}

// GetLogPath returns the current log file path
func (b *LogBridge) GetLogPath() string {
	return b.logger.GetLogPath()
}

// OpenLogDir opens the log directory in the file manager
func (b *LogBridge) OpenLogDir() error {
	return openPath(filepath.Dir(b.logger.GetLogPath()))
}

// GetSystemInfo returns system information for troubleshooting
func (b *LogBridge) GetSystemInfo() map[string]interface{} {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	return map[string]interface{}{
		"os":           goruntime.GOOS,
		"arch":         goruntime.GOARCH,
		"goVersion":    goruntime.Version(),
		"numGoroutine": goruntime.NumGoroutine(),
		"memAlloc":     m.Alloc / 1024 / 1024, // MB
		"logPath":      b.logger.GetLogPath(),
	}
}

func openPath(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("open", path)
	}
	return cmd.Start()
}
