// Talking Avatar - ask a question, get a spoken and animated answer
package main

import (
	"context"
	"embed"
	"io/fs"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/normanking/talkingavatar/internal/bridge"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/capture"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/feed"
	"github.com/normanking/talkingavatar/internal/generation"
	"github.com/normanking/talkingavatar/internal/logging"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/playback"
	"github.com/normanking/talkingavatar/internal/session"
)

const version = "1.0.0"

//go:embed all:frontend/dist
var assets embed.FS

// Global logger instance
var syslog *logging.Logger

func main() {
	// Configuration first so the log level applies from the first line
	cfg, cfgErr := config.Load()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Console = cfg.Log.Console
	if cfg.Log.Dir != "" {
		logCfg.LogDir = cfg.Log.Dir
	}
	var err error
	syslog, err = logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syslog.Close()

	syslog.Info("main", "Talking Avatar starting", map[string]interface{}{"version": version})
	if cfgErr != nil {
		syslog.Warn("config", "Config problems, falling back to defaults", map[string]interface{}{
			"error": cfgErr.Error(),
		})
		cfg = config.DefaultConfig()
	}
	syslog.Info("config", "Configuration loaded", map[string]interface{}{
		"server":   cfg.Generation.ServerURL,
		"endpoint": cfg.Generation.Endpoint,
		"timeout":  cfg.Generation.Timeout.String(),
	})

	app, err := newApp(cfg)
	if err != nil {
		syslog.Error("main", "Failed to build application", err, nil)
		os.Exit(1)
	}

	assetFS, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		syslog.Error("assets", "Failed to get assets", err, nil)
		os.Exit(1)
	}

	appOptions := &options.App{
		Title:       cfg.Window.Title,
		Width:       cfg.Window.Width,
		Height:      cfg.Window.Height,
		MinWidth:    360,
		MinHeight:   480,
		AlwaysOnTop: cfg.Window.AlwaysOnTop,
		AssetServer: &assetserver.Options{
			Assets: assetFS,
		},
		BackgroundColour: &options.RGBA{R: 17, G: 17, B: 27, A: 255},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
			app.avatarBridge,
			app.settingsBridge,
			app.logBridge,
		},
		Mac: &mac.Options{
			TitleBar: mac.TitleBarHiddenInset(),
			About: &mac.AboutInfo{
				Title:   "Talking Avatar",
				Message: "Version " + version,
			},
		},
	}

	if err := wails.Run(appOptions); err != nil {
		syslog.Error("wails", "Wails.Run failed", err, nil)
		os.Exit(1)
	}
	syslog.Info("main", "Application exited normally", nil)
}

// App struct holds the main application state
type App struct {
	mu   sync.RWMutex
	ctx  context.Context
	cfg  *config.Config
	emit bridge.Emitter

	eventBus     *bus.EventBus
	registry     *media.Registry
	controller   *playback.Controller
	orchestrator *session.Orchestrator
	feedServer   *feed.Server

	avatarBridge   *bridge.AvatarBridge
	settingsBridge *bridge.SettingsBridge
	logBridge      *bridge.LogBridge
}

func newApp(cfg *config.Config) (*App, error) {
	zlogger := syslog.Zerolog()
	app := &App{cfg: cfg, eventBus: bus.NewEventBus(), emit: runtime.EventsEmit}

	genClient, err := generation.NewClient(&generation.ClientConfig{
		ServerURL: cfg.Generation.ServerURL,
		Endpoint:  cfg.Generation.Endpoint,
		Timeout:   cfg.Generation.Timeout,
	}, zlogger)
	if err != nil {
		return nil, err
	}
	transcriber := capture.NewTranscriber(capture.TranscriberConfig{
		ServerURL: cfg.Generation.ServerURL,
		Path:      cfg.Capture.TranscribePath,
		Timeout:   cfg.Capture.Timeout,
	}, zlogger)

	app.registry = media.NewRegistry(app.releaseMedia)

	idle := bridge.NewFrontendElement("idle", nil)
	video := bridge.NewFrontendElement("video", nil)
	audio := bridge.NewFrontendElement("audio", nil)

	app.controller = playback.NewController(
		playback.Elements{Idle: idle, Video: video, Audio: audio},
		playback.Options{
			IdleURI:     cfg.Playback.IdleVideoURI,
			Retry:       retryPolicy(cfg),
			PlayTimeout: cfg.Playback.PlayTimeout,
			Registry:    app.registry,
			Bus:         app.eventBus,
			Logger:      zlogger,
		},
	)

	app.orchestrator = session.NewOrchestrator(genClient, app.controller, session.Options{
		BannerTTL:       cfg.Session.BannerTTL,
		AutoSubmit:      cfg.Capture.AutoSubmit,
		AutoSubmitDelay: cfg.Capture.AutoSubmitDelay,
		History:         session.NewHistory(session.HistoryConfig{MaxExchanges: cfg.Session.MaxExchanges}),
		Bus:             app.eventBus,
		Logger:          zlogger,
	})
	pipeline := capture.NewPipeline(transcriber, app.orchestrator, app.eventBus, zlogger)

	if cfg.Feed.Enabled {
		app.feedServer = feed.NewServer(cfg.Feed.Addr, app.view, app.eventBus, zlogger)
	}

	app.avatarBridge = bridge.NewAvatarBridge(
		app.controller,
		app.orchestrator,
		pipeline,
		[]*bridge.FrontendElement{idle, video, audio},
		app.eventBus,
		nil,
		zlogger,
	)
	app.settingsBridge = bridge.NewSettingsBridge(cfg, config.Save, app.apply, nil, zlogger)
	app.logBridge = bridge.NewLogBridge(syslog, nil)
	return app, nil
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.avatarBridge.Bind(ctx)
	a.settingsBridge.Bind(ctx)
	a.logBridge.Bind(ctx)

	if err := a.controller.Start(ctx); err != nil {
		syslog.Error("playback", "Failed to start idle loop", err, nil)
	}

	if a.feedServer != nil {
		if err := a.feedServer.Start(ctx); err != nil {
			syslog.Error("feed", "Failed to start state feed", err, nil)
		}
	}

	config.Watch(viper.GetViper(), func(next *config.Config, e fsnotify.Event) {
		syslog.Info("config", "Config file changed", map[string]interface{}{"file": e.Name})
		a.apply(next)
	}, func(err error) {
		syslog.Warn("config", "Ignoring config change", map[string]interface{}{"error": err.Error()})
	})

	syslog.Info("lifecycle", "Startup complete", nil)
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	a.eventBus.PublishSync(bus.Event{Type: bus.EventTypeShutdown})
	a.orchestrator.Close()
	a.controller.Close()
	if a.feedServer != nil {
		a.feedServer.Close()
	}
	a.eventBus.Clear()
	syslog.Info("lifecycle", "Shutdown complete", nil)
}

// apply pushes the values that can change without a restart.
func (a *App) apply(next *config.Config) {
	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	a.controller.SetRetryPolicy(retryPolicy(next))
	a.orchestrator.SetBannerTTL(next.Session.BannerTTL)
	a.orchestrator.SetAutoSubmit(next.Capture.AutoSubmit, next.Capture.AutoSubmitDelay)
	a.orchestrator.History().Resize(next.Session.MaxExchanges)
}

// releaseMedia tells the page a superseded pair is no longer shown, so it can
// revoke object URLs it created. Runs from the controller's turn path, which
// may precede startup.
func (a *App) releaseMedia(old media.Refs) {
	a.mu.RLock()
	ctx := a.ctx
	a.mu.RUnlock()
	if ctx == nil {
		return
	}
	a.emit(ctx, "media:release", old)
}

func (a *App) view() feed.View {
	return feed.View{
		Playback: a.controller.Snapshot(),
		Session:  a.orchestrator.Snapshot(),
	}
}

// GetVersion returns the application version
func (a *App) GetVersion() string {
	return version
}

// GetConfig returns the current configuration
func (a *App) GetConfig() config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return *a.cfg
}

func retryPolicy(cfg *config.Config) playback.RetryPolicy {
	return playback.RetryPolicy{
		MaxAttempts: cfg.Playback.RetryAttempts,
		Delay:       cfg.Playback.RetryDelay,
	}
}
