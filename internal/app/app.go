// Package app provides application-level orchestration and dependency injection.
// This package wires together all components and manages the application lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fyne.io/fyne/v2"

	"github.com/tejashwikalptaru/tunebridge/internal/adapter/audio/beep"
	"github.com/tejashwikalptaru/tunebridge/internal/adapter/audio/mock"
	"github.com/tejashwikalptaru/tunebridge/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/tunebridge/internal/adapter/repository/memory"
	"github.com/tejashwikalptaru/tunebridge/internal/adapter/repository/redis"
	"github.com/tejashwikalptaru/tunebridge/internal/adapter/repository/sqlite"
	"github.com/tejashwikalptaru/tunebridge/internal/config"
	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/logger"
	"github.com/tejashwikalptaru/tunebridge/internal/metrics"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
	"github.com/tejashwikalptaru/tunebridge/internal/service"
)

// Role selects which contexts an Application runs.
type Role string

const (
	// RoleAll runs controller, engine and panel in one process
	RoleAll        Role = "run"
	RoleController Role = "controller"
	RoleEngine     Role = "engine"
	RolePanel      Role = "panel"
)

// Application is the root application structure that holds all dependencies.
// It follows the Dependency Injection pattern with constructor-based injection.
//
// Which services exist depends on the role: a controller process owns the store and
// the state writer, an engine process owns the media device, a panel process only
// talks to the bus.
type Application struct {
	// Core dependencies
	logger   *slog.Logger
	config   Config
	settings *config.Config

	// Infrastructure
	bus           ports.MessageBus
	store         ports.StateStore
	metrics       *metrics.Metrics
	metricsServer *http.Server

	// Services
	controller *service.ControllerService
	engineHost *service.LocalEngineHost
	engine     *service.EngineService
	panel      *service.PanelService
	library    *service.LibraryService

	mu           sync.Mutex
	started      bool
	shutdownOnce sync.Once
	shutdownErr  error
	serveWg      sync.WaitGroup
}

// Config holds application configuration.
type Config struct {
	// AppID names the preferences file when the preferences store is used
	AppID string

	// Role selects the contexts to run
	Role Role

	// Settings is the loaded configuration file; nil means config.Default()
	Settings *config.Config

	// LogOutput overrides the log destination (os.Stderr by default)
	LogOutput io.Writer

	// DeviceFactory replaces the configured media device, for tests
	DeviceFactory ports.MediaDeviceFactory

	// FyneApp backs the preferences store when the desktop panel already created one
	FyneApp fyne.App
}

// DefaultConfig returns the default application configuration.
func DefaultConfig() Config {
	return Config{
		AppID:    "com.tunebridge.app",
		Role:     RoleAll,
		Settings: config.Default(),
	}
}

// NewApplication creates a new application with all dependencies wired.
// Nothing runs until Start; a failed construction releases what it opened.
func NewApplication(cfg Config) (*Application, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if cfg.Role == "" {
		cfg.Role = RoleAll
	}
	if cfg.AppID == "" {
		cfg.AppID = DefaultConfig().AppID
	}

	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Role {
	case RoleAll:
	case RoleController, RoleEngine, RolePanel:
		if settings.Transport != "nats" {
			return nil, fmt.Errorf("the %s role runs a single context and needs the nats transport", cfg.Role)
		}
	default:
		return nil, fmt.Errorf("unknown role %q", cfg.Role)
	}

	app := &Application{config: cfg, settings: settings}

	// Step 1: Create logger
	app.logger = logger.NewLogger(logger.Config{
		Level:  logger.ParseLevel(settings.Log.Level, slog.LevelInfo),
		Format: settings.Log.Format,
		Output: cfg.LogOutput,
	})
	app.logger.Info("initializing application",
		slog.String("version", GetVersionInfo().FullString()),
		slog.String("role", string(cfg.Role)),
		slog.String("transport", settings.Transport))

	app.metrics = metrics.New()

	if err := app.wire(); err != nil {
		if serr := app.Shutdown(); serr != nil {
			app.logger.Warn("cleanup after failed start", slog.Any("error", serr))
		}
		return nil, err
	}

	return app, nil
}

func (a *Application) wire() error {
	// Step 2: Create the message bus
	bus, err := a.openBus()
	if err != nil {
		return err
	}
	a.bus = bus

	a.library = service.NewLibraryService(a.logger.With(slog.String("service", "library")))

	role := a.config.Role

	// Step 3: Controller with its store and engine host
	if role == RoleAll || role == RoleController {
		if err := a.wireController(); err != nil {
			return err
		}
	}

	// Step 4: Standalone engine
	if role == RoleEngine {
		device, err := a.deviceFactory()()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
		}
		a.engine = service.NewEngineService(
			a.logger.With(slog.String("context", "engine")),
			a.bus, device, a.settings.Engine.LoadTimeout, a.metrics,
		)
	}

	// Step 5: Panel
	if role == RoleAll || role == RolePanel {
		a.panel = service.NewPanelService(
			a.logger.With(slog.String("context", "panel")),
			a.bus,
			service.PanelConfig{
				PollInterval:   a.settings.Panel.PollInterval,
				RequestTimeout: a.settings.CommandTimeout,
			},
			a.metrics,
		)

		panelLogger := a.logger.With(slog.String("context", "panel"))
		a.panel.SetOnChange(func(s domain.State) {
			panelLogger.Debug("state changed",
				slog.Uint64("epoch", s.Epoch),
				slog.Bool("playing", s.IsPlaying),
				slog.Int("index", s.CurrentIndex),
				slog.Int("tracks", len(s.Playlist)))
		})
	}

	return nil
}

func (a *Application) wireController() error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	a.store = store

	ctx, cancel := context.WithTimeout(context.Background(), a.settings.CommandTimeout)
	defer cancel()

	// Recovery never blocks startup: a broken record yields the default state
	initial, err := service.LoadState(ctx, store, a.logger.With(slog.String("component", "persistence")))
	if err != nil {
		a.logger.Warn("failed to load saved state", slog.Any("error", err))
	}

	var host ports.EngineHost
	if a.config.Role == RoleAll {
		a.engineHost = service.NewLocalEngineHost(
			a.logger, a.bus, a.deviceFactory(), a.settings.Engine.LoadTimeout, a.metrics,
		)
		host = a.engineHost
	} else {
		host = service.NewRemoteEngineHost(a.logger.With(slog.String("component", "engine-host")), a.bus)
	}

	writer := service.NewStateWriter(a.logger.With(slog.String("component", "state-writer")), store)

	a.controller = service.NewControllerService(
		a.logger.With(slog.String("context", "controller")),
		a.bus,
		host,
		writer,
		initial,
		service.ControllerConfig{
			CommandTimeout: a.settings.CommandTimeout,
		},
		a.metrics,
	)

	return nil
}

func (a *Application) openBus() (ports.MessageBus, error) {
	busLogger := a.logger.With(slog.String("component", "bus"))

	switch a.settings.Transport {
	case "nats":
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = a.settings.NATS.URL
		natsCfg.SubjectPrefix = a.settings.NATS.SubjectPrefix
		natsCfg.Name = fmt.Sprintf("tunebridge-%s", a.config.Role)
		natsCfg.Timeout = a.settings.CommandTimeout

		bus, err := eventbus.NewNATSBus(natsCfg, busLogger)
		if err != nil {
			return nil, err
		}
		bus.SetMetrics(a.metrics)
		return bus, nil

	default:
		bus := eventbus.NewLocalBus()
		bus.SetLogger(busLogger)
		bus.SetMetrics(a.metrics)
		return bus, nil
	}
}

func (a *Application) openStore() (ports.StateStore, error) {
	storeLogger := a.logger.With(slog.String("component", "store"), slog.String("store", a.settings.Store))

	switch a.settings.Store {
	case "memory":
		storeLogger.Warn("state is kept in memory and lost on exit")
		return memory.NewStore(), nil

	case "preferences":
		if a.config.FyneApp != nil {
			return memory.NewPreferencesStore(a.config.FyneApp.Preferences()), nil
		}
		prefs, err := openPreferences(a.config.AppID)
		if err != nil {
			return nil, fmt.Errorf("open preferences: %w", err)
		}
		return memory.NewPreferencesStore(prefs), nil

	case "redis":
		redisCfg := redis.DefaultConfig()
		redisCfg.Addr = a.settings.Redis.Addr
		redisCfg.Password = a.settings.Redis.Password
		redisCfg.DB = a.settings.Redis.DB
		redisCfg.KeyPrefix = a.settings.Redis.KeyPrefix

		ctx, cancel := context.WithTimeout(context.Background(), a.settings.CommandTimeout)
		defer cancel()
		store, err := redis.New(ctx, redisCfg, storeLogger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		path := a.settings.SQLite.Path
		if path == "" {
			var err error
			if path, err = sqlite.DefaultPath(); err != nil {
				return nil, fmt.Errorf("resolve state database path: %w", err)
			}
		}
		storeLogger.Debug("opening state database", slog.String("path", path))
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func (a *Application) deviceFactory() ports.MediaDeviceFactory {
	if a.config.DeviceFactory != nil {
		return a.config.DeviceFactory
	}

	if a.settings.Engine.Device == "mock" {
		deviceLogger := a.logger.With(slog.String("device", "mock"))
		return mock.Factory(func(d *mock.Device) {
			d.SetLogger(deviceLogger)
		})
	}

	if !beep.Available {
		a.logger.Warn("speaker output not compiled in; set engine.device = \"mock\" for headless runs")
	}
	return beep.Factory(a.logger.With(slog.String("device", "beep")))
}

// Start brings up the metrics endpoint and every context of the role.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	if addr := a.settings.MetricsAddr; addr != "" {
		a.startMetricsServer(addr)
	}

	if a.controller != nil {
		if err := a.controller.Start(); err != nil {
			return err
		}
	}

	if a.engine != nil {
		if err := a.engine.Start(); err != nil {
			return err
		}
	}

	if a.panel != nil {
		if err := a.panel.Activate(ctx); err != nil {
			return err
		}
	}

	a.started = true
	return nil
}

func (a *Application) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())

	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.serveWg.Add(1)
	go func() {
		defer a.serveWg.Done()
		a.logger.Info("serving metrics", slog.String("addr", addr))
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
}

// Run starts the application and blocks until ctx is cancelled or a standalone
// engine stops. The caller is expected to defer Shutdown.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	a.logger.Info("TuneBridge started", slog.String("role", string(a.config.Role)))

	var engineDone <-chan struct{}
	if a.engine != nil {
		engineDone = a.engine.Done()
	}

	select {
	case <-ctx.Done():
	case <-engineDone:
		a.logger.Warn("engine stopped")
	}

	return nil
}

// Shutdown gracefully shuts down the application. It is safe to call more than once.
//
// Order matters: the panel stops asking, the controller writes its final state,
// the engine releases the device, and only then do the bus and the store close.
func (a *Application) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down application")

		var errs []error

		if a.panel != nil {
			a.panel.Deactivate()
		}

		if a.controller != nil {
			a.controller.Stop()
		}

		if a.engineHost != nil {
			a.engineHost.Teardown()
		}
		if a.engine != nil {
			a.engine.Stop()
		}

		if a.library != nil && a.library.IsScanning() {
			if err := a.library.CancelScan(); err != nil {
				a.logger.Debug("cancel scan", slog.Any("error", err))
			}
		}

		if a.bus != nil {
			if err := a.bus.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close bus: %w", err))
			}
		}

		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}

		if a.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.metricsServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
			}
			cancel()
			a.serveWg.Wait()
		}

		a.shutdownErr = errors.Join(errs...)
		a.logger.Info("application shutdown complete")
	})

	return a.shutdownErr
}

// Logger returns the application logger.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Bus returns the message bus.
func (a *Application) Bus() ports.MessageBus {
	return a.bus
}

// Metrics returns the protocol counters.
func (a *Application) Metrics() *metrics.Metrics {
	return a.metrics
}

// GetServices returns the services the role created; absent ones are nil.
func (a *Application) GetServices() (*service.ControllerService, *service.PanelService, *service.LibraryService) {
	return a.controller, a.panel, a.library
}

// EngineHost returns the in-process engine host, or nil outside RoleAll.
func (a *Application) EngineHost() *service.LocalEngineHost {
	return a.engineHost
}
