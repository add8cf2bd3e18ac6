package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/metrics"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// LocalEngineHost runs the playback engine inside the controller process.
// The engine is created on the first forwarded command and again after every Teardown.
type LocalEngineHost struct {
	logger      *slog.Logger
	bus         ports.MessageBus
	factory     ports.MediaDeviceFactory
	loadTimeout time.Duration
	metrics     *metrics.Metrics

	mu     sync.Mutex
	engine *EngineService
}

// NewLocalEngineHost creates a host that builds engines with devices from factory.
func NewLocalEngineHost(
	logger *slog.Logger,
	bus ports.MessageBus,
	factory ports.MediaDeviceFactory,
	loadTimeout time.Duration,
	m *metrics.Metrics,
) *LocalEngineHost {
	return &LocalEngineHost{
		logger:      logger,
		bus:         bus,
		factory:     factory,
		loadTimeout: loadTimeout,
		metrics:     m,
	}
}

// Exists reports whether an engine is running.
func (h *LocalEngineHost) Exists(_ context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine != nil && h.engine.Running()
}

// Create starts a new engine. It returns domain.ErrEngineExists if one is already running.
func (h *LocalEngineHost) Create(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine != nil && h.engine.Running() {
		return domain.ErrEngineExists
	}

	device, err := h.factory()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}

	engine := NewEngineService(h.logger.With(slog.String("context", "engine")), h.bus, device, h.loadTimeout, h.metrics)
	if err := engine.Start(); err != nil {
		if cerr := device.Close(); cerr != nil {
			h.logger.Debug("close unused device", slog.Any("error", cerr))
		}
		return err
	}

	h.engine = engine
	return nil
}

// Engine returns the running engine, or nil.
func (h *LocalEngineHost) Engine() *EngineService {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

// Teardown stops the running engine, if any. The next forwarded command creates a new one.
func (h *LocalEngineHost) Teardown() {
	h.mu.Lock()
	engine := h.engine
	h.engine = nil
	h.mu.Unlock()

	if engine != nil {
		engine.Stop()
	}
}

// RemoteEngineHost probes an engine that runs in another process.
// It cannot start one; Create only succeeds if an engine already answers.
type RemoteEngineHost struct {
	logger *slog.Logger
	bus    ports.MessageBus
}

// NewRemoteEngineHost creates a host that pings the engine address on bus.
func NewRemoteEngineHost(logger *slog.Logger, bus ports.MessageBus) *RemoteEngineHost {
	return &RemoteEngineHost{logger: logger, bus: bus}
}

// Exists reports whether an engine answers a ping.
func (h *RemoteEngineHost) Exists(ctx context.Context) bool {
	_, err := h.bus.Request(ctx, domain.AddressEngine, domain.Ping{})
	if err != nil && !errors.Is(err, domain.ErrNoListener) {
		h.logger.Debug("engine ping failed", slog.Any("error", err))
	}
	return err == nil
}

// Create returns domain.ErrEngineExists if an engine answers, domain.ErrEngineUnavailable otherwise.
func (h *RemoteEngineHost) Create(ctx context.Context) error {
	if h.Exists(ctx) {
		return domain.ErrEngineExists
	}
	return domain.ErrEngineUnavailable
}

var (
	_ ports.EngineHost = (*LocalEngineHost)(nil)
	_ ports.EngineHost = (*RemoteEngineHost)(nil)
)
