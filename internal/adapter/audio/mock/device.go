// Package mock provides a mock implementation of the MediaDevice interface.
// This is used for testing the engine, and for headless runs, without producing sound.
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// DefaultDuration is the simulated length of every loaded source, in seconds.
const DefaultDuration = 180.0

const eventBuffer = 64

// Device is a mock implementation of the MediaDevice interface.
// It simulates an HTML-media-like element in memory: it binds one source, keeps a
// position, a volume and paused/ended flags, and emits the matching lifecycle events.
//
// Thread-safety: This implementation is thread-safe.
type Device struct {
	// Dependencies
	logger *slog.Logger

	// Device state
	source   string
	position float64
	duration float64
	volume   float64
	paused   bool
	ended    bool
	closed   bool

	events chan domain.DeviceEvent
	mu     sync.RWMutex

	// loads records every URL passed to Load, in order
	loads []string

	// Behavior configuration (for testing error scenarios)
	failLoad bool
	failPlay bool

	// stallRelease is non-nil while loads stall; closing it lets them finish
	stallRelease chan struct{}
}

// NewDevice creates a new mock device with nothing bound.
func NewDevice() *Device {
	return &Device{
		logger:   slog.New(slog.DiscardHandler),
		volume:   domain.DefaultVolume,
		paused:   true,
		duration: 0,
		events:   make(chan domain.DeviceEvent, eventBuffer),
	}
}

// Factory returns a ports.MediaDeviceFactory producing fresh mock devices.
// Every device created is also passed to observe, if non-nil.
func Factory(observe func(*Device)) ports.MediaDeviceFactory {
	return func() (ports.MediaDevice, error) {
		d := NewDevice()
		if observe != nil {
			observe(d)
		}
		return d, nil
	}
}

// SetLogger sets the logger for this device.
// This should be called after construction before using the device.
func (m *Device) SetLogger(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// SetFailLoad configures the mock to reject every source (for testing).
func (m *Device) SetFailLoad(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLoad = fail
}

// SetStallLoad configures Load to wait until its context ends (for testing load timeouts).
// Turning it off lets the loads already waiting become playable.
func (m *Device) SetStallLoad(stall bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case stall && m.stallRelease == nil:
		m.stallRelease = make(chan struct{})
	case !stall && m.stallRelease != nil:
		close(m.stallRelease)
		m.stallRelease = nil
	}
}

// SetFailPlay configures the mock to fail playback (for testing).
func (m *Device) SetFailPlay(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPlay = fail
}

// Source returns the bound URL.
func (m *Device) Source() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

// Load binds url and waits until it is playable.
func (m *Device) Load(ctx context.Context, url string) error {
	m.mu.Lock()
	m.loads = append(m.loads, url)

	if url == "" {
		m.mu.Unlock()
		return domain.NewMediaError("load", url, domain.ErrNoSource)
	}

	// A new source is bound immediately, even if it never becomes playable
	m.source = url
	m.position = 0
	m.duration = 0
	m.paused = true
	m.ended = false

	if m.failLoad {
		m.mu.Unlock()
		return domain.NewMediaError("load", url, domain.ErrMediaLoadFailed)
	}

	release := m.stallRelease
	m.mu.Unlock()

	if release != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
		}
	}

	m.mu.Lock()
	if m.source != url {
		// Another Load rebound the device meanwhile
		m.mu.Unlock()
		return domain.NewMediaError("load", url, fmt.Errorf("source replaced"))
	}
	m.duration = DefaultDuration
	m.emitLocked(domain.DeviceLoadedMetadata)
	m.emitLocked(domain.DeviceCanPlay)
	m.mu.Unlock()

	return nil
}

// Play starts or resumes playback.
func (m *Device) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.source == "" {
		return domain.NewMediaError("play", "", domain.ErrNoSource)
	}

	if m.failPlay {
		return domain.NewMediaError("play", m.source, fmt.Errorf("mock play failed"))
	}

	// Playing an ended source restarts it
	if m.ended {
		m.position = 0
		m.ended = false
	}

	if m.paused {
		m.paused = false
		m.emitLocked(domain.DevicePlay)
	}

	return nil
}

// Pause pauses playback.
func (m *Device) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.paused {
		m.paused = true
		m.emitLocked(domain.DevicePause)
	}
}

// Stop pauses playback and rewinds to the start.
func (m *Device) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.paused {
		m.paused = true
		m.emitLocked(domain.DevicePause)
	}

	if m.position != 0 {
		m.position = 0
		m.emitLocked(domain.DeviceTimeUpdate)
	}
}

// Seek sets the playback position, clamped to the source length.
func (m *Device) Seek(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.source == "" {
		return
	}

	m.emitLocked(domain.DeviceSeeking)
	m.position = min(domain.NonNegative(seconds), m.duration)
	m.ended = false
	m.emitLocked(domain.DeviceSeeked)
}

// SetVolume sets the playback volume.
func (m *Device) SetVolume(volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.volume = domain.ClampVolume(volume)
	m.emitLocked(domain.DeviceVolumeChange)
}

// Snapshot returns the current device state.
func (m *Device) Snapshot() domain.DeviceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return domain.DeviceSnapshot{
		Source:      m.source,
		CurrentTime: m.position,
		Duration:    m.duration,
		Volume:      m.volume,
		Paused:      m.paused,
		Ended:       m.ended,
	}
}

// Events returns the lifecycle event stream.
func (m *Device) Events() <-chan domain.DeviceEvent {
	return m.events
}

// Close releases the device and closes the event stream.
func (m *Device) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.paused = true
	close(m.events)
	return nil
}

// Loads returns every URL passed to Load (for testing).
func (m *Device) Loads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.loads...)
}

// IsClosed reports whether Close was called (for testing).
func (m *Device) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// SimulateProgress simulates playback progress (for testing).
// This moves the position to seconds and emits a timeupdate.
func (m *Device) SimulateProgress(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return fmt.Errorf("device is not playing")
	}

	m.position = min(domain.NonNegative(seconds), m.duration)
	m.emitLocked(domain.DeviceTimeUpdate)
	return nil
}

// SimulateEnded plays the bound source to its end (for testing).
func (m *Device) SimulateEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.position = m.duration
	m.paused = true
	m.ended = true
	m.emitLocked(domain.DevicePause)
	m.emitLocked(domain.DeviceEnded)
}

// SimulateError emits a device error (for testing).
func (m *Device) SimulateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	select {
	case m.events <- domain.NewDeviceErrorEvent(err):
	default:
	}
}

// emitLocked queues an event without blocking. Callers hold mu.
func (m *Device) emitLocked(kind domain.DeviceEventKind) {
	if m.closed {
		return
	}
	select {
	case m.events <- domain.NewDeviceEvent(kind):
	default:
		m.logger.Debug("event buffer full, dropping", slog.String("event", string(kind)))
	}
}

// Verify that Device implements the MediaDevice interface
var _ ports.MediaDevice = (*Device)(nil)
