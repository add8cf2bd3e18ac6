package ports

import (
	"context"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
)

// MediaDevice is the playable handle owned by the engine.
// It binds at most one source URL at a time and emits lifecycle events.
//
// Implementations must be thread-safe: the engine loop issues commands while a
// separate goroutine drains Events() and reads snapshots.
type MediaDevice interface {
	// Source returns the URL currently bound, empty if none.
	Source() string

	// Load binds url, triggers a reload and blocks until the source is playable,
	// the device reports an error, or ctx ends.
	Load(ctx context.Context, url string) error

	// Play starts or resumes the bound source.
	Play() error

	// Pause pauses the bound source, keeping its position.
	Pause()

	// Stop pauses and rewinds the bound source to 0.
	Stop()

	// Seek moves the position, in seconds.
	Seek(seconds float64)

	// SetVolume sets the output level in [0,1].
	SetVolume(volume float64)

	// Snapshot returns the current device state.
	Snapshot() domain.DeviceSnapshot

	// Events delivers lifecycle events. The channel is closed by Close.
	Events() <-chan domain.DeviceEvent

	// Close releases the device.
	Close() error
}

// MediaDeviceFactory creates a device for a freshly created engine.
type MediaDeviceFactory func() (MediaDevice, error)

// EngineHost creates the playback engine on demand.
//
// Existence is checked before every forwarded command. Check-then-create is not atomic,
// so two callers may both attempt Create; implementations return domain.ErrEngineExists
// for the loser and callers treat it as success.
type EngineHost interface {
	Exists(ctx context.Context) bool
	Create(ctx context.Context) error
}
