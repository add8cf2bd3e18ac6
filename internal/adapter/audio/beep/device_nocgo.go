//go:build !((linux && cgo) || windows || darwin)

package beep

import (
	"errors"
	"log/slog"

	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// Available indicates whether speaker output is supported in this build.
// Audio on Linux requires cgo for the native sound library.
const Available = false

// ErrUnavailable is returned by the factory in builds without speaker support.
var ErrUnavailable = errors.New("speaker output not available in this build (cgo disabled)")

// Factory returns a factory that always fails; configure the mock device instead.
func Factory(_ *slog.Logger) ports.MediaDeviceFactory {
	return func() (ports.MediaDevice, error) {
		return nil, ErrUnavailable
	}
}
