package domain

import (
	"time"
)

// DeviceEventKind names a media device lifecycle event.
type DeviceEventKind string

// Device lifecycle events. The engine forwards each of them to the controller.
const (
	DeviceLoadedMetadata DeviceEventKind = "loadedmetadata"
	DeviceTimeUpdate     DeviceEventKind = "timeupdate"
	DevicePlay           DeviceEventKind = "play"
	DevicePause          DeviceEventKind = "pause"
	DeviceEnded          DeviceEventKind = "ended"
	DeviceVolumeChange   DeviceEventKind = "volumechange"
	DeviceSeeking        DeviceEventKind = "seeking"
	DeviceSeeked         DeviceEventKind = "seeked"
	DeviceWaiting        DeviceEventKind = "waiting"
	DeviceCanPlay        DeviceEventKind = "canplay"
	DeviceError          DeviceEventKind = "error"
)

// DeviceEvent is emitted by a media device.
type DeviceEvent struct {
	Kind DeviceEventKind
	At   time.Time

	// Err is set for DeviceError
	Err error
}

// NewDeviceEvent creates a device event stamped with the current time.
func NewDeviceEvent(kind DeviceEventKind) DeviceEvent {
	return DeviceEvent{Kind: kind, At: time.Now()}
}

// NewDeviceErrorEvent creates a DeviceError event.
func NewDeviceErrorEvent(err error) DeviceEvent {
	return DeviceEvent{Kind: DeviceError, At: time.Now(), Err: err}
}
