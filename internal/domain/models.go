// Package domain contains the core playback coordination model with no infrastructure dependencies.
// It defines tracks, the canonical playlist/transport state, device snapshots and the message taxonomy
// exchanged between the controller, engine and panel contexts.
package domain

import (
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"
)

// Track is a single playable entry in the playlist.
// Tracks are immutable once added; they only leave the playlist by removal.
type Track struct {
	// ID is an opaque unique identifier assigned at creation time.
	// Two tracks with the same URL still get distinct IDs.
	ID string `json:"id"`

	// Name is the display string
	Name string `json:"name"`

	// URL locates the playable resource (remote URL, file URL or local path)
	URL string `json:"url"`

	// DurationHint is the expected length in seconds, 0 if unknown
	DurationHint float64 `json:"durationHint,omitempty"`

	// SizeHint is the resource size in bytes, 0 if unknown
	SizeHint int64 `json:"sizeHint,omitempty"`
}

// NoSelection is the CurrentIndex value of an empty playlist.
const NoSelection = -1

// DefaultVolume is the volume of a freshly created state.
const DefaultVolume = 1.0

// PlayFlag is the two-phase "is playing" flag.
//
// Requested is written optimistically by the controller when it forwards a transport
// command. Observed is written from engine snapshots, which are the only source that can
// see the real device. An observation that arrived after the last request wins.
type PlayFlag struct {
	Requested      bool `json:"requested"`
	Observed       bool `json:"observed"`
	HasObservation bool `json:"hasObservation"`
}

// Request records an optimistic play/stop decision and invalidates the last observation.
func (f *PlayFlag) Request(playing bool) {
	f.Requested = playing
	f.HasObservation = false
}

// Observe records the device-reported playing state.
func (f *PlayFlag) Observe(playing bool) {
	f.Observed = playing
	f.HasObservation = true
}

// Effective returns the value the rest of the system should treat as "is playing".
func (f PlayFlag) Effective() bool {
	if f.HasObservation {
		return f.Observed
	}
	return f.Requested
}

// State is the canonical playlist + transport record.
// Only the controller mutates it; every other context holds a copy received by message.
type State struct {
	Playlist []Track `json:"playlist"`

	// IsPlaying mirrors Play.Effective() so that copies can be rendered without recomputation
	IsPlaying    bool    `json:"isPlaying"`
	CurrentIndex int     `json:"currentIndex"`
	CurrentTime  float64 `json:"currentTime"`
	Duration     float64 `json:"duration"`
	Volume       float64 `json:"volume"`

	Play PlayFlag `json:"play"`

	// LastError holds the last engine error message, for display only
	LastError string `json:"lastError,omitempty"`

	// Epoch increases on every applied mutation within a controller session.
	Epoch uint64 `json:"epoch"`

	// Session identifies the controller instance that produced this copy.
	Session string `json:"session,omitempty"`
}

// DefaultState returns the state used on first controller startup.
func DefaultState() State {
	return State{
		Playlist:     []Track{},
		CurrentIndex: NoSelection,
		Volume:       DefaultVolume,
	}
}

// Clone returns a deep copy safe to hand to another context.
func (s State) Clone() State {
	out := s
	out.Playlist = slices.Clone(s.Playlist)
	if out.Playlist == nil {
		out.Playlist = []Track{}
	}
	return out
}

// IndexOf returns the playlist position of the track with the given ID, or -1.
func (s State) IndexOf(id string) int {
	_, index, found := lo.FindIndexOf(s.Playlist, func(t Track) bool {
		return t.ID == id
	})
	if !found {
		return -1
	}
	return index
}

// Current returns the selected track, if any.
func (s State) Current() (Track, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Playlist) {
		return Track{}, false
	}
	return s.Playlist[s.CurrentIndex], true
}

// Validate checks the structural invariants that must hold after every applied mutation.
func (s State) Validate() error {
	if len(s.Playlist) == 0 {
		if s.CurrentIndex != NoSelection {
			return NewValidationError("currentIndex", s.CurrentIndex, "must be -1 for an empty playlist")
		}
	} else if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Playlist) {
		return NewValidationError("currentIndex", s.CurrentIndex,
			fmt.Sprintf("must be within [0,%d)", len(s.Playlist)))
	}

	if s.Volume < 0 || s.Volume > 1 {
		return NewValidationError("volume", s.Volume, "must be within [0,1]")
	}

	if s.CurrentTime < 0 {
		return NewValidationError("currentTime", s.CurrentTime, "must not be negative")
	}

	if s.Duration < 0 {
		return NewValidationError("duration", s.Duration, "must not be negative")
	}

	return ValidatePlaylist(s.Playlist)
}

// ValidatePlaylist rejects playlists with empty or duplicate track IDs.
func ValidatePlaylist(tracks []Track) error {
	seen := make(map[string]struct{}, len(tracks))
	for i, t := range tracks {
		if t.ID == "" {
			return NewValidationError(fmt.Sprintf("playlist[%d].id", i), t.ID, "must not be empty")
		}
		if _, dup := seen[t.ID]; dup {
			return NewValidationError(fmt.Sprintf("playlist[%d].id", i), t.ID, "duplicate track id")
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// ClampVolume restricts v to [0,1]. NaN is treated as silence.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return lo.Clamp(v, 0, 1)
}

// NonNegative returns v, or 0 for negative and non-finite values.
func NonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// DeviceSnapshot is the engine's view of its media device.
type DeviceSnapshot struct {
	// Source is the URL currently bound to the device, empty if none
	Source      string  `json:"source"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Volume      float64 `json:"volume"`
	Paused      bool    `json:"paused"`
	Ended       bool    `json:"ended"`
}

// Playing reports whether the device is actually producing audio.
func (s DeviceSnapshot) Playing() bool {
	return !s.Paused && !s.Ended
}

// Address names a context endpoint on the message bus.
type Address string

const (
	// AddressController is the long-lived coordinator context.
	AddressController Address = "controller"

	// AddressEngine is the lazily created playback engine context.
	AddressEngine Address = "engine"
)
