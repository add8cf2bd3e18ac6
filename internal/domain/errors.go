// Package domain defines domain-specific errors.
// These errors represent coordination failures and are independent of infrastructure.
package domain

import (
	"errors"
	"fmt"
)

// Common errors that contexts can return.
var (
	// ErrTrackNotFound is returned when an intent references an unknown track id.
	ErrTrackNotFound = errors.New("track not found")

	// ErrPlaylistEmpty is returned when an operation requires a non-empty playlist.
	ErrPlaylistEmpty = errors.New("playlist is empty")

	// ErrDuplicateTrack is returned when a track id is already present in the playlist.
	ErrDuplicateTrack = errors.New("track already exists in playlist")

	// ErrNoListener is returned when a message is sent to an address nobody listens on.
	ErrNoListener = errors.New("no listener for message")

	// ErrAddressInUse is returned when a second listener registers for the same address.
	ErrAddressInUse = errors.New("address already has a listener")

	// ErrMailboxFull is returned when a fire-and-forget message is dropped.
	ErrMailboxFull = errors.New("mailbox full, message dropped")

	// ErrBusClosed is returned when the message bus has been shut down.
	ErrBusClosed = errors.New("message bus closed")

	// ErrEngineExists is returned by an engine host when an engine is already running.
	// Callers treat it as success.
	ErrEngineExists = errors.New("playback engine already exists")

	// ErrEngineUnavailable is returned when no engine exists and none can be created.
	ErrEngineUnavailable = errors.New("playback engine unavailable")

	// ErrMediaLoadTimeout is returned when a source does not become playable in time.
	ErrMediaLoadTimeout = errors.New("media load timed out")

	// ErrMediaLoadFailed is returned when the device rejects a source.
	ErrMediaLoadFailed = errors.New("media load failed")

	// ErrNoSource is returned when a device operation needs a bound source.
	ErrNoSource = errors.New("no source bound")

	// ErrUnsupportedFormat is returned when a source format cannot be decoded.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrUnknownMessage is returned when a message type is not part of the protocol.
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrNotFound is returned by state stores for missing keys.
	ErrNotFound = errors.New("key not found")

	// ErrScanInProgress is returned when a library scan is started while another runs.
	ErrScanInProgress = errors.New("scan already in progress")

	// ErrScanCancelled is returned when a library scan is cancelled.
	ErrScanCancelled = errors.New("scan cancelled")
)

// TransportError represents a failure to deliver a command to another context.
type TransportError struct {
	Op      string  // Operation that failed (e.g., "forward", "broadcast")
	To      Address // Destination context
	Message MessageType
	Err     error // Underlying error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s to %s failed: %v", e.Op, e.Message, e.To, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError.
func NewTransportError(op string, to Address, msg MessageType, err error) *TransportError {
	return &TransportError{
		Op:      op,
		To:      to,
		Message: msg,
		Err:     err,
	}
}

// MediaError represents an error from the media device.
// This wraps low-level decoder or network errors with additional context.
type MediaError struct {
	Op  string // Operation that failed (e.g., "load", "play", "seek")
	URL string // Source URL (if applicable)
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *MediaError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("media %s failed for '%s': %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("media %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *MediaError) Unwrap() error {
	return e.Err
}

// NewMediaError creates a new MediaError.
func NewMediaError(op, url string, err error) *MediaError {
	return &MediaError{
		Op:  op,
		URL: url,
		Err: err,
	}
}

// StoreError represents an error from a state store.
type StoreError struct {
	Op      string // Operation that failed (e.g., "get", "set")
	Backend string // Store backend (e.g., "sqlite", "redis")
	Key     string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s.%s(%q) failed: %v", e.Backend, e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, backend, key string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Backend: backend,
		Key:     key,
		Err:     err,
	}
}

// RemoteError carries an error message returned by another context.
type RemoteError struct {
	From    Address
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.From, e.Message)
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   any    // Value that failed validation
	Message string // Error message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}
