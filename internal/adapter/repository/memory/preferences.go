package memory

import (
	"context"
	"sync"

	"fyne.io/fyne/v2"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// preferencesKeyPrefix namespaces state records inside the shared preferences file.
const preferencesKeyPrefix = "tunebridge."

// PreferencesStore implements ports.StateStore using Fyne preferences.
// Values are stored as strings under "tunebridge.<key>"; the persisted record is JSON text.
//
// Thread-safe: All operations protected by sync.RWMutex.
type PreferencesStore struct {
	prefs fyne.Preferences
	mu    sync.RWMutex
}

// NewPreferencesStore creates a store on top of an application's preferences.
// The preferences parameter should be obtained from app.Preferences().
func NewPreferencesStore(prefs fyne.Preferences) *PreferencesStore {
	return &PreferencesStore{
		prefs: prefs,
	}
}

// Get retrieves the value saved under key.
func (s *PreferencesStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := s.prefs.String(preferencesKeyPrefix + key)
	if data == "" {
		return nil, domain.ErrNotFound
	}
	return []byte(data), nil
}

// Set persists value under key.
func (s *PreferencesStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs.SetString(preferencesKeyPrefix+key, string(value))
	return nil
}

// Remove deletes the value saved under key.
func (s *PreferencesStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs.RemoveValue(preferencesKeyPrefix + key)
}

// Close is a no-op; the application owns the preferences.
func (s *PreferencesStore) Close() error {
	return nil
}

// Verify interface implementation
var _ ports.StateStore = (*PreferencesStore)(nil)
