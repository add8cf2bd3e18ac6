//go:build !cgo

package app

import (
	"errors"

	"fyne.io/fyne/v2"
)

var errPreferencesUnavailable = errors.New("the preferences store needs a cgo build; use the sqlite store instead")

func openPreferences(_ string) (fyne.Preferences, error) {
	return nil, errPreferencesUnavailable
}
