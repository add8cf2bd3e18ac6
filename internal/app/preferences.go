//go:build cgo

package app

import (
	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
)

// openPreferences opens the Fyne preferences file of appID without showing a window.
func openPreferences(appID string) (fyne.Preferences, error) {
	return fyneapp.NewWithID(appID).Preferences(), nil
}
