package fyne

import (
	"fmt"
	"strings"

	fyneapp "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/tejashwikalptaru/tunebridge/internal/adapter/ui/fyne/widgets"
	"github.com/tejashwikalptaru/tunebridge/internal/domain"
)

// PlaylistWindow manages the playlist view window.
// It displays the shared playlist with search functionality. The main window
// feeds it every new playlist through Update, on the UI goroutine.
type PlaylistWindow struct {
	window      fyneapp.Window
	app         fyneapp.App
	list        *widget.List
	searchEntry *widget.Entry

	// Data state
	data           []domain.Track // Filtered view (shown in the list)
	mainCollection []domain.Track // Full playlist
	currentIndex   int            // Selected track index in mainCollection

	// Dependencies
	presenter *Presenter

	// Lifecycle
	onWindowClosed func()
	isVisible      bool
}

// NewPlaylistWindow creates a new playlist window.
func NewPlaylistWindow(app fyneapp.App, presenter *Presenter) *PlaylistWindow {
	w := &PlaylistWindow{
		app:          app,
		presenter:    presenter,
		currentIndex: domain.NoSelection,
	}

	// Create the window
	w.window = app.NewWindow("Playlist")
	w.window.Resize(fyneapp.NewSize(500, 600))

	// Build UI
	w.buildUI()

	// Set window close handler
	w.window.SetOnClosed(func() {
		w.isVisible = false
		if w.onWindowClosed != nil {
			w.onWindowClosed()
		}
	})

	w.updateWindowTitle()
	return w
}

// buildUI constructs the playlist window UI layout.
func (w *PlaylistWindow) buildUI() {
	// Create the search entry
	w.searchEntry = widget.NewEntry()
	w.searchEntry.SetPlaceHolder("Search...")
	w.searchEntry.OnChanged = func(query string) {
		w.searchCollection(query)
	}

	// Create the list widget
	w.list = widget.NewList(
		func() int {
			return len(w.data)
		},
		func() fyneapp.CanvasObject {
			return w.createCell()
		},
		func(i widget.ListItemID, obj fyneapp.CanvasObject) {
			w.updateCell(i, obj)
		},
	)

	// Create layout
	content := container.NewBorder(
		w.searchEntry, // Top
		nil,           // Bottom
		nil,           // Left
		nil,           // Right
		w.list,        // Center
	)

	w.window.SetContent(content)
}

// createCell creates a new cell for the list.
func (w *PlaylistWindow) createCell() fyneapp.CanvasObject {
	label := widgets.NewDoubleTapLabel(w.onCellDoubleTapped)
	label.SetSecondaryTapped(w.onCellSecondaryTapped)
	return label
}

// updateCell updates a list cell with track information.
func (w *PlaylistWindow) updateCell(i widget.ListItemID, obj fyneapp.CanvasObject) {
	label, ok := obj.(*widgets.DoubleTapLabel)
	if !ok {
		return
	}

	if i < 0 || i >= len(w.data) {
		return
	}

	label.SetIndex(i)
	label.SetText(displayName(w.data[i]))
}

// onCellDoubleTapped selects and plays the tapped track.
func (w *PlaylistWindow) onCellDoubleTapped(index int) {
	track, ok := w.trackAt(index)
	if !ok || w.presenter == nil {
		return
	}

	// Route through presenter (MVP pattern)
	go func() {
		_ = w.presenter.OnPlaylistTrackSelected(track.ID)
	}()
}

// onCellSecondaryTapped offers to remove the tapped track.
func (w *PlaylistWindow) onCellSecondaryTapped(index int, pos fyneapp.Position) {
	track, ok := w.trackAt(index)
	if !ok || w.presenter == nil {
		return
	}

	menu := fyneapp.NewMenu("",
		fyneapp.NewMenuItem("Play", func() {
			go func() { _ = w.presenter.OnPlaylistTrackSelected(track.ID) }()
		}),
		fyneapp.NewMenuItem("Remove", func() {
			go func() { _ = w.presenter.OnPlaylistTrackRemoved(track.ID) }()
		}),
	)
	widget.ShowPopUpMenuAtPosition(menu, w.window.Canvas(), pos)
}

func (w *PlaylistWindow) trackAt(filteredIndex int) (domain.Track, bool) {
	if filteredIndex < 0 || filteredIndex >= len(w.data) {
		return domain.Track{}, false
	}
	return w.data[filteredIndex], true
}

// findFilteredIndex finds the filtered data index for a given main collection index.
// Returns -1 if the track at mainIndex is not in the filtered data (filtered out by search).
func (w *PlaylistWindow) findFilteredIndex(mainIndex int) int {
	if mainIndex < 0 || mainIndex >= len(w.mainCollection) {
		return -1
	}

	// If no filter is active, indices are the same
	if w.searchEntry.Text == "" {
		return mainIndex
	}

	target := w.mainCollection[mainIndex].ID
	for i, track := range w.data {
		if track.ID == target {
			return i
		}
	}

	// Track is filtered out
	return -1
}

// Update replaces the shown playlist and highlights the current track.
// It must run on the UI goroutine.
func (w *PlaylistWindow) Update(tracks []domain.Track, current int) {
	w.mainCollection = tracks
	w.currentIndex = current

	// Re-apply search filter if active
	w.searchCollection(w.searchEntry.Text)
	w.highlightCurrent()
}

func (w *PlaylistWindow) highlightCurrent() {
	if w.currentIndex < 0 {
		w.list.UnselectAll()
		return
	}

	filteredIndex := w.findFilteredIndex(w.currentIndex)
	if filteredIndex < 0 {
		// Current track is filtered out by search
		w.list.UnselectAll()
		return
	}
	w.list.Select(filteredIndex)
}

// searchCollection filters the playlist based on the search query.
func (w *PlaylistWindow) searchCollection(query string) {
	query = strings.ToLower(strings.TrimSpace(query))

	if query == "" {
		w.data = w.mainCollection
	} else {
		filtered := make([]domain.Track, 0, len(w.mainCollection))
		for _, track := range w.mainCollection {
			if matchesSearch(track, query) {
				filtered = append(filtered, track)
			}
		}
		w.data = filtered
	}

	w.updateWindowTitle()
	w.list.Refresh()
}

// matchesSearch checks if a track matches a lower-cased search query.
func matchesSearch(track domain.Track, query string) bool {
	return strings.Contains(strings.ToLower(track.Name), query) ||
		strings.Contains(strings.ToLower(track.URL), query)
}

func displayName(track domain.Track) string {
	if track.Name != "" {
		return track.Name
	}
	return track.URL
}

// updateWindowTitle updates the window title with the track count.
func (w *PlaylistWindow) updateWindowTitle() {
	w.window.SetTitle(fmt.Sprintf("Playlist (%d items)", len(w.data)))
}

// Show displays the playlist window.
func (w *PlaylistWindow) Show() {
	w.isVisible = true
	w.window.Show()
}

// Close closes the playlist window.
func (w *PlaylistWindow) Close() {
	w.isVisible = false
	w.window.Close()
}

// IsVisible returns whether the window is currently visible.
func (w *PlaylistWindow) IsVisible() bool {
	return w.isVisible
}

// SetOnWindowClosed sets a callback to be invoked when the window is closed.
// This allows the parent (MainWindow) to be notified and clear its reference.
func (w *PlaylistWindow) SetOnWindowClosed(callback func()) {
	w.onWindowClosed = callback
}
