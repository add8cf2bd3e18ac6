package fyne

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	fyneapp "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/tejashwikalptaru/tunebridge/internal/adapter/ui/fyne/widgets"
	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/res"
)

const (
	APPNAME = "TuneBridge"
	WIDTH   = 450
	HEIGHT  = 300

	// scrollWidth is the number of characters the song info shows at once
	scrollWidth = 32
)

// MainWindow is the main UI window implementing the UIView interface.
// It handles all UI rendering and user interactions.
//
// The MainWindow follows the MVP pattern:
// - It's a "dumb view" that just displays data
// - All business logic is in the Presenter
// - User interactions are forwarded to the Presenter
//
// View updates may arrive from any goroutine; they are applied with fyne.Do.
type MainWindow struct {
	app    fyneapp.App
	window fyneapp.Window
	logger *slog.Logger

	// UI components
	prevButton     *widget.Button
	playButton     *widget.Button
	stopButton     *widget.Button
	nextButton     *widget.Button
	listButton     *widget.Button
	songInfo       *widget.Label
	errorInfo      *widget.Label
	currentTime    *widget.Label
	endTime        *widget.Label
	progressSlider *widget.Slider
	volumeSlider   *widget.Slider
	artwork        *widget.Icon

	// State
	mu       sync.Mutex
	rotator  *widgets.Rotator
	tracks   []domain.Track
	current  int
	playlist *PlaylistWindow

	// Lifecycle management
	stopScroll chan struct{}
	closeOnce  sync.Once

	// Presenter (set after construction)
	presenter *Presenter
}

// NewMainWindow creates a new main window.
func NewMainWindow(app fyneapp.App, logger *slog.Logger) *MainWindow {
	w := &MainWindow{
		app:        app,
		logger:     logger,
		current:    domain.NoSelection,
		rotator:    widgets.NewRotator(noTrack, scrollWidth),
		stopScroll: make(chan struct{}),
	}

	// Create a window
	w.window = app.NewWindow(APPNAME)

	// Build UI
	w.buildUI()

	// Set window properties
	w.window.Resize(fyneapp.NewSize(WIDTH, HEIGHT))
	w.window.SetFixedSize(true)
	w.window.SetIcon(theme.MediaMusicIcon())

	return w
}

// SetPresenter connects the presenter to this view.
// This must be called before showing the window.
func (w *MainWindow) SetPresenter(presenter *Presenter) {
	w.presenter = presenter
	w.wirePresenterHandlers()
	w.addShortcuts()
}

// buildUI constructs the UI components.
func (w *MainWindow) buildUI() {
	w.artwork = widget.NewIcon(theme.MediaMusicIcon())

	// Control buttons
	w.prevButton = widget.NewButtonWithIcon("", theme.MediaSkipPreviousIcon(), nil)
	w.playButton = widget.NewButtonWithIcon("", theme.MediaPlayIcon(), nil)
	w.stopButton = widget.NewButtonWithIcon("", theme.MediaStopIcon(), nil)
	w.nextButton = widget.NewButtonWithIcon("", theme.MediaSkipNextIcon(), nil)
	w.listButton = widget.NewButtonWithIcon("", theme.ListIcon(), nil)

	// Song info label
	w.songInfo = widget.NewLabel(noTrack)
	w.songInfo.Truncation = fyneapp.TextTruncateClip
	w.songInfo.TextStyle = fyneapp.TextStyle{
		Bold:   true,
		Italic: true,
	}

	w.errorInfo = widget.NewLabel("")
	w.errorInfo.Importance = widget.DangerImportance
	w.errorInfo.Truncation = fyneapp.TextTruncateEllipsis
	w.errorInfo.Hide()

	// Volume slider
	w.volumeSlider = widget.NewSlider(0, 100)
	w.volumeSlider.Orientation = widget.Horizontal
	w.volumeSlider.Value = domain.DefaultVolume * 100
	volIcon := widget.NewIcon(theme.VolumeUpIcon())
	volumeHolder := container.NewHBox(volIcon, container.NewGridWrap(fyneapp.NewSize(100, 36), w.volumeSlider))

	// Button container
	buttonsHBox := container.NewHBox(
		w.prevButton, w.playButton, w.stopButton,
		w.nextButton, w.listButton,
	)
	buttonsHolder := container.NewBorder(nil, nil, buttonsHBox, volumeHolder, w.songInfo)

	// Progress slider
	w.progressSlider = widget.NewSlider(0, 1)
	w.currentTime = widget.NewLabel(formatTime(0))
	w.endTime = widget.NewLabel(formatTime(0))
	sliderHolder := container.NewBorder(nil, nil, w.currentTime, w.endTime, w.progressSlider)

	// Main layout
	controls := container.NewVBox(w.errorInfo, buttonsHolder, sliderHolder)
	splitContainer := container.NewBorder(nil, controls, nil, nil, w.artwork)
	w.window.SetContent(container.NewPadded(splitContainer))

	// Menu
	w.window.SetMainMenu(fyneapp.NewMainMenu(w.createMenu()...))
}

// wirePresenterHandlers connects UI events to presenter handlers.
// Handlers wait for the controller, so they run off the UI goroutine.
func (w *MainWindow) wirePresenterHandlers() {
	if w.presenter == nil {
		return
	}

	// Button handlers
	w.playButton.OnTapped = func() {
		go w.presenter.OnPlayClicked()
	}

	w.stopButton.OnTapped = func() {
		go w.presenter.OnStopClicked()
	}

	w.nextButton.OnTapped = func() {
		go w.presenter.OnNextClicked()
	}

	w.prevButton.OnTapped = func() {
		go w.presenter.OnPreviousClicked()
	}

	w.listButton.OnTapped = w.ShowPlaylistWindow

	// Sliders send once the drag ends; renders set their values without callbacks
	w.volumeSlider.OnChangeEnded = func(value float64) {
		go w.presenter.OnVolumeChanged(value)
	}

	w.progressSlider.OnChangeEnded = func(value float64) {
		go w.presenter.OnSeekRequested(value)
	}
}

// createMenu creates the application menu.
func (w *MainWindow) createMenu() []*fyneapp.Menu {
	separator := fyneapp.NewMenuItemSeparator()

	openFile := fyneapp.NewMenuItem("Open", w.handleOpenFile)
	openFolder := fyneapp.NewMenuItem("Open Folder", w.handleOpenFolder)
	openURL := fyneapp.NewMenuItem("Open URL", w.handleOpenURL)
	viewPlaylist := fyneapp.NewMenuItem("View Playlist", w.ShowPlaylistWindow)

	exitMenu := fyneapp.NewMenuItem("Exit", func() {
		w.window.Close()
	})

	about := fyneapp.NewMenuItem("About", func() {
		dialog.ShowCustom("About "+APPNAME, "Close", widget.NewRichTextFromMarkdown(res.AboutContent), w.window)
	})

	return []*fyneapp.Menu{
		fyneapp.NewMenu("File", openFile, openFolder, openURL, separator, viewPlaylist, separator, exitMenu),
		fyneapp.NewMenu("Help", about),
	}
}

// handleOpenFile handles the "Open File" menu action.
func (w *MainWindow) handleOpenFile() {
	if w.presenter == nil {
		return
	}

	NewFileDialog(w.window, func(filePath string) {
		go func() {
			if err := w.presenter.OnFileOpened(filePath); err != nil {
				w.ShowNotification("Error", fmt.Sprintf("Failed to open file: %v", err))
			}
		}()
	}, w.logger).Show()
}

// handleOpenFolder handles the "Open Folder" menu action.
func (w *MainWindow) handleOpenFolder() {
	if w.presenter == nil {
		return
	}

	NewFolderDialog(w.window, func(folderPath string) {
		go func() {
			if err := w.presenter.OnFolderOpened(folderPath); err != nil {
				w.ShowNotification("Error", fmt.Sprintf("Failed to scan folder: %v", err))
			}
		}()
	}, w.logger).Show()
}

// handleOpenURL handles the "Open URL" menu action.
func (w *MainWindow) handleOpenURL() {
	if w.presenter == nil {
		return
	}

	NewURLDialog(w.window, func(raw string) {
		go func() {
			if err := w.presenter.OnURLOpened(raw); err != nil {
				w.ShowNotification("Error", fmt.Sprintf("Failed to add stream: %v", err))
			}
		}()
	}).Show()
}

// addShortcuts adds keyboard shortcuts.
func (w *MainWindow) addShortcuts() {
	w.window.Canvas().AddShortcut(&desktop.CustomShortcut{
		KeyName:  fyneapp.KeyUp,
		Modifier: fyneapp.KeyModifierAlt,
	}, func(fyneapp.Shortcut) {
		w.nudgeVolume(5)
	})

	w.window.Canvas().AddShortcut(&desktop.CustomShortcut{
		KeyName:  fyneapp.KeyDown,
		Modifier: fyneapp.KeyModifierAlt,
	}, func(fyneapp.Shortcut) {
		w.nudgeVolume(-5)
	})

	w.window.Canvas().SetOnTypedKey(func(ev *fyneapp.KeyEvent) {
		if ev.Name == fyneapp.KeySpace && w.presenter != nil {
			go w.presenter.OnPlayClicked()
		}
	})
}

func (w *MainWindow) nudgeVolume(delta float64) {
	value := math.Max(0, math.Min(100, w.volumeSlider.Value+delta))
	w.volumeSlider.Value = value
	w.volumeSlider.Refresh()
	go w.presenter.OnVolumeChanged(value)
}

// startScrollInfoRoutine scrolls the song info while it is longer than the label.
func (w *MainWindow) startScrollInfoRoutine() {
	go func() {
		ticker := time.NewTicker(400 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.mu.Lock()
				text := w.rotator.Rotate()
				w.mu.Unlock()

				fyneapp.Do(func() {
					w.songInfo.SetText(text)
				})
			case <-w.stopScroll:
				return
			}
		}
	}()
}

// ShowAndRun shows the window and runs the application.
// This also starts the song info scrolling animation.
func (w *MainWindow) ShowAndRun() {
	w.window.SetOnClosed(w.stopScrolling)
	w.startScrollInfoRoutine()
	w.window.ShowAndRun()
}

// Close closes the window and stops the scrolling animation.
// It's safe to call multiple times (idempotent).
func (w *MainWindow) Close() {
	w.stopScrolling()
	fyneapp.Do(w.window.Close)
}

func (w *MainWindow) stopScrolling() {
	w.closeOnce.Do(func() {
		close(w.stopScroll)
	})
}

// GetWindow returns the underlying Fyne window.
func (w *MainWindow) GetWindow() fyneapp.Window {
	return w.window
}

// ShowPlaylistWindow opens the playlist window, or focuses it if it is open.
func (w *MainWindow) ShowPlaylistWindow() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.playlist != nil {
		w.playlist.window.RequestFocus()
		return
	}

	w.playlist = NewPlaylistWindow(w.app, w.presenter)
	w.playlist.Update(w.tracks, w.current)
	w.playlist.SetOnWindowClosed(func() {
		w.mu.Lock()
		w.playlist = nil
		w.mu.Unlock()
	})
	w.playlist.Show()
}

// UIView interface implementation

// SetPlayState updates the play/pause button state.
func (w *MainWindow) SetPlayState(playing bool) {
	fyneapp.Do(func() {
		if playing {
			w.playButton.SetIcon(theme.MediaPauseIcon())
		} else {
			w.playButton.SetIcon(theme.MediaPlayIcon())
		}
	})
}

// SetVolume updates the volume slider.
func (w *MainWindow) SetVolume(volume float64) {
	fyneapp.Do(func() {
		// Convert from 0.0-1.0 to 0-100
		w.volumeSlider.Value = volume * 100.0
		w.volumeSlider.Refresh()
	})
}

// SetTrackInfo updates the displayed track name.
func (w *MainWindow) SetTrackInfo(title string) {
	w.mu.Lock()
	if w.rotator.Text() == title {
		w.mu.Unlock()
		return
	}
	w.rotator = widgets.NewRotator(title, scrollWidth)
	w.mu.Unlock()

	fyneapp.Do(func() {
		w.songInfo.SetText(title)
	})
}

// SetCurrentTime updates the current playback time display.
func (w *MainWindow) SetCurrentTime(seconds float64) {
	fyneapp.Do(func() {
		w.currentTime.SetText(formatTime(seconds))
	})
}

// SetTotalTime updates the total track duration display.
func (w *MainWindow) SetTotalTime(seconds float64) {
	fyneapp.Do(func() {
		w.progressSlider.Max = math.Max(seconds, 1)
		w.endTime.SetText(formatTime(seconds))
	})
}

// SetProgress updates the progress slider position.
func (w *MainWindow) SetProgress(position, duration float64) {
	fyneapp.Do(func() {
		if duration > 0 {
			w.progressSlider.Value = math.Min(position, duration)
		} else {
			w.progressSlider.Value = 0
		}
		w.progressSlider.Refresh()
	})
}

// SetPlaylist keeps the playlist for the playlist window.
func (w *MainWindow) SetPlaylist(tracks []domain.Track, current int) {
	w.mu.Lock()
	w.tracks = tracks
	w.current = current
	playlist := w.playlist
	w.mu.Unlock()

	if playlist != nil {
		fyneapp.Do(func() {
			playlist.Update(tracks, current)
		})
	}
}

// SetError shows the last engine error, or hides the line when message is empty.
func (w *MainWindow) SetError(message string) {
	fyneapp.Do(func() {
		if message == "" {
			w.errorInfo.Hide()
			return
		}
		w.errorInfo.SetText(message)
		w.errorInfo.Show()
	})
}

// ShowNotification displays a system notification.
func (w *MainWindow) ShowNotification(title, message string) {
	w.app.SendNotification(fyneapp.NewNotification(title, message))
}

func formatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	return fmt.Sprintf("%.2d:%.2d", int(seconds/60), int(math.Mod(seconds, 60)))
}

// Verify UIView implementation
var _ UIView = (*MainWindow)(nil)
