// Package fyne provides the desktop panel built with the Fyne toolkit.
// The window renders the shared state a PanelService holds and turns clicks into intents.
package fyne

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/service"
)

// UIView defines the interface for UI updates.
// The actual UI implementation (MainWindow) must implement this interface.
type UIView interface {
	// Playback state updates
	SetPlayState(playing bool)
	SetVolume(volume float64)

	// Track information updates
	SetTrackInfo(title string)

	// Progress updates
	SetCurrentTime(seconds float64)
	SetTotalTime(seconds float64)
	SetProgress(position, duration float64)

	// Playlist updates
	SetPlaylist(tracks []domain.Track, current int)

	// Notifications
	SetError(message string)
	ShowNotification(title, message string)
}

// Presenter implements the Presenter pattern (MVP architecture).
// It maps every state the panel receives onto the view and translates UI commands
// into intents for the controller.
//
// Thread-safety: All operations are thread-safe via sync.RWMutex. Handlers block
// until the controller answers, so the view calls them off the UI goroutine.
type Presenter struct {
	// Dependencies
	logger *slog.Logger

	// Services (injected)
	panel   *service.PanelService
	library *service.LibraryService

	// UI view
	view UIView

	// Presentation state
	state    domain.State
	hasState bool
	timeout  time.Duration

	mu           sync.RWMutex
	shutdownOnce sync.Once
}

// NewPresenter creates a new presenter and renders the state the panel already holds.
func NewPresenter(
	logger *slog.Logger,
	panel *service.PanelService,
	library *service.LibraryService,
	view UIView,
) *Presenter {
	p := &Presenter{
		logger:  logger,
		panel:   panel,
		library: library,
		view:    view,
		timeout: 10 * time.Second,
	}

	panel.SetOnChange(p.render)

	if s, ok := panel.State(); ok {
		p.render(s)
	} else {
		p.view.SetTrackInfo(noTrack)
	}

	return p
}

const noTrack = "No track loaded"

// render maps a state onto the view.
func (p *Presenter) render(s domain.State) {
	p.mu.Lock()
	p.state = s
	p.hasState = true
	p.mu.Unlock()

	p.view.SetPlayState(s.IsPlaying)
	p.view.SetVolume(s.Volume)

	if t, ok := s.Current(); ok {
		p.view.SetTrackInfo(t.Name)
	} else {
		p.view.SetTrackInfo(noTrack)
	}

	p.view.SetTotalTime(s.Duration)
	p.view.SetCurrentTime(s.CurrentTime)
	p.view.SetProgress(s.CurrentTime, s.Duration)
	p.view.SetPlaylist(s.Playlist, s.CurrentIndex)
	p.view.SetError(s.LastError)
}

// State returns the last rendered state.
func (p *Presenter) State() (domain.State, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Clone(), p.hasState
}

func (p *Presenter) send(op string, fn func(ctx context.Context) (domain.State, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if _, err := fn(ctx); err != nil {
		p.logger.Error("intent failed", slog.String("op", op), slog.Any("error", err))
		p.view.ShowNotification("Playback Error", fmt.Sprintf("Failed to %s: %v", op, err))
		return err
	}
	return nil
}

// UI Command handlers (called by UI)

// OnPlayClicked toggles between play and pause.
func (p *Presenter) OnPlayClicked() {
	s, _ := p.State()
	if s.IsPlaying {
		_ = p.send("pause", p.panel.Pause)
		return
	}
	_ = p.send("start playback", p.panel.Play)
}

// OnStopClicked handles the stop button click.
func (p *Presenter) OnStopClicked() {
	_ = p.send("stop playback", p.panel.Stop)
}

// OnNextClicked handles the next button click.
func (p *Presenter) OnNextClicked() {
	_ = p.send("select next track", p.panel.Next)
}

// OnPreviousClicked handles the previous button click.
func (p *Presenter) OnPreviousClicked() {
	_ = p.send("select previous track", p.panel.Previous)
}

// OnVolumeChanged handles volume slider changes (0-100).
func (p *Presenter) OnVolumeChanged(volume float64) {
	normalized := domain.ClampVolume(volume / 100.0)

	// Renders move the slider too; only user changes become intents
	s, _ := p.State()
	if math.Abs(s.Volume-normalized) < 0.005 {
		return
	}

	_ = p.send("change volume", func(ctx context.Context) (domain.State, error) {
		return p.panel.SetVolume(ctx, normalized)
	})
}

// OnSeekRequested handles seek requests from the progress slider.
func (p *Presenter) OnSeekRequested(position float64) {
	_ = p.send("seek", func(ctx context.Context) (domain.State, error) {
		return p.panel.Seek(ctx, position)
	})
}

// OnFileOpened adds a local file to the playlist.
func (p *Presenter) OnFileOpened(filePath string) error {
	track, err := p.library.TrackFromFile(filePath)
	if err != nil {
		return err
	}
	return p.send("add track", func(ctx context.Context) (domain.State, error) {
		return p.panel.AddTrack(ctx, track)
	})
}

// OnURLOpened adds a remote stream to the playlist.
func (p *Presenter) OnURLOpened(raw string) error {
	track, err := p.library.TrackFromURL(raw)
	if err != nil {
		return err
	}
	return p.send("add track", func(ctx context.Context) (domain.State, error) {
		return p.panel.AddTrack(ctx, track)
	})
}

// OnFolderOpened adds every supported file under folderPath.
func (p *Presenter) OnFolderOpened(folderPath string) error {
	p.view.ShowNotification("Scan Started", fmt.Sprintf("Scanning: %s", folderPath))

	tracks, err := p.library.ScanFolder(context.Background(), folderPath)
	if err != nil {
		return err
	}

	for _, track := range tracks {
		if err := p.send("add track", func(ctx context.Context) (domain.State, error) {
			return p.panel.AddTrack(ctx, track)
		}); err != nil {
			return err
		}
	}

	p.view.ShowNotification("Scan Complete", fmt.Sprintf("Found %d tracks", len(tracks)))
	return nil
}

// OnCancelScan stops a folder scan in progress.
func (p *Presenter) OnCancelScan() {
	if err := p.library.CancelScan(); err != nil {
		p.logger.Debug("cancel scan", slog.Any("error", err))
		return
	}
	p.view.ShowNotification("Scan Cancelled", "Scan was cancelled")
}

// OnPlaylistTrackSelected selects a track from the playlist window and starts it.
func (p *Presenter) OnPlaylistTrackSelected(trackID string) error {
	err := p.send("select track", func(ctx context.Context) (domain.State, error) {
		return p.panel.SelectTrack(ctx, trackID)
	})
	if err != nil {
		return err
	}

	// Selecting while playing already restarts playback
	if s, _ := p.State(); !s.IsPlaying {
		return p.send("start playback", p.panel.Play)
	}
	return nil
}

// OnPlaylistTrackRemoved removes a track from the playlist window.
func (p *Presenter) OnPlaylistTrackRemoved(trackID string) error {
	return p.send("remove track", func(ctx context.Context) (domain.State, error) {
		return p.panel.RemoveTrack(ctx, trackID)
	})
}

// Shutdown detaches the presenter from the panel.
// It's safe to call multiple times (idempotent).
func (p *Presenter) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.panel.SetOnChange(nil)
	})
}
