package fyne

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/tunebridge/internal/adapter/audio/mock"
	"github.com/tejashwikalptaru/tunebridge/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/tunebridge/internal/adapter/repository/memory"
	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/logger"
	"github.com/tejashwikalptaru/tunebridge/internal/service"
)

// fakeView records what the presenter renders.
type fakeView struct {
	mu            sync.Mutex
	playing       bool
	volume        float64
	title         string
	current       float64
	total         float64
	tracks        []domain.Track
	index         int
	errMessage    string
	notifications []string
}

func (v *fakeView) SetPlayState(playing bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = playing
}

func (v *fakeView) SetVolume(volume float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.volume = volume
}

func (v *fakeView) SetTrackInfo(title string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.title = title
}

func (v *fakeView) SetCurrentTime(seconds float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = seconds
}

func (v *fakeView) SetTotalTime(seconds float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total = seconds
}

func (v *fakeView) SetProgress(_, _ float64) {}

func (v *fakeView) SetPlaylist(tracks []domain.Track, current int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracks = tracks
	v.index = current
}

func (v *fakeView) SetError(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errMessage = message
}

func (v *fakeView) ShowNotification(title, _ string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notifications = append(v.notifications, title)
}

func (v *fakeView) Title() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.title
}

func (v *fakeView) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

func (v *fakeView) Volume() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volume
}

func (v *fakeView) Playlist() ([]domain.Track, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tracks, v.index
}

func (v *fakeView) Notifications() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.notifications...)
}

// newTestPresenter runs a controller with a mock engine and a panel on a local bus.
func newTestPresenter(t *testing.T) (*Presenter, *fakeView) {
	t.Helper()

	log := logger.NewTestLogger()
	bus := eventbus.NewLocalBus()
	host := service.NewLocalEngineHost(log, bus, mock.Factory(nil), time.Second, nil)
	writer := service.NewStateWriter(log, memory.NewStore())

	controller := service.NewControllerService(log, bus, host, writer, domain.DefaultState(),
		service.ControllerConfig{CommandTimeout: time.Second}, nil)
	require.NoError(t, controller.Start())

	panel := service.NewPanelService(log, bus,
		service.PanelConfig{PollInterval: time.Hour, RequestTimeout: time.Second}, nil)
	require.NoError(t, panel.Activate(context.Background()))

	view := &fakeView{}
	p := NewPresenter(log, panel, service.NewLibraryService(log), view)

	t.Cleanup(func() {
		p.Shutdown()
		panel.Deactivate()
		controller.Stop()
		host.Teardown()
		bus.Close()
	})
	return p, view
}

func TestPresenter_RendersInitialState(t *testing.T) {
	_, view := newTestPresenter(t)

	assert.Equal(t, noTrack, view.Title())
	assert.False(t, view.Playing())
	assert.InDelta(t, domain.DefaultVolume, view.Volume(), 0.0001)

	tracks, index := view.Playlist()
	assert.Empty(t, tracks)
	assert.Equal(t, domain.NoSelection, index)
}

func TestPresenter_AddAndPlay(t *testing.T) {
	p, view := newTestPresenter(t)

	require.NoError(t, p.OnURLOpened("https://example.com/radio.mp3"))

	tracks, index := view.Playlist()
	require.Len(t, tracks, 1)
	assert.Equal(t, 0, index)
	assert.Equal(t, tracks[0].Name, view.Title())

	p.OnPlayClicked()
	assert.Eventually(t, view.Playing, time.Second, 10*time.Millisecond)

	// A second click pauses
	p.OnPlayClicked()
	assert.Eventually(t, func() bool { return !view.Playing() }, time.Second, 10*time.Millisecond)
}

func TestPresenter_PlaylistSelection(t *testing.T) {
	p, view := newTestPresenter(t)

	require.NoError(t, p.OnURLOpened("https://example.com/a.mp3"))
	require.NoError(t, p.OnURLOpened("https://example.com/b.mp3"))

	tracks, _ := view.Playlist()
	require.Len(t, tracks, 2)

	require.NoError(t, p.OnPlaylistTrackSelected(tracks[1].ID))
	_, index := view.Playlist()
	assert.Equal(t, 1, index)
	assert.Eventually(t, view.Playing, time.Second, 10*time.Millisecond)

	require.NoError(t, p.OnPlaylistTrackRemoved(tracks[0].ID))
	remaining, index := view.Playlist()
	require.Len(t, remaining, 1)
	assert.Equal(t, tracks[1].ID, remaining[0].ID)
	assert.Equal(t, 0, index)
}

func TestPresenter_VolumeChanged(t *testing.T) {
	p, view := newTestPresenter(t)

	volumeIs := func(want float64) func() bool {
		return func() bool { return math.Abs(view.Volume()-want) < 0.0001 }
	}

	p.OnVolumeChanged(40)
	assert.Eventually(t, volumeIs(0.4), time.Second, 10*time.Millisecond)

	// Out of range is clamped
	p.OnVolumeChanged(250)
	assert.Eventually(t, volumeIs(1.0), time.Second, 10*time.Millisecond)
}

func TestPresenter_InvalidURL(t *testing.T) {
	p, view := newTestPresenter(t)

	assert.Error(t, p.OnURLOpened("ftp://example.com/a.mp3"))
	tracks, _ := view.Playlist()
	assert.Empty(t, tracks)
}

func TestPresenter_NotifiesFailedIntent(t *testing.T) {
	log := logger.NewTestLogger()
	bus := eventbus.NewLocalBus()
	defer bus.Close()

	// No controller is listening
	panel := service.NewPanelService(log, bus,
		service.PanelConfig{PollInterval: time.Hour, RequestTimeout: 100 * time.Millisecond}, nil)
	view := &fakeView{}
	p := NewPresenter(log, panel, service.NewLibraryService(log), view)
	defer p.Shutdown()

	// The held volume is zero, so this is not a change
	p.OnVolumeChanged(0)
	assert.Empty(t, view.Notifications())

	p.OnStopClicked()
	assert.Equal(t, []string{"Playback Error"}, view.Notifications())
}

func TestPresenter_Shutdown(t *testing.T) {
	p, view := newTestPresenter(t)

	p.Shutdown()
	p.Shutdown()

	// The panel no longer renders into the view
	require.NoError(t, p.OnURLOpened("https://example.com/a.mp3"))
	tracks, _ := view.Playlist()
	assert.Empty(t, tracks)
}
