package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/tunebridge/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/logger"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
	"github.com/tejashwikalptaru/tunebridge/internal/testutil"
)

// fakeController answers GET_STATE with a settable state and every other intent with handle.
type fakeController struct {
	mu     sync.Mutex
	state  domain.State
	handle func(domain.Message) domain.Message
	wg     sync.WaitGroup
}

func startFakeController(t *testing.T, bus ports.MessageBus, initial domain.State) *fakeController {
	t.Helper()

	in, err := bus.Listen(domain.AddressController)
	require.NoError(t, err)

	fc := &fakeController{state: initial}
	fc.wg.Add(1)
	go func() {
		defer fc.wg.Done()
		for {
			select {
			case d := <-in.C():
				go d.Respond(fc.answer(d.Message))
			case <-in.Done():
				return
			}
		}
	}()

	t.Cleanup(func() {
		in.Close()
		fc.wg.Wait()
	})

	return fc
}

func (fc *fakeController) answer(msg domain.Message) domain.Message {
	fc.mu.Lock()
	handle := fc.handle
	state := fc.state.Clone()
	fc.mu.Unlock()

	if _, ok := msg.(domain.GetState); ok || handle == nil {
		return domain.StateReply{State: state}
	}
	return handle(msg)
}

func (fc *fakeController) Set(s domain.State) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.state = s
}

func (fc *fakeController) OnIntent(fn func(domain.Message) domain.Message) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.handle = fn
}

func newTestPanel(t *testing.T, bus ports.MessageBus, poll time.Duration) *PanelService {
	t.Helper()

	p := NewPanelService(logger.NewTestLogger(), bus, PanelConfig{PollInterval: poll, RequestTimeout: time.Second}, nil)
	t.Cleanup(p.Deactivate)
	return p
}

func sessionState(session string, epoch uint64, tracks []domain.Track) domain.State {
	s := stateWith(tracks)
	s.Session = session
	s.Epoch = epoch
	return s
}

func TestPanelService_MergeRule(t *testing.T) {
	bus := eventbus.NewLocalBus()
	defer bus.Close()
	p := newTestPanel(t, bus, time.Hour)

	_, has := p.State()
	assert.False(t, has)

	assert.True(t, p.merge(sessionState("a", 5, createTestTracks(1)), fromBroadcast))
	assert.False(t, p.merge(sessionState("a", 3, createTestTracks(2)), fromBroadcast), "older epoch")
	assert.True(t, p.merge(sessionState("a", 5, createTestTracks(2)), fromBroadcast), "equal epoch")
	assert.True(t, p.merge(sessionState("b", 1, createTestTracks(3)), fromBroadcast), "new session")

	s, has := p.State()
	assert.True(t, has)
	assert.Equal(t, "b", s.Session)
	assert.Len(t, s.Playlist, 3)
}

func TestPanelService_MergeSessionChange(t *testing.T) {
	bus := eventbus.NewLocalBus()
	defer bus.Close()
	p := newTestPanel(t, bus, time.Hour)

	early := p.nextRequest()
	assert.True(t, p.merge(sessionState("a", 9, createTestTracks(1)), early), "first copy")

	pending := p.nextRequest()
	assert.True(t, p.merge(sessionState("b", 1, createTestTracks(2)), fromBroadcast), "broadcast from new session")

	// The reply to a request sent before the switch still carries the old session
	assert.False(t, p.merge(sessionState("a", 10, createTestTracks(3)), pending), "late reply")
	assert.True(t, p.merge(sessionState("b", 2, createTestTracks(2)), pending), "same session reply")

	fresh := p.nextRequest()
	assert.True(t, p.merge(sessionState("c", 1, createTestTracks(1)), fresh), "reply sent after the switch")
	assert.False(t, p.merge(sessionState("b", 3, createTestTracks(2)), pending), "older request")

	s, _ := p.State()
	assert.Equal(t, "c", s.Session)
}

func TestPanelService_LateReplyFromReplacedSession(t *testing.T) {
	bus := eventbus.NewLocalBus()
	defer bus.Close()
	tracks := createTestTracks(2)
	fc := startFakeController(t, bus, sessionState("old", 4, tracks))

	started, release := make(chan struct{}), make(chan struct{})
	fc.OnIntent(func(domain.Message) domain.Message {
		close(started)
		<-release
		return domain.StateReply{State: sessionState("old", 5, tracks)}
	})

	p := newTestPanel(t, bus, time.Hour)
	var (
		mu       sync.Mutex
		sessions []string
	)
	p.SetOnChange(func(s domain.State) {
		mu.Lock()
		defer mu.Unlock()
		sessions = append(sessions, s.Session)
	})
	require.NoError(t, p.Activate(context.Background()))

	done := make(chan domain.State, 1)
	go func() {
		s, _ := p.Play(context.Background())
		done <- s
	}()

	// A restarted controller announces itself while the intent is in flight
	<-started
	require.NoError(t, bus.Broadcast(domain.StateBroadcast{State: sessionState("new", 1, tracks[:1])}))
	require.Eventually(t, func() bool {
		s, _ := p.State()
		return s.Session == "new"
	}, time.Second, 5*time.Millisecond)

	close(release)
	select {
	case s := <-done:
		assert.Equal(t, "new", s.Session)
		assert.Len(t, s.Playlist, 1)
	case <-time.After(time.Second):
		t.Fatal("Play did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "new", sessions[len(sessions)-1])
	assert.NotContains(t, sessions[1:], "old")
}

func TestPanelService_SanitizesNumericIntents(t *testing.T) {
	bus := eventbus.NewLocalBus()
	defer bus.Close()
	fc := startFakeController(t, bus, sessionState("a", 1, createTestTracks(1)))

	var (
		mu      sync.Mutex
		intents []domain.Message
	)
	fc.OnIntent(func(msg domain.Message) domain.Message {
		mu.Lock()
		defer mu.Unlock()
		intents = append(intents, msg)
		return domain.Ack{}
	})

	p := newTestPanel(t, bus, time.Hour)
	ctx := context.Background()

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 2} {
		_, err := p.SetVolume(ctx, v)
		require.NoError(t, err)
	}
	for _, v := range []float64{math.NaN(), math.Inf(1), -3} {
		_, err := p.Seek(ctx, v)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.Message{
		domain.SetVolume{Volume: 0},
		domain.SetVolume{Volume: 1},
		domain.SetVolume{Volume: 0},
		domain.SetVolume{Volume: 1},
		domain.Seek{Time: 0},
		domain.Seek{Time: 0},
		domain.Seek{Time: 0},
	}, intents)

	// Every sanitized intent survives the wire encoding
	for _, msg := range intents {
		_, err := domain.EncodeMessage(msg)
		assert.NoError(t, err)
	}
}

func TestPanelService_ActivateFetchesState(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	bus := eventbus.NewLocalBus()
	startFakeController(t, bus, sessionState("a", 4, createTestTracks(2)))
	p := NewPanelService(logger.NewTestLogger(), bus, PanelConfig{PollInterval: time.Hour}, nil)

	var changes []domain.State
	var mu sync.Mutex
	p.SetOnChange(func(s domain.State) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, s)
	})

	require.NoError(t, p.Activate(context.Background()))
	require.NoError(t, p.Activate(context.Background()))

	s, has := p.State()
	require.True(t, has)
	assert.Equal(t, uint64(4), s.Epoch)
	assert.Len(t, s.Playlist, 2)

	mu.Lock()
	assert.Len(t, changes, 1)
	mu.Unlock()

	p.Deactivate()
	p.Deactivate()
	require.NoError(t, bus.Close())
}

func TestPanelService_ActivateWithoutController(t *testing.T) {
	bus := eventbus.NewLocalBus()
	defer bus.Close()
	p := newTestPanel(t, bus, 10*time.Millisecond)

	require.NoError(t, p.Activate(context.Background()))
	_, has := p.State()
	assert.False(t, has)

	// The poll picks the controller up once it appears
	startFakeController(t, bus, sessionState("a", 1, createTestTracks(1)))
	assert.Eventually(t, func() bool {
		_, has := p.State()
		return has
	}, time.Second, 5*time.Millisecond)
}

func TestPanelService_PollPicksUpChanges(t *testing.T) {
	bus := eventbus.NewLocalBus()
	defer bus.Close()
	fc := startFakeController(t, bus, sessionState("a", 1, createTestTracks(1)))
	p := newTestPanel(t, bus, 10*time.Millisecond)

	require.NoError(t, p.Activate(context.Background()))

	fc.Set(sessionState("a", 2, createTestTracks(3)))
	assert.Eventually(t, func() bool {
		s, _ := p.State()
		return s.Epoch == 2 && len(s.Playlist) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestPanelService_BroadcastsFromController(t *testing.T) {
	c, _, bus, _ := newTestController(t, domain.DefaultState())
	require.NoError(t, c.Start())
	defer c.Stop()

	p := newTestPanel(t, bus, time.Hour)
	require.NoError(t, p.Activate(context.Background()))

	// Another client mutates the state
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := bus.Request(ctx, domain.AddressController, domain.AddTrack{Track: createTestTracks(1)[0]})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, _ := p.State()
		return len(s.Playlist) == 1 && s.Epoch == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPanelService_SendMergesReply(t *testing.T) {
	c, rec, bus, _ := newTestController(t, domain.DefaultState())
	require.NoError(t, c.Start())
	defer c.Stop()

	p := newTestPanel(t, bus, time.Hour)
	require.NoError(t, p.Activate(context.Background()))
	ctx := context.Background()

	tracks := createTestTracks(2)
	_, err := p.AddTrack(ctx, tracks[0])
	require.NoError(t, err)
	s, err := p.AddTrack(ctx, tracks[1])
	require.NoError(t, err)
	assert.Len(t, s.Playlist, 2)

	s, err = p.Play(ctx)
	require.NoError(t, err)
	assert.True(t, s.IsPlaying)

	s, err = p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.CurrentIndex)

	s, err = p.Previous(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.CurrentIndex)

	s, err = p.Seek(ctx, 15)
	require.NoError(t, err)
	assert.Equal(t, 15.0, s.CurrentTime)

	s, err = p.SetVolume(ctx, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.Volume)

	s, err = p.Pause(ctx)
	require.NoError(t, err)
	assert.False(t, s.IsPlaying)

	s, err = p.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.CurrentTime)

	s, err = p.RemoveTrack(ctx, tracks[0].ID)
	require.NoError(t, err)
	assert.Len(t, s.Playlist, 1)

	s, err = p.SelectTrack(ctx, tracks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.CurrentIndex)

	assert.Contains(t, rec.Types(), domain.MsgSetAudioVolume)
}

func TestPanelService_SelectTrackEchoesLocally(t *testing.T) {
	bus := eventbus.NewLocalBus()
	defer bus.Close()
	tracks := createTestTracks(3)
	fc := startFakeController(t, bus, sessionState("a", 1, tracks))

	release := make(chan struct{})
	fc.OnIntent(func(msg domain.Message) domain.Message {
		<-release
		s := sessionState("a", 2, tracks)
		s.CurrentIndex = 2
		return domain.StateReply{State: s}
	})

	p := newTestPanel(t, bus, time.Hour)
	require.NoError(t, p.Activate(context.Background()))

	done := make(chan domain.State, 1)
	go func() {
		s, _ := p.SelectTrack(context.Background(), tracks[2].ID)
		done <- s
	}()

	// The selection shows before the controller answers
	require.Eventually(t, func() bool {
		s, _ := p.State()
		return s.CurrentIndex == 2
	}, time.Second, 5*time.Millisecond)

	s, _ := p.State()
	assert.Equal(t, uint64(1), s.Epoch)

	close(release)
	select {
	case s := <-done:
		assert.Equal(t, uint64(2), s.Epoch)
		assert.Equal(t, 2, s.CurrentIndex)
	case <-time.After(time.Second):
		t.Fatal("SelectTrack did not return")
	}
}

func TestPanelService_FailedIntentResyncs(t *testing.T) {
	bus := eventbus.NewLocalBus()
	defer bus.Close()
	fc := startFakeController(t, bus, sessionState("a", 1, createTestTracks(1)))

	p := newTestPanel(t, bus, time.Hour)
	require.NoError(t, p.Activate(context.Background()))

	fc.OnIntent(func(domain.Message) domain.Message {
		return domain.NewErrorReply(domain.ErrUnknownMessage)
	})
	fc.Set(sessionState("a", 9, createTestTracks(2)))

	s, err := p.Play(context.Background())

	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, uint64(9), s.Epoch)
	assert.Len(t, s.Playlist, 2)
}

func TestPanelService_SendWithoutController(t *testing.T) {
	bus := eventbus.NewLocalBus()
	defer bus.Close()
	p := newTestPanel(t, bus, time.Hour)

	_, err := p.Play(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoListener)
}
