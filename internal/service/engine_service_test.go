package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/tunebridge/internal/adapter/audio/mock"
	"github.com/tejashwikalptaru/tunebridge/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/logger"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
	"github.com/tejashwikalptaru/tunebridge/internal/testutil"
)

// Helper to create a test engine with a mock device. The returned inbox stands in
// for the controller and receives every report the engine posts.
func newTestEngine(t *testing.T, loadTimeout time.Duration) (*EngineService, *mock.Device, *eventbus.LocalBus, ports.Inbox) {
	t.Helper()

	bus := eventbus.NewLocalBus()
	reports, err := bus.Listen(domain.AddressController)
	require.NoError(t, err)

	device := mock.NewDevice()
	engine := NewEngineService(logger.NewTestLogger(), bus, device, loadTimeout, nil)

	t.Cleanup(func() {
		engine.Stop()
		bus.Close()
	})

	return engine, device, bus, reports
}

// waitForReport drains the inbox until a message of type want arrives.
func waitForReport(t *testing.T, in ports.Inbox, want domain.MessageType) domain.Message {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case d := <-in.C():
			if d.Message.Type() == want {
				return d.Message
			}
		case <-timeout:
			t.Fatalf("no %s report received", want)
			return nil
		}
	}
}

func TestTranslate(t *testing.T) {
	snap := domain.DeviceSnapshot{Source: "u", CurrentTime: 3, Duration: 10, Volume: 0.5}

	tests := []struct {
		name string
		ev   domain.DeviceEvent
		want domain.Message
	}{
		{"ended", domain.NewDeviceEvent(domain.DeviceEnded), domain.TrackEnded{}},
		{"error", domain.NewDeviceErrorEvent(errors.New("decode failed")), domain.AudioError{Error: "decode failed"}},
		{"error without cause", domain.NewDeviceEvent(domain.DeviceError), domain.AudioError{Error: "media error"}},
		{"play", domain.NewDeviceEvent(domain.DevicePlay), domain.AudioStateUpdate{Event: domain.DevicePlay, Snapshot: snap}},
		{"timeupdate", domain.NewDeviceEvent(domain.DeviceTimeUpdate), domain.AudioStateUpdate{Event: domain.DeviceTimeUpdate, Snapshot: snap}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Translate(tt.ev, snap))
		})
	}
}

// playing reports whether device has started playing url.
func playing(device *mock.Device, url string) func() bool {
	return func() bool {
		snap := device.Snapshot()
		return snap.Source == url && !snap.Paused
	}
}

func TestEngineService_PlayAudio_LoadsOnlyNewSources(t *testing.T) {
	engine, device, _, _ := newTestEngine(t, time.Second)
	ctx := context.Background()

	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.PlayAudio{URL: "u1"}))
	require.Eventually(t, playing(device, "u1"), time.Second, 5*time.Millisecond)

	engine.Handle(ctx, domain.PauseAudio{})
	assert.True(t, device.Snapshot().Paused)

	// Resuming the bound source does not reload it
	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.PlayAudio{URL: "u1"}))
	assert.Equal(t, []string{"u1"}, device.Loads())
	assert.False(t, device.Snapshot().Paused)

	// A different source replaces the bound one
	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.PlayAudio{URL: "u2"}))
	require.Eventually(t, playing(device, "u2"), time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"u1", "u2"}, device.Loads())
}

func TestEngineService_PlayAudio_LoadFailure(t *testing.T) {
	engine, device, _, reports := newTestEngine(t, time.Second)
	ctx := context.Background()

	device.SetFailLoad(true)
	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.PlayAudio{URL: "u1"}))

	report := waitForReport(t, reports, domain.MsgAudioError)
	assert.Contains(t, report.(domain.AudioError).Error, domain.ErrMediaLoadFailed.Error())

	// The device still reports the failed source, but it is loaded again
	device.SetFailLoad(false)
	require.Equal(t, "u1", device.Source())
	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.PlayAudio{URL: "u1"}))
	require.Eventually(t, playing(device, "u1"), time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"u1", "u1"}, device.Loads())
}

func TestEngineService_PlayAudio_LoadTimeout(t *testing.T) {
	engine, device, _, reports := newTestEngine(t, 50*time.Millisecond)

	device.SetStallLoad(true)
	start := time.Now()
	assert.Equal(t, domain.Ack{}, engine.Handle(context.Background(), domain.PlayAudio{URL: "slow"}))

	report := waitForReport(t, reports, domain.MsgAudioError)
	assert.Contains(t, report.(domain.AudioError).Error, domain.ErrMediaLoadTimeout.Error())
	assert.Less(t, time.Since(start), time.Second)
}

func TestEngineService_PlayAudio_NewerSourceSupersedesStalledLoad(t *testing.T) {
	engine, device, _, reports := newTestEngine(t, time.Minute)
	ctx := context.Background()

	device.SetStallLoad(true)
	start := time.Now()
	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.PlayAudio{URL: "u1"}))
	require.Eventually(t, func() bool { return len(device.Loads()) == 1 }, time.Second, 5*time.Millisecond)

	// Transport commands are not held up by the load
	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.SetAudioVolume{Volume: 0.3}))
	assert.Equal(t, 0.3, device.Snapshot().Volume)

	// The stalled load is cancelled and the new source starts loading at once
	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.PlayAudio{URL: "u2"}))
	require.Eventually(t, func() bool { return len(device.Loads()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"u1", "u2"}, device.Loads())

	device.SetStallLoad(false)
	require.Eventually(t, playing(device, "u2"), time.Second, 5*time.Millisecond)

	// The cancelled load of u1 is never reported
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case d := <-reports.C():
			assert.NotEqual(t, domain.MsgAudioError, d.Message.Type(), "report %v", d.Message)
		case <-deadline:
			return
		}
	}
}

func TestEngineService_PauseDuringLoadHoldsPlayback(t *testing.T) {
	engine, device, _, _ := newTestEngine(t, time.Second)
	ctx := context.Background()

	device.SetStallLoad(true)
	engine.Handle(ctx, domain.PlayAudio{URL: "u1"})
	require.Eventually(t, func() bool { return len(device.Loads()) == 1 }, time.Second, 5*time.Millisecond)
	engine.Handle(ctx, domain.PauseAudio{})

	// The source finishes loading but stays paused
	device.SetStallLoad(false)
	require.Eventually(t, func() bool { return device.Snapshot().Duration > 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, device.Snapshot().Paused)

	// Playing it again starts the loaded source without a reload
	require.Eventually(t, func() bool {
		engine.Handle(ctx, domain.PlayAudio{URL: "u1"})
		return !device.Snapshot().Paused
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"u1"}, device.Loads())
}

func TestEngineService_PlayAudio_PlayFailure(t *testing.T) {
	engine, device, _, reports := newTestEngine(t, time.Second)

	device.SetFailPlay(true)
	assert.Equal(t, domain.Ack{}, engine.Handle(context.Background(), domain.PlayAudio{URL: "u1"}))
	waitForReport(t, reports, domain.MsgAudioError)

	// Once bound, a play failure is also the command reply
	require.Eventually(t, func() bool {
		_, ok := engine.Handle(context.Background(), domain.PlayAudio{URL: "u1"}).(domain.ErrorReply)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestEngineService_PlayAudio_EmptyURL(t *testing.T) {
	engine, device, _, _ := newTestEngine(t, time.Second)

	reply := engine.Handle(context.Background(), domain.PlayAudio{})

	errReply, ok := reply.(domain.ErrorReply)
	require.True(t, ok)
	assert.Contains(t, errReply.Error, domain.ErrNoSource.Error())
	assert.Empty(t, device.Loads())
}

func TestEngineService_TransportCommands(t *testing.T) {
	engine, device, _, _ := newTestEngine(t, time.Second)
	ctx := context.Background()

	engine.Handle(ctx, domain.PlayAudio{URL: "u1"})
	require.Eventually(t, playing(device, "u1"), time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.SeekAudio{Time: 40}))
	assert.Equal(t, 40.0, device.Snapshot().CurrentTime)

	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.SeekAudio{Time: -3}))
	assert.Equal(t, 0.0, device.Snapshot().CurrentTime)

	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.SetAudioVolume{Volume: 1.7}))
	assert.Equal(t, 1.0, device.Snapshot().Volume)

	engine.Handle(ctx, domain.SeekAudio{Time: 25})
	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.StopAudio{}))
	snap := device.Snapshot()
	assert.True(t, snap.Paused)
	assert.Equal(t, 0.0, snap.CurrentTime)

	reply := engine.Handle(ctx, domain.GetAudioState{})
	assert.Equal(t, domain.AudioStateReply{Snapshot: device.Snapshot()}, reply)

	assert.Equal(t, domain.Ack{}, engine.Handle(ctx, domain.Ping{}))
}

func TestEngineService_UnknownMessage(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, time.Second)

	reply := engine.Handle(context.Background(), domain.Play{})

	errReply, ok := reply.(domain.ErrorReply)
	require.True(t, ok)
	assert.Contains(t, errReply.Error, domain.ErrUnknownMessage.Error())
}

func TestEngineService_ReportsDeviceEvents(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	bus := eventbus.NewLocalBus()
	reports, err := bus.Listen(domain.AddressController)
	require.NoError(t, err)

	device := mock.NewDevice()
	engine := NewEngineService(logger.NewTestLogger(), bus, device, time.Second, nil)
	require.NoError(t, engine.Start())
	assert.True(t, engine.Running())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := bus.Request(ctx, domain.AddressEngine, domain.PlayAudio{URL: "u1"})
	require.NoError(t, err)
	assert.Equal(t, domain.Ack{}, reply)

	update := waitForReport(t, reports, domain.MsgAudioStateUpdate).(domain.AudioStateUpdate)
	assert.Equal(t, "u1", update.Snapshot.Source)
	require.Eventually(t, playing(device, "u1"), time.Second, 5*time.Millisecond)

	require.NoError(t, device.SimulateProgress(30))
	waitForReport(t, reports, domain.MsgAudioStateUpdate)

	device.SimulateEnded()
	waitForReport(t, reports, domain.MsgTrackEnded)

	device.SimulateError(errors.New("network lost"))
	report := waitForReport(t, reports, domain.MsgAudioError)
	assert.Equal(t, "network lost", report.(domain.AudioError).Error)

	// A failed remote command comes back as a RemoteError
	_, err = bus.Request(ctx, domain.AddressEngine, domain.PlayAudio{})
	var remote *domain.RemoteError
	assert.ErrorAs(t, err, &remote)

	engine.Stop()
	engine.Stop()
	assert.False(t, engine.Running())
	assert.True(t, device.IsClosed())

	select {
	case <-engine.Done():
	default:
		t.Error("Done not closed after Stop")
	}

	_, err = bus.Request(ctx, domain.AddressEngine, domain.Ping{})
	assert.ErrorIs(t, err, domain.ErrNoListener)

	require.NoError(t, reports.Close())
	require.NoError(t, bus.Close())
}

func TestEngineService_SecondEngineIsRejected(t *testing.T) {
	engine, _, bus, _ := newTestEngine(t, time.Second)
	require.NoError(t, engine.Start())

	other := NewEngineService(logger.NewTestLogger(), bus, mock.NewDevice(), time.Second, nil)
	assert.ErrorIs(t, other.Start(), domain.ErrEngineExists)
	assert.False(t, other.Running())
}

func TestEngineService_StopInterruptsLoad(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	bus := eventbus.NewLocalBus()
	device := mock.NewDevice()
	device.SetStallLoad(true)

	engine := NewEngineService(logger.NewTestLogger(), bus, device, time.Minute, nil)
	require.NoError(t, engine.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The request is acknowledged before the source loads
	reply, err := bus.Request(ctx, domain.AddressEngine, domain.PlayAudio{URL: "slow"})
	require.NoError(t, err)
	assert.Equal(t, domain.Ack{}, reply)

	require.Eventually(t, func() bool { return len(device.Loads()) == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		engine.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop waited for the stalled load")
	}

	require.NoError(t, bus.Close())
}
