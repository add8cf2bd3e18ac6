package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
	"github.com/tejashwikalptaru/tunebridge/internal/testutil"
)

// serve answers every request on the inbox with fn until the inbox closes.
func serve(in ports.Inbox, fn func(domain.Message) domain.Message) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case d := <-in.C():
				d.Respond(fn(d.Message))
			case <-in.Done():
				return
			}
		}
	}()
	return &wg
}

// TestNewLocalBus tests bus creation.
func TestNewLocalBus(t *testing.T) {
	bus := NewLocalBus()

	if bus == nil {
		t.Fatal("NewLocalBus returned nil")
	}

	if bus.ListenerCount() != 0 || bus.SubscriberCount() != 0 {
		t.Errorf("Expected empty bus, got %d listeners and %d subscribers", bus.ListenerCount(), bus.SubscriberCount())
	}
}

func TestRequestReply(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	bus := NewLocalBus()
	defer bus.Close()

	in, err := bus.Listen(domain.AddressEngine)
	require.NoError(t, err)

	wg := serve(in, func(msg domain.Message) domain.Message {
		if play, ok := msg.(domain.PlayAudio); ok && play.URL == "u1" {
			return domain.Ack{}
		}
		return domain.NewErrorReply(domain.ErrUnknownMessage)
	})

	reply, err := bus.Request(context.Background(), domain.AddressEngine, domain.PlayAudio{URL: "u1"})
	require.NoError(t, err)
	assert.Equal(t, domain.Ack{}, reply)

	_, err = bus.Request(context.Background(), domain.AddressEngine, domain.PauseAudio{})
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, domain.AddressEngine, remote.From)

	require.NoError(t, in.Close())
	wg.Wait()
}

func TestRequestWithoutListener(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	_, err := bus.Request(context.Background(), domain.AddressEngine, domain.Ping{})
	assert.ErrorIs(t, err, domain.ErrNoListener)

	err = bus.Post(domain.AddressController, domain.TrackEnded{})
	assert.ErrorIs(t, err, domain.ErrNoListener)
}

func TestRequestFailsWhenListenerGoesAway(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	in, err := bus.Listen(domain.AddressEngine)
	require.NoError(t, err)

	go func() {
		// Take the request but never answer, then disappear
		<-in.C()
		in.Close()
	}()

	_, err = bus.Request(context.Background(), domain.AddressEngine, domain.Ping{})
	assert.ErrorIs(t, err, domain.ErrNoListener)
}

func TestRequestHonoursContext(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	in, err := bus.Listen(domain.AddressEngine)
	require.NoError(t, err)
	defer in.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = bus.Request(ctx, domain.AddressEngine, domain.Ping{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenTwiceIsRejected(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	first, err := bus.Listen(domain.AddressEngine)
	require.NoError(t, err)

	_, err = bus.Listen(domain.AddressEngine)
	assert.ErrorIs(t, err, domain.ErrAddressInUse)

	// Once released the address can be reused
	require.NoError(t, first.Close())
	second, err := bus.Listen(domain.AddressEngine)
	require.NoError(t, err)
	second.Close()
}

func TestPostDropsWhenMailboxFull(t *testing.T) {
	bus := NewLocalBus()
	bus.SetMailboxSize(2)
	defer bus.Close()

	in, err := bus.Listen(domain.AddressController)
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, bus.Post(domain.AddressController, domain.TrackEnded{}))
	require.NoError(t, bus.Post(domain.AddressController, domain.TrackEnded{}))

	err = bus.Post(domain.AddressController, domain.TrackEnded{})
	assert.ErrorIs(t, err, domain.ErrMailboxFull)

	d := <-in.C()
	assert.False(t, d.ExpectsReply())
	assert.Equal(t, domain.TrackEnded{}, d.Message)
}

func TestBroadcast(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	// Nobody is listening yet
	err := bus.Broadcast(domain.StateBroadcast{State: domain.DefaultState()})
	assert.ErrorIs(t, err, domain.ErrNoListener)

	sub1, err := bus.Subscribe()
	require.NoError(t, err)
	sub2, err := bus.Subscribe()
	require.NoError(t, err)

	state := domain.DefaultState()
	state.Epoch = 3
	require.NoError(t, bus.Broadcast(domain.StateBroadcast{State: state}))

	for _, sub := range []ports.Subscription{sub1, sub2} {
		select {
		case msg := <-sub.C():
			assert.Equal(t, uint64(3), msg.(domain.StateBroadcast).State.Epoch)
		case <-time.After(time.Second):
			t.Fatal("broadcast not received")
		}
	}

	require.NoError(t, sub1.Close())
	require.NoError(t, sub2.Close())
	assert.Equal(t, 0, bus.SubscriberCount())
	assert.ErrorIs(t, bus.Broadcast(domain.StateBroadcast{}), domain.ErrNoListener)
}

// TestClose tests closing the bus.
func TestClose(t *testing.T) {
	bus := NewLocalBus()

	in, err := bus.Listen(domain.AddressController)
	require.NoError(t, err)
	sub, err := bus.Subscribe()
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	select {
	case <-in.Done():
	default:
		t.Error("inbox should be released on close")
	}
	select {
	case <-sub.Done():
	default:
		t.Error("subscription should be released on close")
	}

	_, err = bus.Listen(domain.AddressEngine)
	assert.ErrorIs(t, err, domain.ErrBusClosed)
	assert.ErrorIs(t, bus.Post(domain.AddressController, domain.TrackEnded{}), domain.ErrBusClosed)

	// Closing again should return error
	assert.Error(t, bus.Close())
}

// TestConcurrentPosts tests concurrent senders (race condition test).
func TestConcurrentPosts(t *testing.T) {
	bus := NewLocalBus()
	bus.SetMailboxSize(1000)
	defer bus.Close()

	in, err := bus.Listen(domain.AddressController)
	require.NoError(t, err)
	defer in.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = bus.Post(domain.AddressController, domain.AudioStateUpdate{Event: domain.DeviceTimeUpdate})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, in.C(), 500)
}
