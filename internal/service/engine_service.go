package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/metrics"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// DefaultLoadTimeout is how long the engine waits for a source to become playable.
const DefaultLoadTimeout = 30 * time.Second

// EngineService owns the media device and executes controller commands against it.
//
// Commands are handled one at a time by the loop goroutine. A second goroutine pumps
// device events and reports each of them to the controller; reports are posted, never
// requested, so the engine cannot block on the controller.
//
// Loading a new source runs on its own goroutine so pause, stop, volume and a newer
// PLAY_AUDIO are served while a slow source is still loading. Each load carries a
// generation; a load that was superseded is cancelled and its outcome is dropped.
type EngineService struct {
	logger  *slog.Logger
	bus     ports.MessageBus
	device  ports.MediaDevice
	metrics *metrics.Metrics

	loadTimeout time.Duration

	loadMu sync.Mutex
	gen    uint64
	// loading is the load in flight, nil when the device is idle or bound
	loading *pendingLoad
	// bound is false after a failed load, which forces the next PLAY_AUDIO to reload
	// even if the device still reports the same source
	bound  bool
	loadWg sync.WaitGroup

	inbox   ports.Inbox
	ctx     context.Context
	cancel  context.CancelFunc
	loopWg  sync.WaitGroup
	pumpWg  sync.WaitGroup
	mu      sync.Mutex
	running bool
	closed  bool
}

// NewEngineService creates an engine around device. A zero loadTimeout uses DefaultLoadTimeout.
func NewEngineService(
	logger *slog.Logger,
	bus ports.MessageBus,
	device ports.MediaDevice,
	loadTimeout time.Duration,
	m *metrics.Metrics,
) *EngineService {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EngineService{
		logger:      logger,
		bus:         bus,
		device:      device,
		metrics:     m,
		loadTimeout: loadTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start claims the engine address and starts the command loop and the event pump.
// It returns domain.ErrEngineExists if another engine already listens.
func (e *EngineService) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	if e.closed {
		return domain.ErrEngineUnavailable
	}

	inbox, err := e.bus.Listen(domain.AddressEngine)
	if errors.Is(err, domain.ErrAddressInUse) {
		return domain.ErrEngineExists
	}
	if err != nil {
		return fmt.Errorf("engine listen: %w", err)
	}

	e.inbox = inbox
	e.running = true

	e.loopWg.Add(1)
	go e.loop()

	e.pumpWg.Add(1)
	go e.pump()

	e.logger.Info("playback engine started")
	return nil
}

// Stop releases the engine address and the device. A stopped engine cannot be restarted.
func (e *EngineService) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	wasRunning := e.running
	e.running = false
	e.mu.Unlock()

	e.cancel()
	if wasRunning {
		if err := e.inbox.Close(); err != nil {
			e.logger.Debug("close engine inbox", slog.Any("error", err))
		}
		e.loopWg.Wait()
	}
	e.loadWg.Wait()

	// Closing the device ends its event stream, which ends the pump
	if err := e.device.Close(); err != nil {
		e.logger.Warn("failed to close media device", slog.Any("error", err))
	}
	e.pumpWg.Wait()

	e.logger.Info("playback engine stopped")
}

// Running reports whether the engine is between Start and Stop.
func (e *EngineService) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Done is closed once the engine has been stopped.
func (e *EngineService) Done() <-chan struct{} {
	return e.ctx.Done()
}

func (e *EngineService) loop() {
	defer e.loopWg.Done()

	for {
		select {
		case d := <-e.inbox.C():
			d.Respond(e.safeHandle(d.Message))
		case <-e.inbox.Done():
			return
		}
	}
}

func (e *EngineService) safeHandle(msg domain.Message) (reply domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine handler panicked",
				slog.String("type", string(msg.Type())),
				slog.Any("panic", r))
			reply = domain.NewErrorReply(fmt.Errorf("internal error handling %s", msg.Type()))
		}
	}()
	return e.Handle(e.ctx, msg)
}

// Handle executes one command and returns the reply.
func (e *EngineService) Handle(_ context.Context, msg domain.Message) domain.Message {
	e.metrics.MessageHandled("engine", msg.Type())

	switch m := msg.(type) {
	case domain.PlayAudio:
		return e.playAudio(m.URL)
	case domain.PauseAudio:
		e.holdPendingLoad()
		e.device.Pause()
	case domain.StopAudio:
		e.holdPendingLoad()
		e.device.Stop()
	case domain.SeekAudio:
		e.device.Seek(domain.NonNegative(m.Time))
	case domain.SetAudioVolume:
		e.device.SetVolume(domain.ClampVolume(m.Volume))
	case domain.GetAudioState:
		return domain.AudioStateReply{Snapshot: e.device.Snapshot()}
	case domain.Ping:
	default:
		e.logger.Warn("unexpected message", slog.String("type", string(msg.Type())))
		return domain.NewErrorReply(fmt.Errorf("%w: %s", domain.ErrUnknownMessage, msg.Type()))
	}

	return domain.Ack{}
}

// pendingLoad is a source load running off the engine loop.
type pendingLoad struct {
	gen    uint64
	url    string
	play   bool
	cancel context.CancelFunc
	done   chan struct{}
}

// playAudio plays url, starting a load first if url is not the bound source.
// The reply only says the command was accepted; load failures are reported as AUDIO_ERROR.
func (e *EngineService) playAudio(url string) domain.Message {
	if url == "" {
		return e.mediaFailure(domain.NewMediaError("play", url, domain.ErrNoSource))
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if l := e.loading; l != nil && l.url == url {
		l.play = true
		return domain.Ack{}
	}

	if e.loading == nil && e.bound && e.device.Source() == url {
		if err := e.device.Play(); err != nil {
			return e.mediaFailure(err)
		}
		return domain.Ack{}
	}

	// A new source supersedes whatever is loading or bound
	prev := e.loading
	if prev != nil {
		prev.cancel()
	}
	e.bound = false
	e.device.Stop()

	e.gen++
	ctx, cancel := context.WithTimeout(e.ctx, e.loadTimeout)
	l := &pendingLoad{
		gen:    e.gen,
		url:    url,
		play:   true,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.loading = l

	e.loadWg.Add(1)
	go e.load(ctx, l, prev)

	return domain.Ack{}
}

// holdPendingLoad keeps a loading source from starting once it is ready.
func (e *EngineService) holdPendingLoad() {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.loading != nil {
		e.loading.play = false
	}
}

func (e *EngineService) load(ctx context.Context, l *pendingLoad, prev *pendingLoad) {
	defer e.loadWg.Done()
	defer close(l.done)
	defer l.cancel()

	// The device loads one source at a time; a cancelled load returns promptly
	if prev != nil {
		<-prev.done
	}

	var err error
	if err = ctx.Err(); err == nil {
		err = e.device.Load(ctx, l.url)
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.loading != l {
		e.logger.Debug("superseded load dropped",
			slog.String("url", l.url),
			slog.Uint64("gen", l.gen))
		return
	}
	e.loading = nil

	if err != nil {
		if e.ctx.Err() != nil {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.NewMediaError("load", l.url, domain.ErrMediaLoadTimeout)
		}
		e.mediaFailure(err)
		return
	}

	e.bound = true
	e.logger.Debug("source loaded", slog.String("url", l.url))

	if !l.play {
		return
	}
	if err := e.device.Play(); err != nil {
		e.mediaFailure(err)
	}
}

// mediaFailure reports err to the controller and turns it into the command reply.
func (e *EngineService) mediaFailure(err error) domain.Message {
	e.metrics.MediaError()
	e.logger.Warn("media failure", slog.Any("error", err))
	e.report(domain.AudioError{Error: err.Error()})
	return domain.NewErrorReply(err)
}

func (e *EngineService) report(msg domain.Message) {
	if err := e.bus.Post(domain.AddressController, msg); err != nil {
		e.logger.Debug("report not delivered",
			slog.String("type", string(msg.Type())),
			slog.Any("error", err))
	}
}

// pump forwards device events until the device closes its stream.
func (e *EngineService) pump() {
	defer e.pumpWg.Done()

	for ev := range e.device.Events() {
		if ev.Kind == domain.DeviceError {
			e.metrics.MediaError()
		}
		e.report(Translate(ev, e.device.Snapshot()))
	}
}

// Translate maps a device event and the snapshot taken after it to the report sent
// to the controller.
func Translate(ev domain.DeviceEvent, snap domain.DeviceSnapshot) domain.Message {
	switch ev.Kind {
	case domain.DeviceEnded:
		return domain.TrackEnded{}
	case domain.DeviceError:
		msg := "media error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return domain.AudioError{Error: msg}
	default:
		return domain.AudioStateUpdate{Event: ev.Kind, Snapshot: snap}
	}
}
