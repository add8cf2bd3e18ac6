// Package service provides the coordination logic of TuneBridge: the controller that
// owns canonical state, the playback engine, the panel client and their helpers.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/metrics"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// ControllerConfig holds controller timing settings.
type ControllerConfig struct {
	// CommandTimeout bounds engine creation and a single forwarded command
	CommandTimeout time.Duration
}

// DefaultControllerConfig returns the default timings.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		CommandTimeout: 5 * time.Second,
	}
}

// ControllerService is the single owner of the canonical playlist and transport state.
//
// All state is confined to one goroutine: the loop started by Start handles one message
// at a time, so no lock guards the state. Engine commands leave through a non-blocking
// dispatcher; forwarding failures come back into the same loop.
type ControllerService struct {
	// Dependencies (injected)
	logger     *slog.Logger
	bus        ports.MessageBus
	writer     *StateWriter
	metrics    *metrics.Metrics
	dispatcher commandDispatcher
	forwarder  *CommandForwarder

	// State, owned by the loop goroutine
	state       domain.State
	seq         uint64
	lastPlaySeq uint64

	// Lifecycle
	inbox    ports.Inbox
	failures chan forwardFailure
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewControllerService creates a controller seeded with initial (usually the recovered
// persisted state). Commands are forwarded to the engine managed by host.
func NewControllerService(
	logger *slog.Logger,
	bus ports.MessageBus,
	host ports.EngineHost,
	writer *StateWriter,
	initial domain.State,
	cfg ControllerConfig,
	m *metrics.Metrics,
) *ControllerService {
	c := newController(logger, bus, writer, initial, m)
	c.forwarder = NewCommandForwarder(
		logger.With(slog.String("component", "forwarder")),
		bus, host, m,
		cfg.CommandTimeout,
		c.reportFailure,
	)
	c.dispatcher = c.forwarder
	return c
}

func newController(
	logger *slog.Logger,
	bus ports.MessageBus,
	writer *StateWriter,
	initial domain.State,
	m *metrics.Metrics,
) *ControllerService {
	state := initial.Clone()
	state.Session = uuid.NewString()
	state.Epoch = 0
	state.IsPlaying = state.Play.Effective()

	logger.Debug("controller initialized",
		slog.String("session", state.Session),
		slog.Int("tracks", len(state.Playlist)))

	return &ControllerService{
		logger:   logger,
		bus:      bus,
		writer:   writer,
		metrics:  m,
		state:    state,
		failures: make(chan forwardFailure, 16),
		done:     make(chan struct{}),
	}
}

// Start registers the controller mailbox and starts the event loop.
func (c *ControllerService) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if c.stopped {
		return fmt.Errorf("controller start: %w", domain.ErrBusClosed)
	}

	inbox, err := c.bus.Listen(domain.AddressController)
	if err != nil {
		return fmt.Errorf("controller listen: %w", err)
	}
	c.inbox = inbox
	c.running = true

	c.wg.Add(1)
	go c.loop()

	c.logger.Info("controller started", slog.String("session", c.state.Session))
	return nil
}

// Stop ends the loop, abandons unsent commands and writes the last state.
func (c *ControllerService) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	wasRunning := c.running
	c.running = false
	c.mu.Unlock()

	if wasRunning {
		if err := c.inbox.Close(); err != nil {
			c.logger.Debug("close controller inbox", slog.Any("error", err))
		}
		c.wg.Wait()
	}

	close(c.done)
	if c.forwarder != nil {
		c.forwarder.Close()
	}
	c.writer.Close()

	c.logger.Info("controller stopped")
}

func (c *ControllerService) loop() {
	defer c.wg.Done()

	for {
		select {
		case d := <-c.inbox.C():
			d.Respond(c.safeHandle(d.Message))
		case f := <-c.failures:
			c.applyForwardFailure(f)
		case <-c.inbox.Done():
			return
		}
	}
}

// reportFailure is called from the forwarder goroutine.
func (c *ControllerService) reportFailure(f forwardFailure) {
	select {
	case c.failures <- f:
	case <-c.done:
	}
}

func (c *ControllerService) safeHandle(msg domain.Message) (reply domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("controller handler panicked",
				slog.String("type", string(msg.Type())),
				slog.Any("panic", r))
			reply = domain.NewErrorReply(fmt.Errorf("internal error handling %s", msg.Type()))
		}
	}()
	return c.Handle(msg)
}

// Handle applies one message to the canonical state and returns the reply.
// It must only be called from the loop goroutine (or synchronously in tests).
func (c *ControllerService) Handle(msg domain.Message) domain.Message {
	c.metrics.MessageHandled("controller", msg.Type())

	switch m := msg.(type) {
	case domain.GetState:
		return domain.StateReply{State: c.state.Clone()}

	// Panel intents
	case domain.Play:
		c.play()
	case domain.Pause:
		c.pause()
	case domain.Stop:
		c.stop()
	case domain.Seek:
		c.seek(m.Time)
	case domain.SetVolume:
		c.setVolume(m.Volume)
	case domain.AddTrack:
		c.addTrack(m.Track)
	case domain.RemoveTrack:
		c.removeTrack(m.TrackID)
	case domain.SetCurrentTrack:
		c.setCurrent(m.TrackID)
	case domain.NextTrack:
		c.next()
	case domain.PreviousTrack:
		c.previous()

	// Engine reports
	case domain.AudioStateUpdate:
		c.mergeSnapshot(m.Snapshot)
	case domain.TrackEnded:
		c.trackEnded()
	case domain.AudioError:
		c.engineError(m.Error)

	default:
		c.logger.Warn("unexpected message", slog.String("type", string(msg.Type())))
		return domain.NewErrorReply(fmt.Errorf("%w: %s", domain.ErrUnknownMessage, msg.Type()))
	}

	c.commit()
	return domain.StateReply{State: c.state.Clone()}
}

// commit finishes a mutation: derive IsPlaying, advance the epoch, persist, broadcast.
func (c *ControllerService) commit() {
	c.state.IsPlaying = c.state.Play.Effective()
	c.state.Epoch++

	if err := c.state.Validate(); err != nil {
		c.logger.Error("state invariant violated", slog.Any("error", err))
	}

	c.writer.Save(c.state)

	err := c.bus.Broadcast(domain.StateBroadcast{State: c.state.Clone()})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoListener):
		c.metrics.BroadcastUnheard()
	default:
		c.logger.Debug("broadcast failed", slog.Any("error", err))
	}
}

func (c *ControllerService) dispatch(cmd domain.Command) uint64 {
	c.seq++
	c.dispatcher.Dispatch(c.seq, cmd)
	return c.seq
}

func (c *ControllerService) playing() bool {
	return c.state.Play.Effective()
}

func (c *ControllerService) play() {
	track, ok := c.state.Current()
	if !ok || track.URL == "" {
		c.logger.Debug("play ignored, nothing playable selected")
		return
	}

	c.lastPlaySeq = c.dispatch(domain.PlayAudio{URL: track.URL})
	c.state.Play.Request(true)
}

func (c *ControllerService) pause() {
	c.dispatch(domain.PauseAudio{})
	c.state.Play.Request(false)
}

func (c *ControllerService) stop() {
	c.dispatch(domain.StopAudio{})
	c.state.Play.Request(false)
	c.state.CurrentTime = 0
}

func (c *ControllerService) seek(t float64) {
	t = domain.NonNegative(t)
	c.dispatch(domain.SeekAudio{Time: t})
	c.state.CurrentTime = t
}

func (c *ControllerService) setVolume(v float64) {
	v = domain.ClampVolume(v)
	c.dispatch(domain.SetAudioVolume{Volume: v})
	c.state.Volume = v
}

func (c *ControllerService) addTrack(t domain.Track) {
	if t.ID == "" {
		c.logger.Warn("add ignored, track has no id", slog.String("url", t.URL))
		return
	}
	if c.state.IndexOf(t.ID) >= 0 {
		c.logger.Warn("add ignored", slog.String("track_id", t.ID), slog.Any("error", domain.ErrDuplicateTrack))
		return
	}

	c.state.Playlist = append(slices.Clip(c.state.Playlist), t)
	if c.state.CurrentIndex == domain.NoSelection {
		c.state.CurrentIndex = 0
	}
}

func (c *ControllerService) removeTrack(id string) {
	idx := c.state.IndexOf(id)
	if idx < 0 {
		c.logger.Debug("remove ignored", slog.String("track_id", id), slog.Any("error", domain.ErrTrackNotFound))
		return
	}

	stopped := false
	if idx == c.state.CurrentIndex && c.playing() {
		c.stop()
		stopped = true
	}

	c.state.Playlist = slices.Delete(slices.Clone(c.state.Playlist), idx, idx+1)

	n := len(c.state.Playlist)
	switch {
	case n == 0:
		c.state.CurrentIndex = domain.NoSelection
		if !stopped {
			c.stop()
		}
	case idx <= c.state.CurrentIndex:
		c.state.CurrentIndex = min(max(c.state.CurrentIndex-1, 0), n-1)
	}
}

// selectIndex stops, moves the selection and replays if playback was on, so the
// engine never receives two overlapping sources.
func (c *ControllerService) selectIndex(i int) {
	wasPlaying := c.playing()
	c.stop()
	c.state.CurrentIndex = i
	if wasPlaying {
		c.play()
	}
}

func (c *ControllerService) setCurrent(id string) {
	idx := c.state.IndexOf(id)
	if idx < 0 {
		c.logger.Debug("select ignored", slog.String("track_id", id), slog.Any("error", domain.ErrTrackNotFound))
		return
	}
	c.selectIndex(idx)
}

func (c *ControllerService) next() {
	n := len(c.state.Playlist)
	if n == 0 {
		return
	}
	c.selectIndex((c.state.CurrentIndex + 1) % n)
}

func (c *ControllerService) previous() {
	n := len(c.state.Playlist)
	if n == 0 {
		return
	}
	i := c.state.CurrentIndex - 1
	if i < 0 {
		i = n - 1
	}
	c.selectIndex(i)
}

// mergeSnapshot takes the engine's device view as authoritative.
func (c *ControllerService) mergeSnapshot(s domain.DeviceSnapshot) {
	c.state.CurrentTime = domain.NonNegative(s.CurrentTime)
	c.state.Duration = domain.NonNegative(s.Duration)
	c.state.Volume = domain.ClampVolume(s.Volume)
	c.state.Play.Observe(s.Playing())

	if s.Playing() {
		c.state.LastError = ""
	}
}

// trackEnded advances to the successor without replaying it; the last track stays selected.
func (c *ControllerService) trackEnded() {
	c.state.Play.Observe(false)
	c.state.CurrentTime = 0

	if c.state.CurrentIndex >= 0 && c.state.CurrentIndex < len(c.state.Playlist)-1 {
		c.next()
	}
}

func (c *ControllerService) engineError(msg string) {
	c.state.Play.Observe(false)
	c.state.LastError = msg
	c.logger.Warn("engine reported error", slog.String("error", msg))
}

// applyForwardFailure rolls back the optimistic play flag if the failed command is the
// latest PLAY_AUDIO. Older failures only surface the error.
func (c *ControllerService) applyForwardFailure(f forwardFailure) {
	if _, ok := f.cmd.(domain.PlayAudio); ok && f.seq == c.lastPlaySeq {
		c.state.Play.Request(false)
	}
	c.state.LastError = f.err.Error()
	c.commit()
}
