package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/metrics"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// PanelConfig holds panel timing settings.
type PanelConfig struct {
	// PollInterval is the period of the GET_STATE poll
	PollInterval time.Duration

	// RequestTimeout bounds a single request to the controller
	RequestTimeout time.Duration
}

// DefaultPanelConfig returns the default timings.
func DefaultPanelConfig() PanelConfig {
	return PanelConfig{
		PollInterval:   time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// PanelService is the client view of the canonical state.
//
// It holds a projection that is replaced by every newer copy it receives: replies to its
// own intents, broadcasts and a periodic poll. Copies from the same controller session
// with a lower epoch are stale and dropped. A copy from another session replaces the
// projection only when it is a broadcast or answers a request sent after the held
// session was adopted; a late reply from a replaced controller is dropped.
type PanelService struct {
	logger  *slog.Logger
	bus     ports.MessageBus
	metrics *metrics.Metrics
	cfg     PanelConfig

	mu       sync.RWMutex
	state    domain.State
	has      bool
	onChange func(domain.State)

	// requests numbers outgoing requests; adopted is the number in effect when the
	// held session was first seen
	requests uint64
	adopted  uint64

	// notifyMu orders callbacks so a slower, older copy never renders after a newer one
	notifyMu sync.Mutex
	notified struct {
		session string
		epoch   uint64
		has     bool
	}

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPanelService creates an inactive panel.
func NewPanelService(logger *slog.Logger, bus ports.MessageBus, cfg PanelConfig, m *metrics.Metrics) *PanelService {
	defaults := DefaultPanelConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}

	return &PanelService{
		logger:  logger,
		bus:     bus,
		metrics: m,
		cfg:     cfg,
	}
}

// SetOnChange registers a callback invoked with every accepted state copy.
// The callback runs on the goroutine that received the copy.
func (p *PanelService) SetOnChange(fn func(domain.State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Activate fetches the state, subscribes to broadcasts and starts polling.
// An unreachable controller is not fatal; the poll keeps retrying.
func (p *PanelService) Activate(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.cancel != nil {
		return nil
	}

	sub, err := p.bus.Subscribe()
	if err != nil {
		return fmt.Errorf("panel subscribe: %w", err)
	}

	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn("initial state fetch failed", slog.Any("error", err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.loop(loopCtx, sub)

	p.logger.Debug("panel activated", slog.Duration("poll_interval", p.cfg.PollInterval))
	return nil
}

// Deactivate stops polling and drops the broadcast subscription.
func (p *PanelService) Deactivate() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.cancel = nil

	p.logger.Debug("panel deactivated")
}

func (p *PanelService) loop(ctx context.Context, sub ports.Subscription) {
	defer p.wg.Done()
	defer func() {
		if err := sub.Close(); err != nil {
			p.logger.Debug("close subscription", slog.Any("error", err))
		}
	}()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	broadcasts, subDone := sub.C(), sub.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-subDone:
			// Keep polling without broadcasts
			broadcasts, subDone = nil, nil
		case msg, ok := <-broadcasts:
			if !ok {
				broadcasts = nil
				continue
			}
			if b, isState := msg.(domain.StateBroadcast); isState {
				p.metrics.MessageHandled("panel", b.Type())
				p.merge(b.State, fromBroadcast)
			}
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Debug("poll failed", slog.Any("error", err))
			}
		}
	}
}

// Refresh requests the full state from the controller.
func (p *PanelService) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req := p.nextRequest()
	reply, err := p.bus.Request(ctx, domain.AddressController, domain.GetState{})
	if err != nil {
		return err
	}

	sr, ok := reply.(domain.StateReply)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownMessage, reply.Type())
	}
	p.merge(sr.State, req)
	return nil
}

// Send delivers an intent and merges the state the controller replies with.
// When the request fails the panel resynchronizes with a full refresh.
func (p *PanelService) Send(ctx context.Context, intent domain.Intent) (domain.State, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req := p.nextRequest()
	reply, err := p.bus.Request(reqCtx, domain.AddressController, intent)
	if err != nil {
		p.logger.Warn("intent failed",
			slog.String("type", string(intent.Type())),
			slog.Any("error", err))
		if rerr := p.Refresh(ctx); rerr != nil {
			p.logger.Debug("resync failed", slog.Any("error", rerr))
		}
		state, _ := p.State()
		return state, err
	}

	if sr, ok := reply.(domain.StateReply); ok {
		p.merge(sr.State, req)
	}
	state, _ := p.State()
	return state, nil
}

// State returns the held projection and whether one has been received.
func (p *PanelService) State() (domain.State, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Clone(), p.has
}

// fromBroadcast marks a copy that did not answer one of the panel's requests.
const fromBroadcast uint64 = 0

func (p *PanelService) nextRequest() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	return p.requests
}

// merge replaces the projection with s unless s is older than what is held.
// req is the number of the request s answers, or fromBroadcast.
func (p *PanelService) merge(s domain.State, req uint64) bool {
	p.mu.Lock()
	if p.has && s.Session == p.state.Session && s.Epoch < p.state.Epoch {
		p.mu.Unlock()
		p.logger.Debug("stale state dropped",
			slog.Uint64("epoch", s.Epoch),
			slog.Uint64("held_epoch", p.state.Epoch))
		return false
	}
	if p.has && s.Session != p.state.Session && req != fromBroadcast && req <= p.adopted {
		p.mu.Unlock()
		p.logger.Debug("state from replaced session dropped",
			slog.String("session", s.Session),
			slog.String("held_session", p.state.Session))
		return false
	}
	if !p.has || s.Session != p.state.Session {
		p.adopted = p.requests
	}
	p.state = s.Clone()
	p.has = true
	p.mu.Unlock()

	p.notify(s.Clone())
	return true
}

func (p *PanelService) notify(s domain.State) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.RLock()
	fn, held := p.onChange, p.state.Session
	p.mu.RUnlock()

	// A newer session was adopted while this copy waited
	if s.Session != held {
		return
	}

	n := &p.notified
	if n.has && s.Session == n.session && s.Epoch < n.epoch {
		return
	}
	n.session, n.epoch, n.has = s.Session, s.Epoch, true

	if fn != nil {
		fn(s)
	}
}

// Play starts playback of the selected track.
func (p *PanelService) Play(ctx context.Context) (domain.State, error) {
	return p.Send(ctx, domain.Play{})
}

// Pause pauses playback.
func (p *PanelService) Pause(ctx context.Context) (domain.State, error) {
	return p.Send(ctx, domain.Pause{})
}

// Stop stops playback and rewinds.
func (p *PanelService) Stop(ctx context.Context) (domain.State, error) {
	return p.Send(ctx, domain.Stop{})
}

// Seek moves the playback position to seconds. Negative and non-finite positions seek to 0.
func (p *PanelService) Seek(ctx context.Context, seconds float64) (domain.State, error) {
	return p.Send(ctx, domain.Seek{Time: domain.NonNegative(seconds)})
}

// SetVolume sets the output volume, clamped to [0, 1].
func (p *PanelService) SetVolume(ctx context.Context, volume float64) (domain.State, error) {
	return p.Send(ctx, domain.SetVolume{Volume: domain.ClampVolume(volume)})
}

// AddTrack appends track to the playlist.
func (p *PanelService) AddTrack(ctx context.Context, track domain.Track) (domain.State, error) {
	return p.Send(ctx, domain.AddTrack{Track: track})
}

// RemoveTrack removes the track with the given id.
func (p *PanelService) RemoveTrack(ctx context.Context, id string) (domain.State, error) {
	return p.Send(ctx, domain.RemoveTrack{TrackID: id})
}

// Next selects the next track.
func (p *PanelService) Next(ctx context.Context) (domain.State, error) {
	return p.Send(ctx, domain.NextTrack{})
}

// Previous selects the previous track.
func (p *PanelService) Previous(ctx context.Context) (domain.State, error) {
	return p.Send(ctx, domain.PreviousTrack{})
}

// SelectTrack selects the track with the given id.
// The selection is shown locally before the controller confirms it.
func (p *PanelService) SelectTrack(ctx context.Context, id string) (domain.State, error) {
	p.mu.Lock()
	var echoed *domain.State
	if idx := p.state.IndexOf(id); p.has && idx >= 0 && idx != p.state.CurrentIndex {
		p.state.CurrentIndex = idx
		s := p.state.Clone()
		echoed = &s
	}
	p.mu.Unlock()

	if echoed != nil {
		p.notify(*echoed)
	}

	return p.Send(ctx, domain.SetCurrentTrack{TrackID: id})
}
