//go:build (linux && cgo) || windows || darwin

package beep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gobeep "github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// Available indicates whether speaker output is supported in this build.
const Available = true

const (
	eventBuffer      = 64
	timeUpdatePeriod = 250 * time.Millisecond
)

// speakerRate is the fixed output rate; sources are resampled to it.
var speakerRate = gobeep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(speakerRate, speakerRate.N(time.Second/10))
	})
	return speakerErr
}

// Device plays one source at a time on the shared speaker.
//
// Lock order: d.mu is always taken before the speaker lock. Speaker callbacks never
// take d.mu directly; they hand off to a goroutine.
type Device struct {
	logger *slog.Logger
	client *http.Client

	mu       sync.Mutex
	source   string
	streamer gobeep.StreamSeekCloser
	format   gobeep.Format
	ctrl     *gobeep.Ctrl
	volume   *effects.Volume
	level    float64
	paused   bool
	ended    bool
	queued   bool // streamer is attached to the speaker mixer
	closed   bool
	gen      uint64

	events chan domain.DeviceEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewDevice creates a device with nothing bound. The speaker is opened on first Load.
func NewDevice(logger *slog.Logger) *Device {
	d := &Device{
		logger: logger,
		client: &http.Client{},
		level:  domain.DefaultVolume,
		paused: true,
		events: make(chan domain.DeviceEvent, eventBuffer),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.tick()

	return d
}

// Factory returns a ports.MediaDeviceFactory producing speaker devices.
func Factory(logger *slog.Logger) ports.MediaDeviceFactory {
	return func() (ports.MediaDevice, error) {
		return NewDevice(logger), nil
	}
}

func (d *Device) Source() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source
}

type decoded struct {
	streamer gobeep.StreamSeekCloser
	format   gobeep.Format
	err      error
}

// Load releases the current source, binds url and decodes it.
func (d *Device) Load(ctx context.Context, url string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.NewMediaError("load", url, errors.New("device closed"))
	}
	d.gen++
	gen := d.gen
	d.releaseLocked()
	d.source = url
	d.paused = true
	d.ended = false
	d.mu.Unlock()

	if err := initSpeaker(); err != nil {
		return domain.NewMediaError("load", url, fmt.Errorf("%w: speaker: %v", domain.ErrMediaLoadFailed, err))
	}

	result := make(chan decoded, 1)
	go func() {
		s, f, err := openSource(ctx, d.client, url)
		result <- decoded{streamer: s, format: f, err: err}
	}()

	var r decoded
	select {
	case r = <-result:
	case <-ctx.Done():
		// Release whatever the decoder produces later
		go func() {
			if late := <-result; late.streamer != nil {
				late.streamer.Close()
			}
		}()
		return ctx.Err()
	}

	if r.err != nil {
		if errors.Is(r.err, domain.ErrUnsupportedFormat) {
			return domain.NewMediaError("load", url, r.err)
		}
		return domain.NewMediaError("load", url, fmt.Errorf("%w: %v", domain.ErrMediaLoadFailed, r.err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.gen != gen {
		r.streamer.Close()
		return domain.NewMediaError("load", url, fmt.Errorf("%w: superseded", domain.ErrMediaLoadFailed))
	}

	d.streamer = r.streamer
	d.format = r.format

	var out gobeep.Streamer = r.streamer
	if r.format.SampleRate != speakerRate {
		out = gobeep.Resample(4, r.format.SampleRate, speakerRate, r.streamer)
	}
	d.ctrl = &gobeep.Ctrl{Streamer: out, Paused: true}
	d.volume = &effects.Volume{Streamer: d.ctrl, Base: 2}
	d.applyVolumeLocked()
	d.queueLocked()

	d.logger.Debug("source loaded",
		slog.String("url", url),
		slog.Duration("duration", r.format.SampleRate.D(r.streamer.Len())))

	d.emitLocked(domain.DeviceLoadedMetadata)
	d.emitLocked(domain.DeviceCanPlay)

	return nil
}

// queueLocked attaches the effect chain to the speaker. The end callback is
// tagged with the current generation so a stale source cannot end a new one.
func (d *Device) queueLocked() {
	gen := d.gen
	d.queued = true
	speaker.Play(gobeep.Seq(d.volume, gobeep.Callback(func() {
		go d.finished(gen)
	})))
}

func (d *Device) finished(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.gen || d.closed {
		return
	}

	d.queued = false
	d.paused = true
	d.ended = true
	d.emitLocked(domain.DevicePause)
	d.emitLocked(domain.DeviceEnded)
}

func (d *Device) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.streamer == nil {
		return domain.NewMediaError("play", d.source, domain.ErrNoSource)
	}

	if d.ended {
		speaker.Lock()
		err := d.streamer.Seek(0)
		speaker.Unlock()
		if err != nil {
			return domain.NewMediaError("play", d.source, err)
		}
		d.ended = false
	}

	if !d.queued {
		d.queueLocked()
	}

	speaker.Lock()
	d.ctrl.Paused = false
	speaker.Unlock()

	if d.paused {
		d.paused = false
		d.emitLocked(domain.DevicePlay)
	}
	return nil
}

func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauseLocked()
}

func (d *Device) pauseLocked() {
	if d.ctrl == nil || d.paused {
		return
	}
	speaker.Lock()
	d.ctrl.Paused = true
	speaker.Unlock()
	d.paused = true
	d.emitLocked(domain.DevicePause)
}

func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pauseLocked()
	if d.streamer == nil {
		return
	}

	speaker.Lock()
	err := d.streamer.Seek(0)
	speaker.Unlock()
	if err != nil {
		d.logger.Warn("rewind failed", slog.String("url", d.source), slog.Any("error", err))
		return
	}
	d.ended = false
	d.emitLocked(domain.DeviceTimeUpdate)
}

func (d *Device) Seek(seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.streamer == nil {
		return
	}

	d.emitLocked(domain.DeviceSeeking)

	target := d.format.SampleRate.N(time.Duration(domain.NonNegative(seconds) * float64(time.Second)))
	target = min(target, d.streamer.Len())

	speaker.Lock()
	err := d.streamer.Seek(target)
	speaker.Unlock()
	if err != nil {
		d.logger.Warn("seek failed", slog.String("url", d.source), slog.Any("error", err))
		d.emitErrorLocked(domain.NewMediaError("seek", d.source, err))
		return
	}

	if target < d.streamer.Len() {
		d.ended = false
	}
	d.emitLocked(domain.DeviceSeeked)
}

func (d *Device) SetVolume(volume float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.level = domain.ClampVolume(volume)
	d.applyVolumeLocked()
	d.emitLocked(domain.DeviceVolumeChange)
}

func (d *Device) applyVolumeLocked() {
	if d.volume == nil {
		return
	}
	speaker.Lock()
	d.volume.Volume = levelToVolume(d.level)
	d.volume.Silent = d.level <= 0
	speaker.Unlock()
}

func (d *Device) Snapshot() domain.DeviceSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := domain.DeviceSnapshot{
		Source: d.source,
		Volume: d.level,
		Paused: d.paused,
		Ended:  d.ended,
	}
	if d.streamer != nil {
		speaker.Lock()
		pos, length := d.streamer.Position(), d.streamer.Len()
		speaker.Unlock()
		snap.CurrentTime = d.format.SampleRate.D(pos).Seconds()
		snap.Duration = d.format.SampleRate.D(length).Seconds()
	}
	return snap
}

func (d *Device) Events() <-chan domain.DeviceEvent {
	return d.events
}

// Close stops output, releases the source and ends the event stream.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.gen++
	d.releaseLocked()
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	close(d.events)
	d.mu.Unlock()
	return nil
}

// releaseLocked detaches and closes the bound streamer.
func (d *Device) releaseLocked() {
	if d.queued {
		speaker.Clear()
		d.queued = false
	}
	if d.streamer != nil {
		if err := d.streamer.Close(); err != nil {
			d.logger.Debug("close streamer", slog.Any("error", err))
		}
	}
	d.streamer = nil
	d.ctrl = nil
	d.volume = nil
	d.source = ""
	d.paused = true
}

// tick emits timeupdate while playing.
func (d *Device) tick() {
	defer d.wg.Done()

	ticker := time.NewTicker(timeUpdatePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mu.Lock()
			if !d.paused && !d.ended {
				d.emitLocked(domain.DeviceTimeUpdate)
			}
			d.mu.Unlock()
		case <-d.done:
			return
		}
	}
}

func (d *Device) emitLocked(kind domain.DeviceEventKind) {
	d.sendLocked(domain.NewDeviceEvent(kind))
}

func (d *Device) emitErrorLocked(err error) {
	d.sendLocked(domain.NewDeviceErrorEvent(err))
}

func (d *Device) sendLocked(ev domain.DeviceEvent) {
	if d.closed {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.logger.Debug("event buffer full, dropping", slog.String("event", string(ev.Kind)))
	}
}

// Verify that Device implements the MediaDevice interface
var _ ports.MediaDevice = (*Device)(nil)
