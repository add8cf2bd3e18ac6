package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// StateKey is the store key of the persisted playback record.
const StateKey = "playbackState"

// storeTimeout bounds a single store read or write.
const storeTimeout = 5 * time.Second

// persistedState is the on-disk shape of the canonical state.
// Pointers distinguish a missing field (backfilled with its default) from a zero value.
// The playlist is kept raw so a malformed one can be discarded on its own.
type persistedState struct {
	Playlist     json.RawMessage `json:"playlist,omitempty"`
	IsPlaying    *bool           `json:"isPlaying,omitempty"`
	CurrentIndex *int            `json:"currentIndex,omitempty"`
	CurrentTime  *float64        `json:"currentTime,omitempty"`
	Duration     *float64        `json:"duration,omitempty"`
	Volume       *float64        `json:"volume,omitempty"`
}

// EncodeState serializes the persisted part of s: the playlist and the transport state.
func EncodeState(s domain.State) ([]byte, error) {
	playlist, err := json.Marshal(s.Clone().Playlist)
	if err != nil {
		return nil, err
	}

	return json.Marshal(persistedState{
		Playlist:     playlist,
		IsPlaying:    &s.IsPlaying,
		CurrentIndex: &s.CurrentIndex,
		CurrentTime:  &s.CurrentTime,
		Duration:     &s.Duration,
		Volume:       &s.Volume,
	})
}

// DecodeState rebuilds a canonical state from a persisted record.
//
// Recovery never fails: missing fields take their defaults, a playlist that does not
// parse or has empty/duplicate ids is replaced by an empty one, and the result is
// normalized so every state invariant holds. The second return value lists what had
// to be repaired, for logging.
func DecodeState(data []byte) (domain.State, []string) {
	state := domain.DefaultState()
	var repairs []string

	var rec persistedState
	if err := json.Unmarshal(data, &rec); err != nil {
		return state, []string{"record unreadable: " + err.Error()}
	}

	if len(rec.Playlist) > 0 {
		var tracks []domain.Track
		if err := json.Unmarshal(rec.Playlist, &tracks); err != nil {
			repairs = append(repairs, "playlist discarded: "+err.Error())
		} else if err := domain.ValidatePlaylist(tracks); err != nil {
			repairs = append(repairs, "playlist discarded: "+err.Error())
		} else if tracks != nil {
			state.Playlist = tracks
		}
	}

	switch {
	case len(state.Playlist) == 0:
		state.CurrentIndex = domain.NoSelection
	case rec.CurrentIndex == nil:
		state.CurrentIndex = 0
	default:
		idx := *rec.CurrentIndex
		clamped := min(max(idx, 0), len(state.Playlist)-1)
		if clamped != idx {
			repairs = append(repairs, "currentIndex clamped")
		}
		state.CurrentIndex = clamped
	}

	if rec.Volume != nil {
		state.Volume = domain.ClampVolume(*rec.Volume)
	}
	if rec.CurrentTime != nil {
		state.CurrentTime = domain.NonNegative(*rec.CurrentTime)
	}
	if rec.Duration != nil {
		state.Duration = domain.NonNegative(*rec.Duration)
	}
	if rec.IsPlaying != nil {
		state.Play.Request(*rec.IsPlaying)
		state.IsPlaying = state.Play.Effective()
	}

	return state, repairs
}

// LoadState reads the persisted record from store.
// A missing record yields the default state. A store failure also yields the
// default state, together with the error so the caller can log it.
func LoadState(ctx context.Context, store ports.StateStore, logger *slog.Logger) (domain.State, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	data, err := store.Get(ctx, StateKey)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info("no persisted state, starting fresh")
		return domain.DefaultState(), nil
	}
	if err != nil {
		return domain.DefaultState(), err
	}

	state, repairs := DecodeState(data)
	for _, r := range repairs {
		logger.Warn("persisted state repaired", slog.String("repair", r))
	}

	logger.Info("persisted state restored",
		slog.Int("tracks", len(state.Playlist)),
		slog.Int("current_index", state.CurrentIndex))

	return state, nil
}

// StateWriter persists states in the background.
//
// Save never blocks the caller. Only the newest pending state is written: a save that
// arrives while another is queued replaces it, so a burst of mutations costs one write.
type StateWriter struct {
	logger *slog.Logger
	store  ports.StateStore

	mu       sync.Mutex
	idle     *sync.Cond
	pending  []byte
	queued   bool
	inflight bool
	closing  bool
	writes   int

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewStateWriter starts the background writer.
func NewStateWriter(logger *slog.Logger, store ports.StateStore) *StateWriter {
	w := &StateWriter{
		logger: logger,
		store:  store,
		wake:   make(chan struct{}, 1),
	}
	w.idle = sync.NewCond(&w.mu)

	w.wg.Add(1)
	go w.run()

	return w
}

// Save queues s for writing.
func (w *StateWriter) Save(s domain.State) {
	data, err := EncodeState(s)
	if err != nil {
		w.logger.Error("failed to encode state", slog.Any("error", err))
		return
	}

	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return
	}
	w.pending = data
	w.queued = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every queued state has been written.
func (w *StateWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.queued || w.inflight {
		w.idle.Wait()
	}
}

// Writes returns how many writes the store accepted.
func (w *StateWriter) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

// Close writes any queued state and stops the writer.
func (w *StateWriter) Close() {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return
	}
	w.closing = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.wg.Wait()
}

func (w *StateWriter) run() {
	defer w.wg.Done()

	for range w.wake {
		for {
			w.mu.Lock()
			if !w.queued {
				closing := w.closing
				w.idle.Broadcast()
				w.mu.Unlock()
				if closing {
					return
				}
				break
			}
			data := w.pending
			w.pending = nil
			w.queued = false
			w.inflight = true
			w.mu.Unlock()

			ok := w.write(data)

			w.mu.Lock()
			w.inflight = false
			if ok {
				w.writes++
			}
			w.mu.Unlock()
		}
	}
}

func (w *StateWriter) write(data []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := w.store.Set(ctx, StateKey, data); err != nil {
		// The next Save rewrites the whole record
		w.logger.Warn("failed to persist state", slog.Any("error", err))
		return false
	}
	return true
}
