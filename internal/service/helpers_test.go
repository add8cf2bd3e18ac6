package service

import (
	"fmt"
	"sync"
	"testing"

	"github.com/tejashwikalptaru/tunebridge/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/tunebridge/internal/adapter/repository/memory"
	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/logger"
)

// recordingDispatcher captures the commands a controller issues.
type recordingDispatcher struct {
	mu   sync.Mutex
	cmds []queuedCommand
}

func (r *recordingDispatcher) Dispatch(seq uint64, cmd domain.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, queuedCommand{seq: seq, cmd: cmd})
}

func (r *recordingDispatcher) Commands() []domain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Command, len(r.cmds))
	for i, qc := range r.cmds {
		out[i] = qc.cmd
	}
	return out
}

func (r *recordingDispatcher) Types() []domain.MessageType {
	cmds := r.Commands()
	out := make([]domain.MessageType, len(cmds))
	for i, c := range cmds {
		out[i] = c.Type()
	}
	return out
}

// Last returns the most recent command and its sequence number.
func (r *recordingDispatcher) Last() (uint64, domain.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cmds) == 0 {
		return 0, nil
	}
	last := r.cmds[len(r.cmds)-1]
	return last.seq, last.cmd
}

func (r *recordingDispatcher) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = nil
}

// Helper to create a test controller wired to a recording dispatcher
func newTestController(t *testing.T, initial domain.State) (*ControllerService, *recordingDispatcher, *eventbus.LocalBus, *memory.Store) {
	t.Helper()

	bus := eventbus.NewLocalBus()
	store := memory.NewStore()
	log := logger.NewTestLogger()

	writer := NewStateWriter(log, store)
	c := newController(log, bus, writer, initial, nil)
	rec := &recordingDispatcher{}
	c.dispatcher = rec

	t.Cleanup(func() {
		writer.Close()
		bus.Close()
	})

	return c, rec, bus, store
}

// Helper to create test tracks with predictable ids
func createTestTracks(n int) []domain.Track {
	tracks := make([]domain.Track, n)
	for i := range tracks {
		tracks[i] = domain.Track{
			ID:   fmt.Sprintf("t%d", i+1),
			Name: fmt.Sprintf("Track %d", i+1),
			URL:  fmt.Sprintf("https://example.com/%d.mp3", i+1),
		}
	}
	return tracks
}

// stateWith returns a default state holding tracks, with the first one selected.
func stateWith(tracks []domain.Track) domain.State {
	s := domain.DefaultState()
	s.Playlist = tracks
	if len(tracks) > 0 {
		s.CurrentIndex = 0
	}
	return s
}

// mustState extracts the state from a controller reply.
func mustState(t *testing.T, reply domain.Message) domain.State {
	t.Helper()
	sr, ok := reply.(domain.StateReply)
	if !ok {
		t.Fatalf("expected StateReply, got %T (%v)", reply, reply)
	}
	return sr.State
}
