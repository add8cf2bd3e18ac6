package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/metrics"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// commandDispatcher accepts engine commands from the controller loop.
// Dispatch must not block.
type commandDispatcher interface {
	Dispatch(seq uint64, cmd domain.Command)
}

// forwardFailure reports a command that never reached a working engine.
type forwardFailure struct {
	seq uint64
	cmd domain.Command
	err error
}

type queuedCommand struct {
	seq uint64
	cmd domain.Command
}

// CommandForwarder delivers controller commands to the engine in dispatch order.
//
// The controller loop never waits on the engine: Dispatch appends to an unbounded FIFO
// and a single worker drains it. Before each command the worker makes sure an engine
// exists, creating one if needed; a host that reports domain.ErrEngineExists counts as
// success. Commands that cannot be delivered are handed to onFailure.
type CommandForwarder struct {
	logger  *slog.Logger
	bus     ports.MessageBus
	host    ports.EngineHost
	metrics *metrics.Metrics

	commandTimeout time.Duration
	onFailure      func(forwardFailure)

	mu     sync.Mutex
	queue  []queuedCommand
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCommandForwarder starts the forwarding worker.
func NewCommandForwarder(
	logger *slog.Logger,
	bus ports.MessageBus,
	host ports.EngineHost,
	m *metrics.Metrics,
	commandTimeout time.Duration,
	onFailure func(forwardFailure),
) *CommandForwarder {
	ctx, cancel := context.WithCancel(context.Background())

	f := &CommandForwarder{
		logger:         logger,
		bus:            bus,
		host:           host,
		metrics:        m,
		commandTimeout: commandTimeout,
		onFailure:      onFailure,
		notify:         make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
	}

	f.wg.Add(1)
	go f.run()

	return f
}

// Dispatch queues cmd behind every command dispatched before it.
func (f *CommandForwarder) Dispatch(seq uint64, cmd domain.Command) {
	f.mu.Lock()
	f.queue = append(f.queue, queuedCommand{seq: seq, cmd: cmd})
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of commands not yet taken by the worker.
func (f *CommandForwarder) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Close abandons queued commands and waits for the in-flight one to return.
func (f *CommandForwarder) Close() {
	f.cancel()
	f.wg.Wait()
}

func (f *CommandForwarder) run() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.notify:
		}

		for {
			f.mu.Lock()
			if len(f.queue) == 0 {
				f.mu.Unlock()
				break
			}
			next := f.queue[0]
			f.queue[0] = queuedCommand{}
			f.queue = f.queue[1:]
			f.mu.Unlock()

			if f.ctx.Err() != nil {
				return
			}
			f.forward(next)
		}
	}
}

func (f *CommandForwarder) forward(qc queuedCommand) {
	if err := f.ensureEngine(); err != nil {
		f.fail(qc, err)
		return
	}

	// The engine acknowledges PLAY_AUDIO once accepted; loading happens after the reply
	ctx, cancel := context.WithTimeout(f.ctx, f.commandTimeout)
	defer cancel()

	_, err := f.bus.Request(ctx, domain.AddressEngine, qc.cmd)
	if err == nil {
		f.logger.Debug("command forwarded", slog.String("type", string(qc.cmd.Type())))
		return
	}

	var remote *domain.RemoteError
	if errors.As(err, &remote) {
		// The engine received the command and reports the failure itself
		f.logger.Debug("engine rejected command",
			slog.String("type", string(qc.cmd.Type())),
			slog.String("error", remote.Message))
		return
	}

	f.fail(qc, err)
}

// ensureEngine creates the engine if none answers. Concurrent creators are tolerated.
func (f *CommandForwarder) ensureEngine() error {
	ctx, cancel := context.WithTimeout(f.ctx, f.commandTimeout)
	defer cancel()

	if f.host.Exists(ctx) {
		return nil
	}

	err := f.host.Create(ctx)
	switch {
	case err == nil:
		f.metrics.EngineCreation("created")
		f.logger.Info("playback engine created")
		return nil
	case errors.Is(err, domain.ErrEngineExists):
		f.metrics.EngineCreation("exists")
		f.logger.Debug("playback engine already exists")
		return nil
	default:
		f.metrics.EngineCreation("failed")
		return err
	}
}

func (f *CommandForwarder) fail(qc queuedCommand, err error) {
	if f.ctx.Err() != nil {
		return
	}

	terr := domain.NewTransportError("forward", domain.AddressEngine, qc.cmd.Type(), err)
	f.logger.Warn("failed to forward command", slog.Any("error", terr))
	f.metrics.ForwardFailed(qc.cmd.Type())

	if f.onFailure != nil {
		f.onFailure(forwardFailure{seq: qc.seq, cmd: qc.cmd, err: terr})
	}
}

var _ commandDispatcher = (*CommandForwarder)(nil)
