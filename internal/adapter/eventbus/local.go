// Package eventbus provides implementations of the MessageBus interface.
// This file contains the in-process bus used when all contexts run in one binary.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/metrics"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// DefaultMailboxSize is the buffer of each context mailbox and broadcast subscription.
const DefaultMailboxSize = 64

// LocalBus is an in-process implementation of the MessageBus interface.
// Every context owns one buffered mailbox; senders never touch receiver state.
//
// Thread-safety: This implementation is thread-safe. Multiple goroutines can
// send, listen and subscribe concurrently.
//
// Delivery: Post and Broadcast never block. When a mailbox is full the message is
// dropped and logged, which gives the same at-most-once guarantee as a remote transport.
type LocalBus struct {
	// Dependencies
	logger  *slog.Logger
	metrics *metrics.Metrics

	// inboxes maps addresses to their single listener
	inboxes map[domain.Address]*localInbox

	// subscribers receive broadcasts
	subscribers map[uint64]*localSubscription

	// mu protects inboxes, subscribers and closed
	mu sync.RWMutex

	// idCounter generates unique subscription IDs
	idCounter uint64

	mailboxSize int
	closed      bool
}

// NewLocalBus creates a new in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		logger:      slog.New(slog.DiscardHandler),
		inboxes:     make(map[domain.Address]*localInbox),
		subscribers: make(map[uint64]*localSubscription),
		mailboxSize: DefaultMailboxSize,
	}
}

// SetLogger sets the logger for this bus.
// This should be called after construction before using the bus.
func (bus *LocalBus) SetLogger(logger *slog.Logger) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.logger = logger
}

// SetMetrics attaches protocol counters.
func (bus *LocalBus) SetMetrics(m *metrics.Metrics) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.metrics = m
}

// SetMailboxSize changes the buffer size of mailboxes created afterwards.
func (bus *LocalBus) SetMailboxSize(size int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if size > 0 {
		bus.mailboxSize = size
	}
}

// Listen registers the mailbox for addr.
// Returns domain.ErrAddressInUse if another listener holds the address.
func (bus *LocalBus) Listen(addr domain.Address) (ports.Inbox, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.closed {
		return nil, domain.ErrBusClosed
	}

	if _, exists := bus.inboxes[addr]; exists {
		return nil, fmt.Errorf("listen %s: %w", addr, domain.ErrAddressInUse)
	}

	in := &localInbox{
		bus:  bus,
		addr: addr,
		ch:   make(chan ports.Delivery, bus.mailboxSize),
		done: make(chan struct{}),
	}
	bus.inboxes[addr] = in

	bus.logger.Debug("listener registered", slog.String("address", string(addr)))

	return in, nil
}

// Request delivers msg to addr and waits for the reply.
func (bus *LocalBus) Request(ctx context.Context, addr domain.Address, msg domain.Message) (domain.Message, error) {
	in, err := bus.lookup(addr)
	if err != nil {
		return nil, err
	}

	replies := make(chan domain.Message, 1)
	delivery := ports.NewDelivery(msg, func(reply domain.Message) {
		select {
		case replies <- reply:
		default:
			// Only the first reply counts
		}
	})

	select {
	case in.ch <- delivery:
	case <-in.done:
		return nil, domain.ErrNoListener
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	bus.logger.Debug("request delivered",
		slog.String("address", string(addr)),
		slog.String("type", string(msg.Type())))

	select {
	case reply := <-replies:
		if errReply, ok := reply.(domain.ErrorReply); ok {
			return nil, &domain.RemoteError{From: addr, Message: errReply.Error}
		}
		return reply, nil
	case <-in.done:
		return nil, domain.ErrNoListener
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Post queues msg for addr without waiting. Full mailboxes drop the message.
func (bus *LocalBus) Post(addr domain.Address, msg domain.Message) error {
	in, err := bus.lookup(addr)
	if err != nil {
		return err
	}

	select {
	case in.ch <- ports.NewDelivery(msg, nil):
		return nil
	case <-in.done:
		return domain.ErrNoListener
	default:
		bus.logger.Warn("mailbox full, dropping message",
			slog.String("address", string(addr)),
			slog.String("type", string(msg.Type())))
		bus.metrics.MessageDropped(addr)
		return fmt.Errorf("post %s to %s: %w", msg.Type(), addr, domain.ErrMailboxFull)
	}
}

// Broadcast pushes msg to every subscriber without blocking.
// Returns domain.ErrNoListener when nobody is subscribed.
func (bus *LocalBus) Broadcast(msg domain.Message) error {
	bus.mu.RLock()
	if bus.closed {
		bus.mu.RUnlock()
		return domain.ErrBusClosed
	}
	subs := make([]*localSubscription, 0, len(bus.subscribers))
	for _, sub := range bus.subscribers {
		subs = append(subs, sub)
	}
	bus.mu.RUnlock()

	if len(subs) == 0 {
		return domain.ErrNoListener
	}

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		default:
			bus.logger.Debug("subscriber lagging, broadcast dropped", slog.Uint64("subscription", sub.id))
		}
	}

	return nil
}

// Subscribe registers a broadcast receiver.
func (bus *LocalBus) Subscribe() (ports.Subscription, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.closed {
		return nil, domain.ErrBusClosed
	}

	sub := &localSubscription{
		bus:  bus,
		id:   atomic.AddUint64(&bus.idCounter, 1),
		ch:   make(chan domain.Message, bus.mailboxSize),
		done: make(chan struct{}),
	}
	bus.subscribers[sub.id] = sub

	return sub, nil
}

// Close shuts down the bus and releases every listener and subscriber.
//
// Returns an error if already closed.
func (bus *LocalBus) Close() error {
	bus.mu.Lock()
	if bus.closed {
		bus.mu.Unlock()
		return errors.New("message bus already closed")
	}
	bus.closed = true

	inboxes := bus.inboxes
	subs := bus.subscribers
	bus.inboxes = make(map[domain.Address]*localInbox)
	bus.subscribers = make(map[uint64]*localSubscription)
	bus.mu.Unlock()

	for _, in := range inboxes {
		in.release()
	}
	for _, sub := range subs {
		sub.release()
	}

	return nil
}

// ListenerCount returns the number of registered mailboxes for debugging.
func (bus *LocalBus) ListenerCount() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.inboxes)
}

// SubscriberCount returns the number of broadcast subscriptions for debugging.
func (bus *LocalBus) SubscriberCount() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.subscribers)
}

func (bus *LocalBus) lookup(addr domain.Address) (*localInbox, error) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	if bus.closed {
		return nil, domain.ErrBusClosed
	}

	in, ok := bus.inboxes[addr]
	if !ok {
		return nil, domain.ErrNoListener
	}
	return in, nil
}

func (bus *LocalBus) removeInbox(in *localInbox) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.inboxes[in.addr] == in {
		delete(bus.inboxes, in.addr)
	}
}

func (bus *LocalBus) removeSubscription(sub *localSubscription) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.subscribers, sub.id)
}

// localInbox never closes ch; done signals senders instead, so a late send cannot panic.
type localInbox struct {
	bus  *LocalBus
	addr domain.Address
	ch   chan ports.Delivery
	done chan struct{}
	once sync.Once
}

func (in *localInbox) C() <-chan ports.Delivery { return in.ch }

func (in *localInbox) Done() <-chan struct{} { return in.done }

func (in *localInbox) Close() error {
	in.bus.removeInbox(in)
	in.release()
	return nil
}

func (in *localInbox) release() {
	in.once.Do(func() { close(in.done) })
}

type localSubscription struct {
	bus  *LocalBus
	id   uint64
	ch   chan domain.Message
	done chan struct{}
	once sync.Once
}

func (s *localSubscription) C() <-chan domain.Message { return s.ch }

func (s *localSubscription) Done() <-chan struct{} { return s.done }

func (s *localSubscription) Close() error {
	s.bus.removeSubscription(s)
	s.release()
	return nil
}

func (s *localSubscription) release() {
	s.once.Do(func() { close(s.done) })
}

// Verify that LocalBus implements the MessageBus interface
var _ ports.MessageBus = (*LocalBus)(nil)
