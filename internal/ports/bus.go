// Package ports define interfaces for dependency inversion.
// These interfaces keep the coordination logic independent of the transport, the device and the store.
package ports

import (
	"context"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
)

// MessageBus is the only channel between contexts.
//
// Delivery is asynchronous and at most once per send. Messages from independent senders are
// not ordered relative to each other. A receiver may be absent, in which case Request and
// Broadcast report domain.ErrNoListener.
//
// Thread-safety: Implementations must be thread-safe.
type MessageBus interface {
	// Listen registers the mailbox of a context.
	// Each address has at most one listener; a second registration returns domain.ErrAddressInUse
	// on transports that can detect it.
	Listen(addr domain.Address) (Inbox, error)

	// Request sends msg to addr and waits for the reply or for ctx to end.
	// A domain.ErrorReply from the receiver is returned as a *domain.RemoteError.
	Request(ctx context.Context, addr domain.Address, msg domain.Message) (domain.Message, error)

	// Post sends msg to addr without waiting for a reply.
	// It never blocks; a message that cannot be queued is dropped.
	Post(addr domain.Address, msg domain.Message) error

	// Broadcast pushes msg to every subscriber.
	// Returns domain.ErrNoListener when nobody is subscribed (if the transport can tell).
	Broadcast(msg domain.Message) error

	// Subscribe registers a broadcast receiver.
	Subscribe() (Subscription, error)

	// Close shuts down the bus. Pending requests fail with domain.ErrBusClosed or ErrNoListener.
	Close() error
}

// Delivery is one message taken from an Inbox.
type Delivery struct {
	Message domain.Message

	// reply is nil for posted messages
	reply func(domain.Message)
}

// NewDelivery creates a delivery. reply may be nil for fire-and-forget messages.
func NewDelivery(msg domain.Message, reply func(domain.Message)) Delivery {
	return Delivery{Message: msg, reply: reply}
}

// Respond answers the sender. It is a no-op for posted messages.
func (d Delivery) Respond(msg domain.Message) {
	if d.reply != nil && msg != nil {
		d.reply(msg)
	}
}

// ExpectsReply reports whether the sender waits for an answer.
func (d Delivery) ExpectsReply() bool {
	return d.reply != nil
}

// Inbox is the mailbox of one context. The owner drains C() from a single goroutine.
type Inbox interface {
	C() <-chan Delivery

	// Done is closed once the inbox has been closed.
	Done() <-chan struct{}

	Close() error
}

// Subscription receives broadcasts until closed.
type Subscription interface {
	C() <-chan domain.Message
	Done() <-chan struct{}
	Close() error
}
