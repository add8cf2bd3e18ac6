package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/metrics"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL string

	// SubjectPrefix namespaces every subject, e.g. "tunebridge" gives "tunebridge.controller"
	SubjectPrefix string

	// Name is reported to the server for monitoring
	Name string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "tunebridge",
		Name:          "tunebridge",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus implements MessageBus over NATS core request/reply, so each context
// can live in its own process.
//
// Mapping: Listen subscribes "<prefix>.<address>", Request uses NATS request/reply
// (nats.ErrNoResponders becomes domain.ErrNoListener), Post and Broadcast are plain
// publishes. NATS cannot tell whether a publish had listeners, so Broadcast never
// reports domain.ErrNoListener.
type NATSBus struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	conn    *nats.Conn
	prefix  string

	mailboxSize int

	mu     sync.Mutex
	closed bool
}

// NewNATSBus connects to the NATS server.
func NewNATSBus(cfg NATSConfig, logger *slog.Logger) (*NATSBus, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info("nats bus connected", slog.String("url", conn.ConnectedUrl()))

	return &NATSBus{
		logger:      logger,
		conn:        conn,
		prefix:      cfg.SubjectPrefix,
		mailboxSize: DefaultMailboxSize,
	}, nil
}

// SetMetrics attaches protocol counters.
func (b *NATSBus) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// SetMailboxSize changes the buffer size of mailboxes created afterwards.
func (b *NATSBus) SetMailboxSize(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if size > 0 {
		b.mailboxSize = size
	}
}

func (b *NATSBus) subject(addr domain.Address) string {
	return b.prefix + "." + string(addr)
}

func (b *NATSBus) broadcastSubject() string {
	return b.prefix + ".broadcast"
}

// Listen subscribes the address subject and feeds a local mailbox.
func (b *NATSBus) Listen(addr domain.Address) (ports.Inbox, error) {
	b.mu.Lock()
	closed, size := b.closed, b.mailboxSize
	b.mu.Unlock()
	if closed {
		return nil, domain.ErrBusClosed
	}

	in := &natsInbox{
		ch:   make(chan ports.Delivery, size),
		done: make(chan struct{}),
	}

	sub, err := b.conn.Subscribe(b.subject(addr), func(m *nats.Msg) {
		b.deliver(addr, in, m)
	})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	in.sub = sub

	return in, nil
}

func (b *NATSBus) deliver(addr domain.Address, in *natsInbox, m *nats.Msg) {
	msg, err := domain.DecodeMessage(m.Data)
	if err != nil {
		b.logger.Warn("dropping undecodable message", slog.String("address", string(addr)), slog.Any("error", err))
		b.respond(m, domain.NewErrorReply(err))
		return
	}

	var reply func(domain.Message)
	if m.Reply != "" {
		reply = func(r domain.Message) { b.respond(m, r) }
	}

	select {
	case in.ch <- ports.NewDelivery(msg, reply):
	case <-in.done:
	default:
		b.logger.Warn("mailbox full, dropping message",
			slog.String("address", string(addr)),
			slog.String("type", string(msg.Type())))
		b.metrics.MessageDropped(addr)
		b.respond(m, domain.NewErrorReply(domain.ErrMailboxFull))
	}
}

func (b *NATSBus) respond(m *nats.Msg, reply domain.Message) {
	if m.Reply == "" {
		return
	}
	data, err := domain.EncodeMessage(reply)
	if err != nil {
		b.logger.Error("failed to encode reply", slog.Any("error", err))
		return
	}
	if err := m.Respond(data); err != nil {
		b.logger.Debug("failed to send reply", slog.Any("error", err))
	}
}

// Request performs a NATS request and decodes the reply.
func (b *NATSBus) Request(ctx context.Context, addr domain.Address, msg domain.Message) (domain.Message, error) {
	if b.isClosed() {
		return nil, domain.ErrBusClosed
	}

	data, err := domain.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}

	resp, err := b.conn.RequestWithContext(ctx, b.subject(addr), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, domain.ErrNoListener
		}
		return nil, fmt.Errorf("request %s to %s: %w", msg.Type(), addr, err)
	}

	reply, err := domain.DecodeMessage(resp.Data)
	if err != nil {
		return nil, err
	}
	if errReply, ok := reply.(domain.ErrorReply); ok {
		return nil, &domain.RemoteError{From: addr, Message: errReply.Error}
	}
	return reply, nil
}

// Post publishes msg to addr without waiting.
func (b *NATSBus) Post(addr domain.Address, msg domain.Message) error {
	return b.publish(b.subject(addr), msg)
}

// Broadcast publishes msg on the broadcast subject.
func (b *NATSBus) Broadcast(msg domain.Message) error {
	return b.publish(b.broadcastSubject(), msg)
}

func (b *NATSBus) publish(subject string, msg domain.Message) error {
	if b.isClosed() {
		return domain.ErrBusClosed
	}
	data, err := domain.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

// Subscribe receives broadcasts.
func (b *NATSBus) Subscribe() (ports.Subscription, error) {
	if b.isClosed() {
		return nil, domain.ErrBusClosed
	}

	s := &natsSubscription{
		ch:   make(chan domain.Message, DefaultMailboxSize),
		done: make(chan struct{}),
	}

	sub, err := b.conn.Subscribe(b.broadcastSubject(), func(m *nats.Msg) {
		msg, err := domain.DecodeMessage(m.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable broadcast", slog.Any("error", err))
			return
		}
		select {
		case s.ch <- msg:
		case <-s.done:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe broadcasts: %w", err)
	}
	s.sub = sub

	return s, nil
}

// Close drains the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("message bus already closed")
	}
	b.closed = true
	b.mu.Unlock()

	return b.conn.Drain()
}

func (b *NATSBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type natsInbox struct {
	sub  *nats.Subscription
	ch   chan ports.Delivery
	done chan struct{}
	once sync.Once
}

func (in *natsInbox) C() <-chan ports.Delivery { return in.ch }

func (in *natsInbox) Done() <-chan struct{} { return in.done }

func (in *natsInbox) Close() error {
	var err error
	in.once.Do(func() {
		err = in.sub.Unsubscribe()
		close(in.done)
	})
	return err
}

type natsSubscription struct {
	sub  *nats.Subscription
	ch   chan domain.Message
	done chan struct{}
	once sync.Once
}

func (s *natsSubscription) C() <-chan domain.Message { return s.ch }

func (s *natsSubscription) Done() <-chan struct{} { return s.done }

func (s *natsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		close(s.done)
	})
	return err
}

// Verify that NATSBus implements the MessageBus interface
var _ ports.MessageBus = (*NATSBus)(nil)
