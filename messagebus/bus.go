package messagebus

import (
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/inconshreveable/log15"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
)

// Type discriminates the supported wire transports.
type Type int

const (
	TypeUnknown Type = iota
	TypeNats
	TypeRabbitmq
)

// GetType infers the bus type from a connection URL scheme.
func GetType(url string) Type {
	switch {
	case strings.HasPrefix(url, "nats://"), strings.HasPrefix(url, "tls://"):
		return TypeNats
	case strings.HasPrefix(url, "amqp://"), strings.HasPrefix(url, "amqps://"):
		return TypeRabbitmq
	default:
		return TypeUnknown
	}
}

// Subscription is an installed subscription handle that can be torn
// down independently of the Bus it came from.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the transport-agnostic interface the rest of the core programs
// against: publish a wire-level Message, and be notified when one
// arrives. The concrete transport (NATS, RabbitMQ) fills in Connect and
// the publish/subscribe primitives.
type Bus interface {
	Connect() error
	Close() error

	// Publish sends msg out under subject, fire-and-forget.
	Publish(subject string, msg *Message) error

	// Subscribe delivers every Message received on subject to handler.
	Subscribe(subject string, handler func(subject string, msg *Message)) (Subscription, error)
}

// Config carries the connection parameters shared by both transports.
type Config struct {
	URL string
}

// funcSubscription adapts a plain unsubscribe func to Subscription.
type funcSubscription func() error

func (f funcSubscription) Unsubscribe() error { return f() }

// NatsBus is the default transport.
type NatsBus struct {
	Config Config
	Log    log15.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

// NewNatsBus builds a NatsBus, optionally pre-wired with an existing
// connection via a functional option.
func NewNatsBus(cfg Config, opts ...func(*NatsBus)) *NatsBus {
	b := &NatsBus{Config: cfg, Log: discardLogger()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// WithNatsConn pre-seeds the bus with an already-open *nats.Conn.
func WithNatsConn(conn *nats.Conn) func(*NatsBus) {
	return func(b *NatsBus) { b.conn = conn }
}

func (b *NatsBus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	conn, err := nats.Connect(b.Config.URL)
	if err != nil {
		return eris.Wrap(err, "failed to connect to NATS")
	}
	b.conn = conn
	return nil
}

func (b *NatsBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

func (b *NatsBus) Publish(subject string, msg *Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return eris.Wrap(err, "failed to encode message")
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return eris.Wrap(err, "failed to publish to NATS")
	}
	return nil
}

func (b *NatsBus) Subscribe(subject string, handler func(subject string, msg *Message)) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(natsMsg *nats.Msg) {
		msg, err := decodeMessage(natsMsg.Data)
		if err != nil {
			b.Log.Warn("failed to decode message-bus payload", "subject", subject, "error", err)
			return
		}
		handler(natsMsg.Subject, msg)
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to subscribe")
	}
	return funcSubscription(sub.Unsubscribe), nil
}

// RabbitmqBus is the alternate transport.
type RabbitmqBus struct {
	Config Config
	Log    log15.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitmqBus(cfg Config) *RabbitmqBus {
	return &RabbitmqBus{Config: cfg, Log: discardLogger()}
}

func (b *RabbitmqBus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, err := amqp.Dial(b.Config.URL)
	if err != nil {
		return eris.Wrap(err, "failed to connect to RabbitMQ")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return eris.Wrap(err, "failed to open RabbitMQ channel")
	}
	b.conn = conn
	b.channel = ch
	return nil
}

func (b *RabbitmqBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

func (b *RabbitmqBus) Publish(subject string, msg *Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return eris.Wrap(err, "failed to encode message")
	}
	err = b.channel.Publish("", subject, false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        data,
	})
	if err != nil {
		return eris.Wrap(err, "failed to publish to RabbitMQ")
	}
	return nil
}

func (b *RabbitmqBus) Subscribe(subject string, handler func(subject string, msg *Message)) (Subscription, error) {
	q, err := b.channel.QueueDeclare(subject, false, true, false, false, nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to declare queue")
	}
	deliveries, err := b.channel.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to consume queue")
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				msg, err := decodeMessage(d.Body)
				if err != nil {
					b.Log.Warn("failed to decode message-bus payload", "subject", subject, "error", err)
					continue
				}
				handler(subject, msg)
			}
		}
	}()
	return funcSubscription(func() error {
		close(done)
		return b.channel.Cancel("", false)
	}), nil
}

func discardLogger() log15.Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return l
}
