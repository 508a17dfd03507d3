package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-userhooks/core"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange       = "events"
	defaultPublishTimeout = 10 * time.Second
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Option func(*Publisher)

func WithExchange(exchange string) Option {
	return func(p *Publisher) {
		if trimmed := strings.TrimSpace(exchange); trimmed != "" {
			p.exchange = trimmed
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(p *Publisher) {
		p.logger = glog.Ensure(logger)
	}
}

func WithPublishTimeout(timeout time.Duration) Option {
	return func(p *Publisher) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// Publisher fans user sync messages out to a durable topic exchange. The
// routing key is the event type; the correlation id is the source event id.
type Publisher struct {
	channel  Channel
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration
	logger   core.Logger
	now      func() time.Time
}

// Dial connects to url and declares the exchange.
func Dial(url string, opts ...Option) (*Publisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("rabbitmq: broker url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	publisher, err := NewPublisher(ch, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

// NewPublisher declares the topic exchange on ch.
func NewPublisher(ch Channel, opts ...Option) (*Publisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("rabbitmq: channel is required")
	}
	p := &Publisher{
		channel:  ch,
		exchange: DefaultExchange,
		timeout:  defaultPublishTimeout,
		logger:   glog.Nop(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq: declare exchange %s: %w", p.exchange, err)
	}
	return p, nil
}

func (p *Publisher) PublishUserSync(ctx context.Context, msg core.UserSyncMessage) error {
	if p == nil || p.channel == nil {
		return fmt.Errorf("rabbitmq: publisher is not configured")
	}
	routingKey := strings.TrimSpace(string(msg.EventType))
	if routingKey == "" {
		return core.BadInput("rabbitmq: event type is required", nil)
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = p.now()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return core.Internal("rabbitmq: encode user sync message", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.logger.WithContext(ctx).Debug("publishing user sync",
		"routing_key", routingKey,
		"correlation_id", msg.EventID,
		"user_id", msg.UserID,
	)
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: msg.EventID,
		MessageId:     msg.EventID,
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now(),
	})
	if err != nil {
		return core.DownstreamUnavailable(err, "event publisher")
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ core.EventPublisher = (*Publisher)(nil)
	_ Channel             = (*amqp.Channel)(nil)
)
