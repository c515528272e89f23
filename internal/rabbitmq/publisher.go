package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Domenick1991/carpool/config"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/notify"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const confirmTimeout = 5 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Publisher sends envelopes to a topic exchange with routing key
// "notification.<type>.<priority>" and waits for the broker confirm.
type Publisher struct {
	exchange string
	conn     *amqp.Connection
	log      *zap.Logger

	mu       sync.Mutex
	ch       channel
	confirms <-chan amqp.Confirmation
}

func Dial(cfg config.RabbitMQConfig, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq declare exchange %s: %w", cfg.Exchange, err)
	}
	if cfg.Queue != "" {
		if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq declare queue %s: %w", cfg.Queue, err)
		}
		if err := ch.QueueBind(cfg.Queue, "notification.#", cfg.Exchange, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq bind queue %s: %w", cfg.Queue, err)
		}
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	p := newPublisher(cfg.Exchange, ch, confirms, log)
	p.conn = conn
	return p, nil
}

func newPublisher(exchange string, ch channel, confirms <-chan amqp.Confirmation, log *zap.Logger) *Publisher {
	return &Publisher{
		exchange: exchange,
		ch:       ch,
		confirms: confirms,
		log:      logger.OrNop(log).Named("rabbitmq"),
	}
}

func (p *Publisher) Name() string { return "rabbitmq" }

func RoutingKey(env notify.Envelope) string {
	priority := env.Metadata.Priority
	if priority == "" {
		priority = notify.PriorityNormal
	}
	return fmt.Sprintf("notification.%s.%s", env.Type, priority)
}

func (p *Publisher) Send(ctx context.Context, env notify.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	msg := amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     env.MessageID,
		CorrelationId: env.Metadata.CorrelationID,
		Timestamp:     env.Metadata.CreatedAt,
		Body:          body,
	}
	if env.Metadata.Priority == notify.PriorityHigh {
		msg.Priority = 5
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(env), false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}

	if p.confirms == nil {
		return nil
	}
	select {
	case c, ok := <-p.confirms:
		if !ok {
			return errors.New("rabbitmq: confirm channel closed")
		}
		if !c.Ack {
			return errors.New("rabbitmq: publish not acknowledged")
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	p.log.Debug("envelope published",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", RoutingKey(env)),
		zap.String("message_id", env.MessageID))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
