package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/notify"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes notification envelopes to a single topic, keyed by
// recipient so one user's messages stay on one partition.
type Producer struct {
	brokers []string
	topic   string
	writer  messageWriter
	log     *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Producer{
		brokers: brokers,
		topic:   topic,
		writer:  writer,
		log:     logger.OrNop(log).Named("kafka"),
	}
}

func (p *Producer) Name() string { return "kafka" }

func (p *Producer) Send(ctx context.Context, env notify.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(env.Recipient.UserID),
		Value: data,
		Time:  env.Metadata.CreatedAt,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(env.MessageID)},
			{Key: "correlation_id", Value: []byte(env.Metadata.CorrelationID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("write message to %s: %w", p.topic, err)
	}

	p.log.Debug("envelope published",
		zap.String("topic", p.topic),
		zap.String("message_id", env.MessageID),
		zap.String("template", env.Payload.Template))
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func (p *Producer) CheckConnection(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("connect to kafka: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(p.topic); err != nil {
		return fmt.Errorf("read partitions of %s: %w", p.topic, err)
	}
	return nil
}
