package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher delivers outbox messages to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, messages []Message) error
}

// Envelope is the wire form of an outbox message.
type Envelope struct {
	ID            string         `json:"id"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
}

func NewEnvelope(msg Message) Envelope {
	return Envelope{
		ID:            msg.ID.String(),
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		CreatedAt:     msg.CreatedAt,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one Kafka record per message, keyed by aggregate
// id so events of one record stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              100,
		BatchTimeout:           100 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

func NewKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	records := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		value, err := json.Marshal(NewEnvelope(msg))
		if err != nil {
			return fmt.Errorf("encode outbox message %s: %w", msg.ID, err)
		}
		records = append(records, kafka.Message{
			Key:   []byte(msg.AggregateID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(msg.EventType)},
			},
		})
	}
	return p.writer.WriteMessages(ctx, records...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher stands in for a broker in local setups.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("outbox.publisher")}
}

func (p *LogPublisher) Publish(ctx context.Context, messages []Message) error {
	for _, msg := range messages {
		p.log.Info("outbox event",
			zap.String("event_id", msg.ID.String()),
			zap.String("event_type", msg.EventType),
			zap.String("aggregate_type", msg.AggregateType),
			zap.String("aggregate_id", msg.AggregateID),
		)
	}
	return nil
}
