package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers batches of events to a broker
type Publisher interface {
	// Publish writes the batch and returns once the broker has acknowledged it
	Publish(ctx context.Context, batch []Event) error

	// Close flushes and releases the connection
	Close() error
}

// messageWriter is the part of kafka.Writer used by KafkaPublisher
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements Publisher using kafka-go
type KafkaPublisher struct {
	writer messageWriter
}

// KafkaConfig holds Kafka publisher configuration
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	BatchSize int
}

// NewKafkaPublisher creates a synchronous writer; batching happens in the Dispatcher
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Encode turns events into keyed kafka messages with JSON values
func Encode(batch []Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, len(batch))
	for i, e := range batch {
		value, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize event %s: %w", e.ID, err)
		}
		msgs[i] = kafka.Message{
			Key:   e.Key(),
			Value: value,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(e.Type)},
			},
		}
	}
	return msgs, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, batch []Event) error {
	if len(batch) == 0 {
		return nil
	}
	msgs, err := Encode(batch)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, batch []Event) error { return nil }

func (Nop) Close() error { return nil }
