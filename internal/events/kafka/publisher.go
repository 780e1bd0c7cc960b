// Package kafka publishes ledger events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/example/txledger/internal/events"
)

// Publisher writes TransactionCompleted events. Messages are keyed by user so
// a user's transactions stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher builds a publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishTransactionCompleted marshals and writes one event.
func (p *Publisher) PublishTransactionCompleted(ctx context.Context, evt events.TransactionCompleted) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.UserID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ events.Publisher = (*Publisher)(nil)
