// Package events relays order events from the outbox table to Kafka.
package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/safar/grocery-store/internal/config"
	"github.com/safar/grocery-store/internal/models"
	"github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(ctx context.Context, events []models.OutboxEvent) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchSize:              cfg.BatchSize,
			BatchTimeout:           100 * time.Millisecond,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish writes the events keyed by order id, so every event for one order
// lands on the same partition in commit order.
func (p *KafkaPublisher) Publish(ctx context.Context, events []models.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, toMessages(events)...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessages(events []models.OutboxEvent) []kafka.Message {
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		messages[i] = kafka.Message{
			Key:   []byte(strconv.FormatInt(event.AggregateID, 10)),
			Value: event.Payload,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(event.EventID)},
				{Key: "event_type", Value: []byte(event.EventType)},
			},
			Time: event.CreatedAt,
		}
	}
	return messages
}
