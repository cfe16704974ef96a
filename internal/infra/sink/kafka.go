// Package sink publishes canonical events to external brokers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crypto_feed/internal/event"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes every event as a JSON message keyed by symbol, so one
// instrument always lands on the same partition.
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka creates an asynchronous writer for the given brokers and topic.
func NewKafka(brokers []string, topic string) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
	return &Kafka{writer: w, topic: topic}
}

func (k *Kafka) Name() string { return "kafka:" + k.topic }

// Publish encodes the batch and hands it to the writer.
func (k *Kafka) Publish(ctx context.Context, events []event.Event) error {
	msgs, err := kafkaMessages(events)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func kafkaMessages(events []event.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", ev.GetType(), err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.GetSymbol()),
			Value: b,
			Headers: []kafka.Header{
				{Key: "connector", Value: []byte(ev.GetConnector())},
				{Key: "event", Value: []byte(ev.GetType())},
			},
			Time: time.UnixMilli(ev.GetTimestamp()),
		})
	}
	return msgs, nil
}
