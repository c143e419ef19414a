package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/agro-freight/internal/models"
)

// Writer is the part of kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes shipment lifecycle events keyed by shipment id, so every
// event of one shipment lands on the same partition in order.
type KafkaProducer struct {
	writer  Writer
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaProducerWithWriter(w)
}

func NewKafkaProducerWithWriter(w Writer) *KafkaProducer {
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaProducer) PublishEvent(ctx context.Context, ev models.LifecycleEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode lifecycle event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.ShipmentID), Value: b, Time: ev.At})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Decode parses a message value written by PublishEvent.
func Decode(value []byte) (models.LifecycleEvent, error) {
	var ev models.LifecycleEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, err
	}
	if ev.ShipmentID == "" || ev.Kind == "" {
		return ev, fmt.Errorf("lifecycle event missing shipment or kind")
	}
	return ev, nil
}
