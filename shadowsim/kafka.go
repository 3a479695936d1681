package shadowsim

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaForwarder writes telemetry to a Kafka topic keyed by thing name, so every thing's readings land on one
// partition in order.
type KafkaForwarder struct {
	w *kafka.Writer
}

var _ Forwarder = &KafkaForwarder{}

// NewKafkaForwarder returns a forwarder producing to topic on brokers.
func NewKafkaForwarder(brokers []string, topic string) *KafkaForwarder {
	return &KafkaForwarder{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (k *KafkaForwarder) Forward(ctx context.Context, thing string, payload []byte) error {
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(thing), Value: payload}); err != nil {
		return fmt.Errorf("kafka: write %s: %w", k.w.Topic, err)
	}

	return nil
}

// Close flushes pending messages and closes the writer.
func (k *KafkaForwarder) Close() error {
	return k.w.Close()
}
