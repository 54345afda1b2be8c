package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaBus publishes events to a Kafka topic keyed by Event.Key so
// per-rental ordering is preserved within a partition.
type KafkaBus struct {
	writer *kafka.Writer
}

func NewKafkaBus(brokers []string, topic string) *KafkaBus {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaBus{writer: w}
}

func (k *KafkaBus) Publish(ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Key), Value: b})
}

func (k *KafkaBus) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
