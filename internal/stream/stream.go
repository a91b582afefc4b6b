// Package stream defines the Kafka topology the system runs on: one topic
// per stream, one consumer group per loop, and the wire codecs. Each loop
// constructs its own Reader so backpressure and retry stay independent.
package stream

import (
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	PriceTopic   = "price_stream"
	OrderTopic   = "order_stream"
	ControlTopic = "order_control_stream"

	PriceGroup   = "engine_price_group"
	OrderGroup   = "engine_order_group"
	ControlGroup = "engine_control_group"

	// ArchiveGroup is the archiver's own cursor over the price stream,
	// independent of the engine's.
	ArchiveGroup = "price_uploaders"
)

// NewReader builds a consumer-group reader. Offsets are committed
// explicitly after side effects, so delivery is at least once.
func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}
