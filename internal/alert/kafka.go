package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"manutenzioni/internal/domain"
)

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes alerts keyed by civico/asset, so alerts of one asset
// stay ordered within a partition.
type KafkaSink struct {
	Topic  string
	Writer MessageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		Topic: topic,
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (k *KafkaSink) Name() string { return "kafka:" + k.Topic }

func (k *KafkaSink) Deliver(ctx context.Context, evt domain.AlertEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return k.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.Civico + "/" + evt.AssetID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(evt.Kind)},
			{Key: "severity", Value: []byte(evt.Severity)},
		},
	})
}

func (k *KafkaSink) Close() error {
	return k.Writer.Close()
}
