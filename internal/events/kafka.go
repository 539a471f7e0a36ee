package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher writes conversion events keyed by deposit id so one deposit's events stay ordered
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			zap.L().Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			zap.L().Error("Kafka writer error", zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	}

	zap.L().Info("Kafka publisher initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
		zap.String("mode", "async"))
	return &KafkaPublisher{writer: writer}
}

func messageFor(event ConversionEvent) (kafka.Message, error) {
	value, err := encode(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.DepositId),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event ConversionEvent) error {
	msg, err := messageFor(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("unable to publish %s for deposit %s: %w", event.Type, event.DepositId, err)
	}
	return nil
}

// Close flushes pending async writes
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
