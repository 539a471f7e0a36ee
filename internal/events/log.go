package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher records events in the application log when no broker is configured
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event ConversionEvent) error {
	zap.L().Info("Conversion event",
		zap.String("type", event.Type),
		zap.String("deposit_id", event.DepositId),
		zap.String("user_id", event.UserId),
		zap.String("currency", string(event.Currency)),
		zap.String("amount", event.Amount.String()),
		zap.String("stablecoin", string(event.Stablecoin)),
		zap.String("minted_amount", event.MintedAmount.String()),
		zap.String("error", event.Error))
	return nil
}

func (LogPublisher) Close() error { return nil }

// NewPublisher returns a Kafka publisher when brokers are configured, otherwise a LogPublisher
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 || topic == "" {
		zap.L().Info("No Kafka brokers configured, conversion events will be logged")
		return LogPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
