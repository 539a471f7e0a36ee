// Package events publishes conversion outcomes to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

const (
	TypeConversionCompleted = "conversion.completed"
	TypeConversionFailed    = "conversion.failed"
)

// ConversionEvent describes the final outcome of one conversion attempt
type ConversionEvent struct {
	Type         string              `json:"type"`
	DepositId    string              `json:"depositId"`
	UserId       string              `json:"userId"`
	Currency     models.FiatCurrency `json:"currency"`
	Amount       decimal.Decimal     `json:"amount"`
	Stablecoin   models.Stablecoin   `json:"stablecoin,omitempty"`
	MintedAmount decimal.Decimal     `json:"mintedAmount"`
	ProviderTxId string              `json:"providerTxId,omitempty"`
	FxTradeId    string              `json:"fxTradeId,omitempty"`
	Attempts     int                 `json:"attempts"`
	Error        string              `json:"error,omitempty"`
	OccurredAt   time.Time           `json:"occurredAt"`
}

// Publisher delivers conversion events. Publish must not block the conversion path for long.
type Publisher interface {
	Publish(ctx context.Context, event ConversionEvent) error
	Close() error
}

// NewConversionEvent builds an event from the records a conversion produced
func NewConversionEvent(deposit *models.Deposit, mint *models.MintJob, trade *models.FxTrade, failure string) ConversionEvent {
	event := ConversionEvent{
		Type:         TypeConversionCompleted,
		DepositId:    deposit.Id,
		UserId:       deposit.UserId,
		Currency:     deposit.Currency,
		Amount:       deposit.Amount,
		MintedAmount: decimal.Zero,
		Attempts:     deposit.Attempts,
		OccurredAt:   time.Now().UTC(),
	}
	if failure != "" {
		event.Type = TypeConversionFailed
		event.Error = failure
	}
	if mint != nil {
		event.Stablecoin = mint.Stablecoin
		event.ProviderTxId = mint.ProviderTxId
		if mint.Status == models.MintComplete {
			event.MintedAmount = mint.Amount
		}
	}
	if trade != nil {
		event.FxTradeId = trade.Id
	}
	return event
}

func encode(event ConversionEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal conversion event: %w", err)
	}
	return data, nil
}
