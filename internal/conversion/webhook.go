package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewDepositId returns a fresh deposit id
func NewDepositId() string {
	return "dep_" + uuid.New().String()
}

// ValidateWebhook checks an inbound payment notification before it becomes a deposit
func ValidateWebhook(payload models.DepositWebhookPayload) error {
	if strings.TrimSpace(payload.UserId) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidPayload)
	}
	if !models.FiatCurrency(payload.Currency).IsSupported() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidPayload, store.ErrUnsupportedCurrency, payload.Currency)
	}
	if !payload.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidPayload, payload.Amount.String())
	}
	if !payload.Amount.Equal(models.RoundFiat(payload.Amount)) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidPayload, payload.Amount.String(), models.FiatPlaces)
	}
	if !models.PaymentMethod(payload.PaymentMethod).IsValid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidPayload, payload.PaymentMethod)
	}
	return nil
}

// HandleDepositWebhook stores an inbound deposit as pending and converts it immediately.
// A payload whose id is already known returns the existing deposit's outcome.
func (o *Orchestrator) HandleDepositWebhook(ctx context.Context, payload models.DepositWebhookPayload) (*models.ConversionResponse, error) {
	zap.L().Info("Processing deposit webhook",
		zap.String("deposit_id", payload.Id),
		zap.String("user_id", payload.UserId),
		zap.String("currency", payload.Currency),
		zap.String("amount", payload.Amount.String()),
		zap.String("payment_method", payload.PaymentMethod))

	if err := ValidateWebhook(payload); err != nil {
		zap.L().Warn("Rejected deposit webhook", zap.Error(err))
		return nil, err
	}

	deposit := &models.Deposit{
		Id:               payload.Id,
		UserId:           payload.UserId,
		Currency:         models.FiatCurrency(payload.Currency),
		Amount:           payload.Amount,
		Status:           models.DepositPending,
		PaymentMethod:    models.PaymentMethod(payload.PaymentMethod),
		PaymentReference: payload.PaymentReference,
	}
	if deposit.Id == "" {
		deposit.Id = NewDepositId()
	}

	if err := o.deposits.CreateDeposit(ctx, deposit); err != nil {
		if errors.Is(err, store.ErrDuplicateDeposit) {
			zap.L().Info("Duplicate deposit webhook, returning existing deposit",
				zap.String("deposit_id", deposit.Id))
			existing, getErr := o.deposits.GetDeposit(ctx, deposit.Id)
			if getErr != nil {
				return nil, getErr
			}
			return o.recordedOutcome(ctx, existing)
		}
		return nil, fmt.Errorf("failed to store deposit: %w", err)
	}
	depositsReceivedTotal.WithLabelValues(string(deposit.Currency)).Inc()

	zap.L().Info("Deposit created",
		zap.String("deposit_id", deposit.Id),
		zap.String("user_id", deposit.UserId))

	if models.GetTriggerContext(ctx) == nil {
		ctx = models.WithTriggerContext(ctx, &models.TriggerContext{Source: models.TriggerWebhook})
	}
	return o.ConvertDeposit(ctx, deposit.Id)
}
