package sweeper

import (
	"context"

	"deposit-convert-go/internal/models"

	"go.uber.org/zap"
)

// convertPending converts a deposit that was stored but never converted,
// for instance because the process stopped between intake and conversion
func (s *Sweeper) convertPending(ctx context.Context, deposit models.Deposit, record func(func(*Result))) {
	s.markAttempted(deposit.Id)

	zap.L().Info("Sweeping pending deposit",
		zap.String("deposit_id", deposit.Id),
		zap.String("user_id", deposit.UserId),
		zap.String("currency", string(deposit.Currency)),
		zap.String("amount", deposit.Amount.String()),
		zap.Time("created_at", deposit.CreatedAt))

	outcome, err := s.converter.ConvertDeposit(ctx, deposit.Id)
	if err != nil {
		zap.L().Error("Failed to convert pending deposit",
			zap.String("deposit_id", deposit.Id),
			zap.Error(err))
	} else if !outcome.Success {
		zap.L().Warn("Pending deposit conversion failed",
			zap.String("deposit_id", deposit.Id),
			zap.String("error", outcome.Error))
	}
	countOutcome(outcome, err, record)
}
