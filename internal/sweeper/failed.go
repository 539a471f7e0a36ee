package sweeper

import (
	"context"
	"time"

	"deposit-convert-go/internal/models"

	"go.uber.org/zap"
)

// retryDue reports whether a failed deposit is below the attempt cap and its backoff has elapsed
func (s *Sweeper) retryDue(deposit models.Deposit, now time.Time) bool {
	if s.settings.MaxAttempts > 0 && deposit.Attempts >= s.settings.MaxAttempts {
		zap.L().Debug("Failed deposit reached the attempt cap",
			zap.String("deposit_id", deposit.Id),
			zap.Int("attempts", deposit.Attempts),
			zap.Int("max_attempts", s.settings.MaxAttempts))
		return false
	}
	return !now.Before(deposit.UpdatedAt.Add(s.backoff.NextDelay(deposit.Attempts)))
}

func (s *Sweeper) retryFailed(ctx context.Context, deposit models.Deposit, record func(func(*Result))) {
	zap.L().Info("Retrying failed deposit",
		zap.String("deposit_id", deposit.Id),
		zap.Int("attempts", deposit.Attempts),
		zap.String("last_error", deposit.LastError))

	outcome, err := s.converter.RetryConversion(ctx, deposit.Id)
	if err != nil {
		zap.L().Error("Failed to retry deposit",
			zap.String("deposit_id", deposit.Id),
			zap.Error(err))
	} else if !outcome.Success {
		zap.L().Warn("Deposit retry failed",
			zap.String("deposit_id", deposit.Id),
			zap.Int("attempts", outcome.Deposit.Attempts),
			zap.String("error", outcome.Error))
	}
	countOutcome(outcome, err, record)
}
