package api

import (
	"context"
	"errors"
	"fmt"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransferReferences derives the debit and credit references of one transfer
func TransferReferences(reference string) (string, string) {
	return "transfer:" + reference + ":out", "transfer:" + reference + ":in"
}

// TransferBetweenUsers debits the sender and credits the receiver. The two entries are
// not atomic across users; a credit failure is compensated by crediting the sender back.
func (s *LedgerService) TransferBetweenUsers(ctx context.Context, fromUserId, toUserId string, token models.Stablecoin, amount decimal.Decimal, reference string) (*models.TransferResult, error) {
	if fromUserId == "" || toUserId == "" || fromUserId == toUserId || !token.IsValid() || !amount.IsPositive() {
		return &models.TransferResult{
			Success: false,
			Error:   "invalid transfer parameters",
		}, nil
	}
	if !amount.Equal(models.RoundToken(amount)) {
		return &models.TransferResult{
			Success: false,
			Error:   fmt.Sprintf("amount has more than %d decimal places", models.TokenPlaces),
		}, nil
	}
	if reference == "" {
		reference = uuid.New().String()
	}
	outRef, inRef := TransferReferences(reference)

	zap.L().Info("Processing transfer",
		zap.String("from_user_id", fromUserId),
		zap.String("to_user_id", toUserId),
		zap.String("token", string(token)),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))

	debit, err := s.ledger.Debit(ctx, fromUserId, token, amount, models.EntryMetadata{
		Reference:      outRef,
		TransferType:   models.TransferOutgoing,
		CounterpartyId: toUserId,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) || errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Transfer rejected",
				zap.String("from_user_id", fromUserId),
				zap.String("reference", reference),
				zap.Error(err))
			return &models.TransferResult{
				Success: false,
				Error:   err.Error(),
			}, nil
		}
		zap.L().Error("Transfer debit failed",
			zap.String("from_user_id", fromUserId),
			zap.String("token", string(token)),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to debit sender: %w", err)
	}

	_, err = s.ledger.Credit(ctx, toUserId, token, amount, models.EntryMetadata{
		Reference:      inRef,
		TransferType:   models.TransferIncoming,
		CounterpartyId: fromUserId,
	})
	if err != nil {
		zap.L().Error("Transfer credit failed after debit, crediting sender back",
			zap.String("from_user_id", fromUserId),
			zap.String("to_user_id", toUserId),
			zap.String("reference", reference),
			zap.Error(err))

		_, reverseErr := s.ledger.Credit(ctx, fromUserId, token, amount, models.EntryMetadata{
			Reference:      "transfer:" + reference + ":reversal",
			TransferType:   models.TransferIncoming,
			CounterpartyId: toUserId,
			Extra:          map[string]string{"reverses": outRef},
		})
		if reverseErr != nil {
			zap.L().Error("Transfer reversal failed, sender balance requires manual correction",
				zap.String("from_user_id", fromUserId),
				zap.String("reference", reference),
				zap.String("amount", amount.String()),
				zap.Error(reverseErr))
			return nil, errors.Join(err, reverseErr)
		}
		return nil, fmt.Errorf("failed to credit receiver: %w", err)
	}

	zap.L().Info("Transfer completed",
		zap.String("from_user_id", fromUserId),
		zap.String("to_user_id", toUserId),
		zap.String("token", string(token)),
		zap.String("amount", amount.String()),
		zap.String("from_balance", debit.BalanceAfter.String()))

	return &models.TransferResult{
		Success:     true,
		FromUserId:  fromUserId,
		ToUserId:    toUserId,
		Token:       token,
		Amount:      amount,
		FromBalance: debit.BalanceAfter,
	}, nil
}
