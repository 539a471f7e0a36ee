package formance

import (
	"context"
	"math/big"
	"time"

	"deposit-convert-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetBalance returns the user's balance for every token.
// Queries the single users:{userId} account directly.
func (s *Service) GetBalance(ctx context.Context, userId string) (*models.Balance, error) {
	zap.L().Debug("Getting user balance from Formance", zap.String("user_id", userId))

	account, err := s.getAccount(ctx, userAccount(userId))
	if err != nil {
		return nil, err
	}

	balance := &models.Balance{UserId: userId, USDC: decimal.Zero, EURC: decimal.Zero}
	if account == nil {
		return balance, nil
	}
	for _, token := range models.Stablecoins {
		if bal := volumeBalance(account.Volumes, formanceAsset(token)); bal != nil {
			balance.Set(token, bigIntToDecimal(bal, token))
		}
	}
	balance.LastUpdated = accountUpdatedAt(account)
	return balance, nil
}

// GetSystemTotals returns the outstanding supply per token, read off the issuance account.
func (s *Service) GetSystemTotals(ctx context.Context) (map[models.Stablecoin]decimal.Decimal, error) {
	account, err := s.getAccount(ctx, issuanceAccount)
	if err != nil {
		return nil, err
	}

	totals := make(map[models.Stablecoin]decimal.Decimal, len(models.Stablecoins))
	for _, token := range models.Stablecoins {
		totals[token] = decimal.Zero
		if account == nil {
			continue
		}
		// Issuance overdraws by exactly what users hold
		if bal := volumeBalance(account.Volumes, formanceAsset(token)); bal != nil {
			totals[token] = bigIntToDecimal(bal, token).Neg()
		}
	}
	return totals, nil
}

// ---------- helpers ----------

// getAccount fetches a single account with volumes via GetAccount (clean GET).
// A nil account means the ledger has never seen the address.
func (s *Service) getAccount(ctx context.Context, address string) (*shared.V2Account, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		zap.L().Warn("Failed to get account volumes", zap.String("address", address), zap.Error(err))
		return nil, err
	}
	return &resp.V2AccountResponse.Data, nil
}

// accountUpdatedAt returns the last updated timestamp for an account.
func accountUpdatedAt(account *shared.V2Account) time.Time {
	if t := account.UpdatedAt; t != nil {
		return *t
	}
	if t := account.FirstUsage; t != nil {
		return *t
	}
	return time.Time{}
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigIntToDecimal converts a *big.Int in smallest-unit to a human-readable decimal.
func bigIntToDecimal(raw *big.Int, token models.Stablecoin) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(precisionFor(token)))
}
