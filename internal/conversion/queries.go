package conversion

import (
	"context"
	"errors"
	"fmt"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/shopspring/decimal"
)

func (o *Orchestrator) GetDeposit(ctx context.Context, depositId string) (*models.ConversionHistoryItem, error) {
	deposit, err := o.deposits.GetDeposit(ctx, depositId)
	if err != nil {
		return nil, err
	}
	return o.historyItem(ctx, deposit)
}

// GetUserDeposits lists a user's deposits, newest first
func (o *Orchestrator) GetUserDeposits(ctx context.Context, userId string) ([]models.Deposit, error) {
	return o.deposits.ListDeposits(ctx, store.DepositFilter{UserId: userId})
}

// GetUserConversionHistory lists a user's deposits with their FX and mint legs, newest first
func (o *Orchestrator) GetUserConversionHistory(ctx context.Context, userId string) ([]models.ConversionHistoryItem, error) {
	deposits, err := o.GetUserDeposits(ctx, userId)
	if err != nil {
		return nil, err
	}

	history := make([]models.ConversionHistoryItem, 0, len(deposits))
	for i := range deposits {
		item, err := o.historyItem(ctx, &deposits[i])
		if err != nil {
			return nil, err
		}
		history = append(history, *item)
	}
	return history, nil
}

func (o *Orchestrator) historyItem(ctx context.Context, deposit *models.Deposit) (*models.ConversionHistoryItem, error) {
	item := &models.ConversionHistoryItem{Deposit: *deposit}

	job, err := o.deposits.GetMintJob(ctx, deposit.Id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to get mint job: %w", err)
	}
	item.Mint = job

	trade, err := o.deposits.GetFxTrade(ctx, deposit.Id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to get fx trade: %w", err)
	}
	item.FxTrade = trade
	return item, nil
}

// GetSystemStats summarizes every deposit. Processing deposits count as pending.
func (o *Orchestrator) GetSystemStats(ctx context.Context) (*models.SystemStats, error) {
	deposits, err := o.deposits.ListDeposits(ctx, store.DepositFilter{})
	if err != nil {
		return nil, err
	}

	stats := &models.SystemStats{
		TotalDeposits: len(deposits),
		TotalVolume:   make(map[models.FiatCurrency]decimal.Decimal),
		MintedVolume:  make(map[models.Stablecoin]decimal.Decimal),
		SuccessRate:   decimal.Zero,
	}
	for _, token := range models.Stablecoins {
		stats.MintedVolume[token] = decimal.Zero
	}

	for _, d := range deposits {
		switch d.Status {
		case models.DepositConverted:
			stats.SuccessfulConversions++
			stats.TotalVolume[d.Currency] = stats.TotalVolume[d.Currency].Add(d.Amount)

			job, err := o.deposits.GetMintJob(ctx, d.Id)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("failed to get mint job: %w", err)
			}
			if job != nil && job.Status == models.MintComplete {
				stats.MintedVolume[job.Stablecoin] = stats.MintedVolume[job.Stablecoin].Add(job.Amount)
			}
		case models.DepositFailed:
			stats.FailedConversions++
		default:
			stats.PendingConversions++
		}
	}

	if stats.TotalDeposits > 0 {
		stats.SuccessRate = decimal.NewFromInt(int64(stats.SuccessfulConversions)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(stats.TotalDeposits))).
			Round(2)
	}
	return stats, nil
}
