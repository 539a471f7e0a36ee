/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetBalance returns a user's balance for every token; unknown users hold zero
func (s *SubledgerService) GetBalance(ctx context.Context, userId string) (*models.Balance, error) {
	rows, err := s.db.QueryContext(ctx, queryGetBalances, userId)
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	balance := &models.Balance{UserId: userId, USDC: decimal.Zero, EURC: decimal.Zero}
	for rows.Next() {
		var token models.Stablecoin
		var balanceStr string
		var updatedAt time.Time
		if err := rows.Scan(&token, &balanceStr, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}

		amount, err := decimal.NewFromString(balanceStr)
		if err != nil {
			zap.L().Error("Failed to parse balance", zap.String("balance_str", balanceStr), zap.Error(err))
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}
		balance.Set(token, amount)
		if updatedAt.After(balance.LastUpdated) {
			balance.LastUpdated = updatedAt
		}
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	zap.L().Debug("Retrieved balance",
		zap.String("user_id", userId),
		zap.String("usdc", balance.USDC.String()),
		zap.String("eurc", balance.EURC.String()))
	return balance, nil
}

// GetSystemTotals sums every user's balance per token
func (s *SubledgerService) GetSystemTotals(ctx context.Context) (map[models.Stablecoin]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllBalances)
	if err != nil {
		return nil, fmt.Errorf("failed to get system totals: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	totals := make(map[models.Stablecoin]decimal.Decimal, len(models.Stablecoins))
	for _, token := range models.Stablecoins {
		totals[token] = decimal.Zero
	}

	for rows.Next() {
		var token models.Stablecoin
		var balanceStr string
		if err := rows.Scan(&token, &balanceStr); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		amount, err := decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}
		totals[token] = totals[token].Add(amount)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return totals, nil
}
