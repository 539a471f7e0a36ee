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

package api

import (
	"context"
	"fmt"
	"slices"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// GetUserBalance returns the current USDC and EURC balance for a user
func (s *LedgerService) GetUserBalance(ctx context.Context, userId string) (*models.Balance, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	balance, err := s.ledger.GetBalance(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get user balance",
			zap.String("user_id", userId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balance")
	}

	return balance, nil
}

// GetUserJournal returns every journal entry of a user, oldest first
func (s *LedgerService) GetUserJournal(ctx context.Context, userId string) ([]models.JournalEntry, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	journal, err := s.ledger.GetJournal(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get user journal", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve journal")
	}

	return journal, nil
}

// GetTransactionHistory returns a page of a user's journal, newest first
func (s *LedgerService) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.JournalEntry, error) {
	journal, err := s.GetUserJournal(ctx, userId)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	slices.Reverse(journal)
	if offset >= len(journal) {
		return []models.JournalEntry{}, nil
	}
	end := min(offset+limit, len(journal))
	return journal[offset:end], nil
}

// GetSystemTotals returns the sum of every user balance per token
func (s *LedgerService) GetSystemTotals(ctx context.Context) (map[models.Stablecoin]decimal.Decimal, error) {
	totals, err := s.ledger.GetSystemTotals(ctx)
	if err != nil {
		zap.L().Error("Failed to get system totals", zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve system totals")
	}
	return totals, nil
}
