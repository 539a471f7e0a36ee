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

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reconcile replays a user's journal and compares the result with the stored balance
func (s *LedgerService) Reconcile(ctx context.Context, userId string) (*models.ReconcileResult, error) {
	balance, err := s.GetUserBalance(ctx, userId)
	if err != nil {
		return nil, err
	}
	journal, err := s.GetUserJournal(ctx, userId)
	if err != nil {
		return nil, err
	}

	result := &models.ReconcileResult{
		UserId:   userId,
		Stored:   *balance,
		Replayed: models.ReplayJournal(userId, journal),
		Entries:  len(journal),
	}

	for _, token := range models.Stablecoins {
		stored := result.Stored.Of(token)
		replayed := result.Replayed.Of(token)
		if stored.Equal(replayed) {
			continue
		}
		if result.Drift == nil {
			result.Drift = make(map[models.Stablecoin]decimal.Decimal)
		}
		result.Drift[token] = stored.Sub(replayed)
	}

	if !result.Consistent() {
		zap.L().Error("Ledger drift detected",
			zap.String("user_id", userId),
			zap.Int("entries", result.Entries),
			zap.Any("drift", result.Drift))
	} else {
		zap.L().Debug("Ledger reconciled",
			zap.String("user_id", userId),
			zap.Int("entries", result.Entries))
	}

	return result, nil
}

// ReconcileAll reconciles each user and returns only the inconsistent results
func (s *LedgerService) ReconcileAll(ctx context.Context, userIds []string) ([]models.ReconcileResult, error) {
	var drifted []models.ReconcileResult
	for _, userId := range userIds {
		result, err := s.Reconcile(ctx, userId)
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile %s: %w", userId, err)
		}
		if !result.Consistent() {
			drifted = append(drifted, *result)
		}
	}
	return drifted, nil
}
