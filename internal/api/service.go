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

	"deposit-convert-go/internal/store"
)

// LedgerService provides the balance, journal and transfer API over any Ledger backend
type LedgerService struct {
	ledger   store.Ledger
	deposits store.DepositStore
}

func NewLedgerService(ledger store.Ledger, deposits store.DepositStore) *LedgerService {
	return &LedgerService{
		ledger:   ledger,
		deposits: deposits,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if _, err := s.ledger.GetSystemTotals(ctx); err != nil {
		return fmt.Errorf("ledger health check failed: %w", err)
	}
	if _, err := s.deposits.ListDeposits(ctx, store.DepositFilter{Limit: 1}); err != nil {
		return fmt.Errorf("deposit store health check failed: %w", err)
	}
	return nil
}
