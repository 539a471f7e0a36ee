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

package models

import (
	"github.com/shopspring/decimal"
)

// ConversionResponse is the outcome of a convert or retry request.
// Business failures are reported through Success and Error.
type ConversionResponse struct {
	Success bool     `json:"success"`
	Deposit *Deposit `json:"deposit,omitempty"`
	Mint    *MintJob `json:"mint,omitempty"`
	FxTrade *FxTrade `json:"fxTrade,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ConversionHistoryItem is one deposit with whatever legs were recorded for it
type ConversionHistoryItem struct {
	Deposit Deposit  `json:"deposit"`
	Mint    *MintJob `json:"mint,omitempty"`
	FxTrade *FxTrade `json:"fxTrade,omitempty"`
}

// SystemStats summarizes every deposit the store knows about
type SystemStats struct {
	TotalDeposits         int                              `json:"totalDeposits"`
	SuccessfulConversions int                              `json:"successfulConversions"`
	FailedConversions     int                              `json:"failedConversions"`
	PendingConversions    int                              `json:"pendingConversions"`
	TotalVolume           map[FiatCurrency]decimal.Decimal `json:"totalVolume"`
	MintedVolume          map[Stablecoin]decimal.Decimal   `json:"mintedVolume"`
	SuccessRate           decimal.Decimal                  `json:"successRate"`
}

// TransferResult represents the result of moving tokens between two users
type TransferResult struct {
	Success     bool            `json:"success"`
	FromUserId  string          `json:"fromUserId,omitempty"`
	ToUserId    string          `json:"toUserId,omitempty"`
	Token       Stablecoin      `json:"token,omitempty"`
	Amount      decimal.Decimal `json:"amount,omitempty"`
	FromBalance decimal.Decimal `json:"fromBalance,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ReconcileResult compares a stored balance with the replay of its journal
type ReconcileResult struct {
	UserId   string                         `json:"userId"`
	Stored   Balance                        `json:"stored"`
	Replayed Balance                        `json:"replayed"`
	Entries  int                            `json:"entries"`
	Drift    map[Stablecoin]decimal.Decimal `json:"drift,omitempty"`
}

// Consistent reports whether stored and replayed balances agree for every token
func (r *ReconcileResult) Consistent() bool {
	return len(r.Drift) == 0
}
