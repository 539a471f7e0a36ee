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
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the direction of a journal entry
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Transfer directions recorded in EntryMetadata.TransferType
const (
	TransferOutgoing = "outgoing"
	TransferIncoming = "incoming"
)

// EntryMetadata references whatever caused a balance mutation.
// Reference, when set, must be unique per ledger and makes the call idempotent.
type EntryMetadata struct {
	Reference      string            `json:"reference,omitempty"`
	DepositId      string            `json:"depositId,omitempty"`
	ProviderTxId   string            `json:"providerTxId,omitempty"`
	FxTradeId      string            `json:"fxTradeId,omitempty"`
	TransferType   string            `json:"transferType,omitempty"`
	CounterpartyId string            `json:"counterpartyId,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// JournalEntry is an immutable record of a balance mutation
type JournalEntry struct {
	Id           string          `json:"id" db:"id"`
	Timestamp    time.Time       `json:"timestamp" db:"created_at"`
	Type         EntryType       `json:"type" db:"entry_type"`
	UserId       string          `json:"userId" db:"user_id"`
	Token        Stablecoin      `json:"token" db:"token"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter decimal.Decimal `json:"balanceAfter" db:"balance_after"`
	Metadata     EntryMetadata   `json:"metadata"`
}

// Signed returns the amount with the sign of its effect on the balance
func (e JournalEntry) Signed() decimal.Decimal {
	if e.Type == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Balance is a user's running total per token
type Balance struct {
	UserId      string          `json:"userId"`
	USDC        decimal.Decimal `json:"USDC"`
	EURC        decimal.Decimal `json:"EURC"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// Of returns the balance held in token
func (b *Balance) Of(token Stablecoin) decimal.Decimal {
	if token == EURC {
		return b.EURC
	}
	return b.USDC
}

// Set overwrites the balance held in token
func (b *Balance) Set(token Stablecoin, amount decimal.Decimal) {
	if token == EURC {
		b.EURC = amount
		return
	}
	b.USDC = amount
}

// ReplayJournal rebuilds a balance from scratch by applying entries in order
func ReplayJournal(userId string, entries []JournalEntry) Balance {
	balance := Balance{UserId: userId, USDC: decimal.Zero, EURC: decimal.Zero}
	for _, e := range entries {
		balance.Set(e.Token, balance.Of(e.Token).Add(e.Signed()))
		if e.Timestamp.After(balance.LastUpdated) {
			balance.LastUpdated = e.Timestamp
		}
	}
	return balance
}
