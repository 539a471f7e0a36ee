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

package mint

import (
	"context"
	"errors"
	"strings"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrMintTimeout        = errors.New("mint did not settle in time")
	ErrMintFailed         = errors.New("mint failed at provider")
	ErrUnknownTransfer    = errors.New("unknown mint transfer")
	ErrUnsupportedToken   = errors.New("unsupported stablecoin")
	ErrBackendUnavailable = errors.New("no live mint backend configured")
)

// Provider issues stablecoins and waits for the issuance to settle
type Provider interface {
	// Mint initiates a transfer. Calls sharing an idempotency key return the same transfer.
	Mint(ctx context.Context, token models.Stablecoin, amount decimal.Decimal, idempotencyKey string) (*models.MintResult, error)
	// WaitUntilSettled blocks until the transfer is complete or failed, or fails with ErrMintTimeout.
	WaitUntilSettled(ctx context.Context, providerTxId string) (*models.Settlement, error)
}

// Backend is a treasury integration able to create and inspect transfers
type Backend interface {
	Name() string
	CreateTransfer(ctx context.Context, token models.Stablecoin, amount decimal.Decimal, idempotencyKey string) (*models.MintResult, error)
	TransferStatus(ctx context.Context, providerTxId string) (*models.Settlement, error)
	Balances(ctx context.Context) (models.TreasuryBalances, error)
}

// ParseStatus maps a provider status string to a MintStatus
func ParseStatus(status string) models.MintStatus {
	switch strings.ToLower(status) {
	case "complete", "completed", "done", "transaction_done", "settled":
		return models.MintComplete
	case "failed", "rejected", "cancelled", "canceled", "expired", "transaction_failed", "transaction_rejected", "transaction_cancelled", "transaction_expired":
		return models.MintFailed
	case "processing", "running", "transaction_processing", "transaction_broadcasting":
		return models.MintProcessing
	}
	return models.MintPending
}

// ApiKeyPreview returns a redacted api key suitable for diagnostics
func ApiKeyPreview(apiKey string) string {
	if apiKey == "" {
		return "(not set)"
	}
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}
