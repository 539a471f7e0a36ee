package models

import "github.com/shopspring/decimal"

// MintResult is returned by a mint provider when a transfer is initiated
type MintResult struct {
	ProviderTxId string
	Status       MintStatus
}

// Settlement is the terminal state of a mint transfer
type Settlement struct {
	ProviderTxId  string
	Status        MintStatus
	FailureReason string
}

// TreasuryBalances are the funds available at the mint provider
type TreasuryBalances map[string]decimal.Decimal

// MintDiagnostics exposes the current mint provider configuration
type MintDiagnostics struct {
	Backend       string `json:"backend"`
	Simulate      bool   `json:"simulate"`
	ApiKeyPreview string `json:"apiKeyPreview"`
	BaseURL       string `json:"baseUrl,omitempty"`
}
