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

// FiatCurrency is an ISO code of a currency a deposit may arrive in
type FiatCurrency string

const (
	USD FiatCurrency = "USD"
	EUR FiatCurrency = "EUR"
	GHS FiatCurrency = "GHS"
	AED FiatCurrency = "AED"
	NGN FiatCurrency = "NGN"
)

var supportedFiat = map[FiatCurrency]bool{USD: true, EUR: true, GHS: true, AED: true, NGN: true}

// IsSupported reports whether deposits in this currency can be accepted
func (c FiatCurrency) IsSupported() bool {
	return supportedFiat[c]
}

// IsLocal reports whether the currency needs an FX leg before minting
func (c FiatCurrency) IsLocal() bool {
	return c.IsSupported() && c != USD && c != EUR
}

// Stablecoin is a token issued by the mint provider
type Stablecoin string

const (
	USDC Stablecoin = "USDC"
	EURC Stablecoin = "EURC"
)

// Stablecoins lists every token the ledger tracks, in display order
var Stablecoins = []Stablecoin{USDC, EURC}

// IsValid reports whether the token is tracked by the ledger
func (s Stablecoin) IsValid() bool {
	return s == USDC || s == EURC
}

// BackingCurrency returns the fiat currency a token is minted from (USDC <- USD, EURC <- EUR)
func (s Stablecoin) BackingCurrency() FiatCurrency {
	if s == EURC {
		return EUR
	}
	return USD
}

// StablecoinFor maps a mint currency to its token. ok is false for local currencies.
func StablecoinFor(c FiatCurrency) (Stablecoin, bool) {
	switch c {
	case USD:
		return USDC, true
	case EUR:
		return EURC, true
	}
	return "", false
}

// PaymentMethod is the rail the fiat arrived through
type PaymentMethod string

const (
	PaymentCard        PaymentMethod = "card"
	PaymentBank        PaymentMethod = "bank"
	PaymentMobileMoney PaymentMethod = "mobile_money"
	PaymentPaypal      PaymentMethod = "paypal"
	PaymentApplePay    PaymentMethod = "apple_pay"
	PaymentGooglePay   PaymentMethod = "google_pay"
)

// IsValid reports whether the payment method is one we accept
func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentCard, PaymentBank, PaymentMobileMoney, PaymentPaypal, PaymentApplePay, PaymentGooglePay:
		return true
	}
	return false
}

// DepositStatus is a state of the conversion state machine
type DepositStatus string

const (
	DepositPending    DepositStatus = "pending"
	DepositProcessing DepositStatus = "processing"
	DepositConverted  DepositStatus = "converted"
	DepositFailed     DepositStatus = "failed"
)

var depositTransitions = map[DepositStatus][]DepositStatus{
	DepositPending:    {DepositProcessing},
	DepositProcessing: {DepositConverted, DepositFailed},
	DepositFailed:     {DepositProcessing},
}

// CanTransitionTo reports whether next is a legal successor of s.
// converted is terminal; failed may only go back to processing.
func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	for _, allowed := range depositTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic transition is expected
func (s DepositStatus) IsTerminal() bool {
	return s == DepositConverted || s == DepositFailed
}

// TradeStatus is the status of an FX trade
type TradeStatus string

const (
	TradePending  TradeStatus = "pending"
	TradeComplete TradeStatus = "complete"
	TradeFailed   TradeStatus = "failed"
)

// MintStatus is the status of a mint job
type MintStatus string

const (
	MintPending    MintStatus = "pending"
	MintProcessing MintStatus = "processing"
	MintComplete   MintStatus = "complete"
	MintFailed     MintStatus = "failed"
)

// Deposit represents one fiat inflow awaiting conversion
type Deposit struct {
	Id               string          `json:"id" db:"id"`
	UserId           string          `json:"userId" db:"user_id"`
	Currency         FiatCurrency    `json:"currency" db:"currency"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Status           DepositStatus   `json:"status" db:"status"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod" db:"payment_method"`
	PaymentReference string          `json:"paymentReference,omitempty" db:"payment_reference"`
	LastError        string          `json:"lastError,omitempty" db:"last_error"`
	Attempts         int             `json:"attempts" db:"attempts"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time       `json:"updatedAt" db:"updated_at"`
}

// FxTrade records a completed currency conversion leg owned by a deposit
type FxTrade struct {
	Id             string          `json:"id" db:"id"`
	DepositId      string          `json:"depositId" db:"deposit_id"`
	FromCurrency   FiatCurrency    `json:"fromCurrency" db:"from_currency"`
	ToCurrency     FiatCurrency    `json:"toCurrency" db:"to_currency"`
	AmountIn       decimal.Decimal `json:"amountIn" db:"amount_in"`
	Rate           decimal.Decimal `json:"rate" db:"rate"`
	EffectiveRate  decimal.Decimal `json:"effectiveRate" db:"effective_rate"`
	SpreadBps      int             `json:"spreadBps" db:"spread_bps"`
	AmountReceived decimal.Decimal `json:"amountReceived" db:"amount_received"`
	PartnerRef     string          `json:"partnerRef" db:"partner_ref"`
	Simulated      bool            `json:"simulated" db:"simulated"`
	Status         TradeStatus     `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// MintJob records the latest stablecoin minting attempt for a deposit
type MintJob struct {
	Id             string          `json:"id" db:"id"`
	DepositId      string          `json:"depositId" db:"deposit_id"`
	Stablecoin     Stablecoin      `json:"stablecoin" db:"stablecoin"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Status         MintStatus      `json:"status" db:"status"`
	ProviderTxId   string          `json:"providerTxId,omitempty" db:"provider_tx_id"`
	IdempotencyKey string          `json:"idempotencyKey" db:"idempotency_key"`
	FailureReason  string          `json:"failureReason,omitempty" db:"failure_reason"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// DepositWebhookPayload is the inbound payment notification
type DepositWebhookPayload struct {
	Id               string          `json:"id,omitempty"`
	UserId           string          `json:"userId"`
	Currency         string          `json:"currency"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    string          `json:"paymentMethod"`
	PaymentReference string          `json:"paymentReference,omitempty"`
}
