package fx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/transport"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const partnerName = "fx-partner"

// ProviderError wraps a failed call to the FX partner
type ProviderError struct {
	Partner    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s returned %d: %v", e.Partner, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Partner, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type convertRequest struct {
	From   models.FiatCurrency `json:"from"`
	To     models.FiatCurrency `json:"to"`
	Amount decimal.Decimal     `json:"amount"`
	ApiKey string              `json:"apiKey"`
}

// convertResponse accepts both the generic amountReceived and the legacy usdReceived field
type convertResponse struct {
	Rate           decimal.Decimal  `json:"rate"`
	SpreadBps      int              `json:"spreadBps"`
	AmountReceived *decimal.Decimal `json:"amountReceived"`
	UsdReceived    *decimal.Decimal `json:"usdReceived"`
	PartnerRef     string           `json:"partnerRef"`
}

// PartnerClient quotes direct legs against the FX partner's /convert endpoint
type PartnerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewPartnerClient(baseURL, apiKey string, httpClient *http.Client) *PartnerClient {
	return &PartnerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (c *PartnerClient) Name() string {
	return partnerName
}

func (c *PartnerClient) Leg(ctx context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (*Leg, error) {
	req := convertRequest{From: from, To: to, Amount: amount, ApiKey: c.apiKey}

	var resp convertResponse
	if err := transport.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/convert", nil, req, &resp); err != nil {
		perr := &ProviderError{Partner: partnerName, Err: err}
		var statusErr *transport.StatusCodeError
		if errors.As(err, &statusErr) {
			perr.StatusCode = statusErr.StatusCode
		}
		return nil, perr
	}

	if !resp.Rate.IsPositive() {
		return nil, &ProviderError{Partner: partnerName, Err: fmt.Errorf("invalid rate %s", resp.Rate.String())}
	}
	if resp.SpreadBps < 0 {
		return nil, &ProviderError{Partner: partnerName, Err: fmt.Errorf("invalid spread %d", resp.SpreadBps)}
	}
	if resp.PartnerRef == "" {
		return nil, &ProviderError{Partner: partnerName, Err: errors.New("missing partner reference")}
	}

	leg := &Leg{
		From:       from,
		To:         to,
		Mid:        resp.Rate,
		SpreadBps:  resp.SpreadBps,
		PartnerRef: resp.PartnerRef,
	}

	reported := resp.AmountReceived
	if reported == nil {
		reported = resp.UsdReceived
	}
	if reported != nil {
		local := AmountReceived(amount, EffectiveRate(leg.Mid, leg.SpreadBps))
		if !models.RoundFiat(*reported).Equal(local) {
			zap.L().Warn("FX partner reported amount differs from priced amount",
				zap.String("partner_ref", resp.PartnerRef),
				zap.String("reported", reported.String()),
				zap.String("priced", local.String()))
		}
	}

	return leg, nil
}
