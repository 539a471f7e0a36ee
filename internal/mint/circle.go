package mint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/transport"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type circleDestination struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

type circleMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type circleTransferRequest struct {
	IdempotencyKey string            `json:"idempotencyKey"`
	Destination    circleDestination `json:"destination"`
	Amount         circleMoney       `json:"amount"`
	Token          string            `json:"token"`
}

type circleTransfer struct {
	Id            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failureReason"`
}

type circleTransferResponse struct {
	Data circleTransfer `json:"data"`
}

type circleBalancesResponse struct {
	Data struct {
		Available []circleMoney `json:"available"`
	} `json:"data"`
}

// CircleClient mints USDC and EURC from settled fiat held in a Circle business account
type CircleClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	treasury   map[models.Stablecoin]string
}

func NewCircleClient(apiKey, baseURL string, treasury map[models.Stablecoin]string, httpClient *http.Client) *CircleClient {
	return &CircleClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		treasury:   treasury,
	}
}

func (c *CircleClient) Name() string {
	return "circle"
}

func (c *CircleClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *CircleClient) CreateTransfer(ctx context.Context, token models.Stablecoin, amount decimal.Decimal, idempotencyKey string) (*models.MintResult, error) {
	address := c.treasury[token]
	if address == "" {
		return nil, fmt.Errorf("no treasury address configured for %s", token)
	}

	req := circleTransferRequest{
		IdempotencyKey: idempotencyKey,
		Destination:    circleDestination{Type: "wallet", Address: address},
		Amount:         circleMoney{Amount: amount.String(), Currency: string(token.BackingCurrency())},
		Token:          string(token),
	}

	var resp circleTransferResponse
	if err := transport.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/transfers", c.headers(), req, &resp); err != nil {
		zap.L().Error("Circle transfer request failed",
			zap.String("token", string(token)),
			zap.String("idempotency_key", idempotencyKey),
			zap.Error(err))
		return nil, err
	}
	if resp.Data.Id == "" {
		return nil, errors.New("circle response missing transfer id")
	}

	return &models.MintResult{
		ProviderTxId: resp.Data.Id,
		Status:       ParseStatus(resp.Data.Status),
	}, nil
}

func (c *CircleClient) TransferStatus(ctx context.Context, providerTxId string) (*models.Settlement, error) {
	var resp circleTransferResponse
	err := transport.DoJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/transfers/"+url.PathEscape(providerTxId), c.headers(), nil, &resp)
	if err != nil {
		var statusErr *transport.StatusCodeError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, providerTxId)
		}
		return nil, err
	}

	return &models.Settlement{
		ProviderTxId:  providerTxId,
		Status:        ParseStatus(resp.Data.Status),
		FailureReason: resp.Data.FailureReason,
	}, nil
}

func (c *CircleClient) Balances(ctx context.Context) (models.TreasuryBalances, error) {
	var resp circleBalancesResponse
	if err := transport.DoJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/businessAccount/balances", c.headers(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get account balances: %w", err)
	}

	balances := make(models.TreasuryBalances, len(resp.Data.Available))
	for _, b := range resp.Data.Available {
		amount, err := decimal.NewFromString(b.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid %s balance %q: %w", b.Currency, b.Amount, err)
		}
		balances[b.Currency] = balances[b.Currency].Add(amount)
	}
	return balances, nil
}
