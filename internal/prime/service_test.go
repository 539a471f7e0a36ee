package prime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"deposit-convert-go/internal/mint"
	"deposit-convert-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/shopspring/decimal"
)

type stubConversions struct {
	created []*transactions.CreateConversionRequest
	listErr error
}

func (s *stubConversions) CreateConversion(_ context.Context, request *transactions.CreateConversionRequest) (*transactions.CreateConversionResponse, error) {
	s.created = append(s.created, request)
	return &transactions.CreateConversionResponse{ActivityId: "act_1"}, nil
}

func (s *stubConversions) ListWalletTransactions(context.Context, *transactions.ListWalletTransactionsRequest) (*transactions.ListWalletTransactionsResponse, error) {
	return nil, s.listErr
}

func newTestService(api conversionApi) *Service {
	return &Service{
		transactionsSvc: api,
		portfolioId:     "pf_1",
		usdWalletId:     "w_usd",
		usdcWalletId:    "w_usdc",
	}
}

func TestCreateTransfer(t *testing.T) {
	api := &stubConversions{}
	svc := newTestService(api)
	ctx := context.Background()

	result, err := svc.CreateTransfer(ctx, models.USDC, decimal.RequireFromString("99.60"), "convert:dep_1:USDC")
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if result.ProviderTxId != "act_1" || result.Status != models.MintPending {
		t.Errorf("unexpected result %+v", result)
	}

	req := api.created[0]
	if req.SourceWalletId != "w_usd" || req.DestinationWalletId != "w_usdc" || req.Amount != "99.6" {
		t.Errorf("unexpected request %+v", req)
	}
	if req.SourceSymbol != "USD" || req.DestinationSymbol != "USDC" || req.IdempotencyKey != "convert:dep_1:USDC" {
		t.Errorf("unexpected request %+v", req)
	}

	again, err := svc.CreateTransfer(ctx, models.USDC, decimal.RequireFromString("99.60"), "convert:dep_1:USDC")
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if again.ProviderTxId != "act_1" || len(api.created) != 1 {
		t.Errorf("repeat call created %d conversions", len(api.created))
	}
}

func TestCreateTransfer_Rejections(t *testing.T) {
	svc := newTestService(&stubConversions{})
	if _, err := svc.CreateTransfer(context.Background(), models.EURC, decimal.NewFromInt(1), "k"); !errors.Is(err, mint.ErrUnsupportedToken) {
		t.Errorf("expected ErrUnsupportedToken, got %v", err)
	}

	svc.usdcWalletId = ""
	if _, err := svc.CreateTransfer(context.Background(), models.USDC, decimal.NewFromInt(1), "k"); err == nil {
		t.Error("expected error without wallet ids")
	}
}

func TestTransferStatus(t *testing.T) {
	api := &stubConversions{listErr: errors.New("rate limited")}
	svc := newTestService(api)
	ctx := context.Background()

	if _, err := svc.TransferStatus(ctx, "act_unknown"); !errors.Is(err, mint.ErrUnknownTransfer) {
		t.Errorf("expected ErrUnknownTransfer, got %v", err)
	}

	if _, err := svc.CreateTransfer(ctx, models.USDC, decimal.NewFromInt(5), "k"); err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if _, err := svc.TransferStatus(ctx, "act_1"); err == nil || errors.Is(err, mint.ErrUnknownTransfer) {
		t.Errorf("expected list error, got %v", err)
	}
}

type stubDirectory struct {
	portfolios    []Portfolio
	wallets       []Wallet
	walletQueries []string
}

func (d *stubDirectory) ListPortfolios(context.Context) ([]Portfolio, error) {
	return d.portfolios, nil
}

func (d *stubDirectory) ListTradingWallets(_ context.Context, portfolioId string, _ []string) ([]Wallet, error) {
	d.walletQueries = append(d.walletQueries, portfolioId)
	return d.wallets, nil
}

func TestDiscover(t *testing.T) {
	dir := &stubDirectory{
		portfolios: []Portfolio{{Id: "p1", Name: "Trading"}, {Id: "p2", Name: "Default Portfolio"}},
		wallets: []Wallet{
			{Id: "w_usdc", Symbol: "USDC", Type: "TRADING"},
			{Id: "w_usd", Symbol: "usd", Type: "TRADING"},
		},
	}
	svc := &Service{directory: dir}

	if err := svc.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if svc.portfolioId != "p2" || svc.usdWalletId != "w_usd" || svc.usdcWalletId != "w_usdc" {
		t.Errorf("resolved %s/%s/%s", svc.portfolioId, svc.usdWalletId, svc.usdcWalletId)
	}
	if len(dir.walletQueries) != 1 || dir.walletQueries[0] != "p2" {
		t.Errorf("wallets listed for %v", dir.walletQueries)
	}
}

func TestDiscover_KeepsConfiguredIds(t *testing.T) {
	dir := &stubDirectory{wallets: []Wallet{{Id: "w_found", Symbol: "USDC"}}}
	svc := &Service{directory: dir, portfolioId: "pf_1", usdWalletId: "w_usd"}

	if err := svc.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if svc.portfolioId != "pf_1" || svc.usdWalletId != "w_usd" || svc.usdcWalletId != "w_found" {
		t.Errorf("resolved %s/%s/%s", svc.portfolioId, svc.usdWalletId, svc.usdcWalletId)
	}

	configured := &Service{directory: &stubDirectory{}, portfolioId: "pf_1", usdWalletId: "a", usdcWalletId: "b"}
	if err := configured.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
}

func TestDiscover_Missing(t *testing.T) {
	svc := &Service{directory: &stubDirectory{portfolios: []Portfolio{{Id: "p1", Name: "Trading"}}}}
	if err := svc.Discover(context.Background()); err == nil {
		t.Error("expected error when no default portfolio exists")
	}

	svc = &Service{directory: &stubDirectory{wallets: []Wallet{{Id: "w_usd", Symbol: "USD"}}}, portfolioId: "pf_1"}
	if err := svc.Discover(context.Background()); err == nil || !strings.Contains(err.Error(), "USDC") {
		t.Errorf("expected missing USDC wallet error, got %v", err)
	}
}
