package prime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"deposit-convert-go/internal/mint"
	"deposit-convert-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/balances"
	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const conversionLookback = 15 * time.Minute

type Portfolio struct {
	Id   string
	Name string
}

type Wallet struct {
	Id     string
	Name   string
	Symbol string
	Type   string
}

// accountDirectory lists the portfolios and trading wallets visible to the API key
type accountDirectory interface {
	ListPortfolios(ctx context.Context) ([]Portfolio, error)
	ListTradingWallets(ctx context.Context, portfolioId string, symbols []string) ([]Wallet, error)
}

// conversionApi is the subset of the Prime transactions API used for minting
type conversionApi interface {
	CreateConversion(ctx context.Context, request *transactions.CreateConversionRequest) (*transactions.CreateConversionResponse, error)
	ListWalletTransactions(ctx context.Context, request *transactions.ListWalletTransactionsRequest) (*transactions.ListWalletTransactionsResponse, error)
}

type conversion struct {
	idempotencyKey string
	createdAt      time.Time
}

// Service mints USDC by converting settled USD inside a Prime portfolio.
// It implements mint.Backend.
type Service struct {
	directory       accountDirectory
	balancesSvc     balances.BalancesService
	transactionsSvc conversionApi

	portfolioId  string
	usdWalletId  string
	usdcWalletId string

	// activity id -> conversion, and idempotency key -> result
	conversions sync.Map
	results     sync.Map
}

func NewService(creds *credentials.Credentials, cfg models.PrimeConfig, httpClient http.Client) *Service {
	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		directory: &sdkDirectory{
			portfoliosSvc: portfolios.NewPortfoliosService(restClient),
			walletsSvc:    wallets.NewWalletsService(restClient),
		},
		balancesSvc:     balances.NewBalancesService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
		portfolioId:     cfg.PortfolioId,
		usdWalletId:     cfg.UsdWalletId,
		usdcWalletId:    cfg.UsdcWalletId,
	}
}

func (s *Service) Name() string {
	return "prime"
}

// CreateTransfer converts USD to USDC. EURC is not available through Prime conversions.
func (s *Service) CreateTransfer(ctx context.Context, token models.Stablecoin, amount decimal.Decimal, idempotencyKey string) (*models.MintResult, error) {
	if token != models.USDC {
		return nil, fmt.Errorf("%w: %s cannot be minted through prime", mint.ErrUnsupportedToken, token)
	}
	if s.usdWalletId == "" || s.usdcWalletId == "" {
		return nil, errors.New("prime USD and USDC wallet ids must be configured")
	}

	if existing, ok := s.results.Load(idempotencyKey); ok {
		result := existing.(models.MintResult)
		return &result, nil
	}

	zap.L().Info("Creating conversion via Prime API",
		zap.String("portfolio_id", s.portfolioId),
		zap.String("source_wallet_id", s.usdWalletId),
		zap.String("destination_wallet_id", s.usdcWalletId),
		zap.String("amount", amount.String()),
		zap.String("idempotency_key", idempotencyKey))

	request := &transactions.CreateConversionRequest{
		PortfolioId:         s.portfolioId,
		SourceWalletId:      s.usdWalletId,
		SourceSymbol:        "USD",
		DestinationWalletId: s.usdcWalletId,
		DestinationSymbol:   string(models.USDC),
		IdempotencyKey:      idempotencyKey,
		Amount:              amount.String(),
	}

	response, err := s.transactionsSvc.CreateConversion(ctx, request)
	if err != nil {
		zap.L().Error("Failed to create conversion",
			zap.String("idempotency_key", idempotencyKey),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return nil, fmt.Errorf("unable to create conversion: %w", err)
	}

	result := models.MintResult{ProviderTxId: response.ActivityId, Status: models.MintPending}
	s.conversions.Store(response.ActivityId, conversion{idempotencyKey: idempotencyKey, createdAt: time.Now().UTC()})
	s.results.Store(idempotencyKey, result)

	zap.L().Info("Conversion created successfully",
		zap.String("activity_id", response.ActivityId),
		zap.String("idempotency_key", idempotencyKey))

	return &result, nil
}

// TransferStatus finds the conversion among the USDC wallet's recent transactions
func (s *Service) TransferStatus(ctx context.Context, providerTxId string) (*models.Settlement, error) {
	value, ok := s.conversions.Load(providerTxId)
	if !ok {
		return nil, fmt.Errorf("%w: %s", mint.ErrUnknownTransfer, providerTxId)
	}
	conv := value.(conversion)

	request := &transactions.ListWalletTransactionsRequest{
		PortfolioId: s.portfolioId,
		WalletId:    s.usdcWalletId,
		Start:       conv.createdAt.Add(-conversionLookback),
		Types:       []string{"CONVERSION"},
		Pagination: &model.PaginationParams{
			Limit: 500,
		},
	}

	response, err := s.transactionsSvc.ListWalletTransactions(ctx, request)
	if err != nil {
		zap.L().Error("Failed to list wallet transactions",
			zap.String("wallet_id", s.usdcWalletId),
			zap.Error(err))
		return nil, fmt.Errorf("unable to list wallet transactions: %w", err)
	}

	for _, tx := range response.Transactions {
		if tx.IdempotencyKey != conv.idempotencyKey && tx.Id != providerTxId {
			continue
		}
		zap.L().Debug("Conversion status",
			zap.String("activity_id", providerTxId),
			zap.String("transaction_id", tx.Id),
			zap.String("status", tx.Status))

		settlement := &models.Settlement{
			ProviderTxId: providerTxId,
			Status:       mint.ParseStatus(tx.Status),
		}
		if settlement.Status == models.MintFailed {
			settlement.FailureReason = tx.Status
		}
		return settlement, nil
	}

	return &models.Settlement{ProviderTxId: providerTxId, Status: models.MintPending}, nil
}

// Balances reports the USD and USDC wallet balances
func (s *Service) Balances(ctx context.Context) (models.TreasuryBalances, error) {
	result := make(models.TreasuryBalances)
	for symbol, walletId := range map[string]string{"USD": s.usdWalletId, "USDC": s.usdcWalletId} {
		if walletId == "" {
			continue
		}
		response, err := s.balancesSvc.GetWalletBalance(ctx, &balances.GetWalletBalanceRequest{
			PortfolioId: s.portfolioId,
			Id:          walletId,
		})
		if err != nil {
			return nil, fmt.Errorf("unable to get %s wallet balance: %w", symbol, err)
		}
		amount, err := decimal.NewFromString(response.Balance.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid %s balance %q: %w", symbol, response.Balance.Amount, err)
		}
		result[symbol] = amount
	}
	return result, nil
}

// Discover fills in the portfolio and wallet ids that are not configured: the
// "Default Portfolio" and its USD and USDC trading wallets
func (s *Service) Discover(ctx context.Context) error {
	if s.portfolioId == "" {
		portfolioList, err := s.directory.ListPortfolios(ctx)
		if err != nil {
			return err
		}
		portfolio, err := defaultPortfolio(portfolioList)
		if err != nil {
			return err
		}
		s.portfolioId = portfolio.Id
		zap.L().Info("Using default Prime portfolio",
			zap.String("portfolio_id", portfolio.Id),
			zap.String("name", portfolio.Name))
	}

	if s.usdWalletId != "" && s.usdcWalletId != "" {
		return nil
	}

	walletList, err := s.directory.ListTradingWallets(ctx, s.portfolioId, []string{"USD", string(models.USDC)})
	if err != nil {
		return err
	}
	if s.usdWalletId == "" {
		if s.usdWalletId, err = tradingWallet(walletList, "USD"); err != nil {
			return err
		}
	}
	if s.usdcWalletId == "" {
		if s.usdcWalletId, err = tradingWallet(walletList, string(models.USDC)); err != nil {
			return err
		}
	}

	zap.L().Info("Prime wallets resolved",
		zap.String("portfolio_id", s.portfolioId),
		zap.String("usd_wallet_id", s.usdWalletId),
		zap.String("usdc_wallet_id", s.usdcWalletId))
	return nil
}

func defaultPortfolio(portfolioList []Portfolio) (*Portfolio, error) {
	for _, portfolio := range portfolioList {
		if portfolio.Name == "Default Portfolio" {
			return &portfolio, nil
		}
	}
	return nil, errors.New("default portfolio not found")
}

func tradingWallet(walletList []Wallet, symbol string) (string, error) {
	for _, w := range walletList {
		if strings.EqualFold(w.Symbol, symbol) {
			return w.Id, nil
		}
	}
	return "", fmt.Errorf("no %s trading wallet found", symbol)
}

type sdkDirectory struct {
	portfoliosSvc portfolios.PortfoliosService
	walletsSvc    wallets.WalletsService
}

func (d *sdkDirectory) ListPortfolios(ctx context.Context) ([]Portfolio, error) {
	response, err := d.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return nil, fmt.Errorf("unable to list portfolios: %w", err)
	}

	portfolioList := make([]Portfolio, len(response.Portfolios))
	for i, p := range response.Portfolios {
		portfolioList[i] = Portfolio{
			Id:   p.Id,
			Name: p.Name,
		}
	}

	return portfolioList, nil
}

// ListTradingWallets returns the trading wallets holding the given symbols
func (d *sdkDirectory) ListTradingWallets(ctx context.Context, portfolioId string, symbols []string) ([]Wallet, error) {
	request := &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        "TRADING",
		Symbols:     symbols,
	}

	response, err := d.walletsSvc.ListWallets(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	walletList := make([]Wallet, len(response.Wallets))
	for i, w := range response.Wallets {
		walletList[i] = Wallet{
			Id:     w.Id,
			Name:   w.Name,
			Symbol: w.Symbol,
			Type:   w.Type,
		}
	}

	return walletList, nil
}
