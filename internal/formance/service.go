package formance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Ledger.
var _ store.Ledger = (*Service)(nil)

const (
	defaultLedgerName = "deposit-convert"

	// issuanceAccount funds every credit; its balance is minus the sum of all user balances.
	issuanceAccount = "treasury:issuance"
)

// assetPrecision maps stablecoin symbols to their decimal precision.
var assetPrecision = map[models.Stablecoin]int{
	models.USDC: 6,
	models.EURC: 6,
}

// Service implements store.Ledger backed by a Formance Stack ledger.
type Service struct {
	client *v3.Formance
	ledger string

	// serializes read-then-post per user so balance_after metadata stays exact
	userLocks sync.Map
}

// NewService connects to the stack and makes sure the configured ledger exists
func NewService(ctx context.Context, cfg models.FormanceConfig) (*Service, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	svc := &Service{
		client: v3.New(
			v3.WithServerURL(cfg.StackURL),
			v3.WithSecurity(shared.Security{
				ClientID:     v3.Pointer(cfg.ClientID),
				ClientSecret: v3.Pointer(cfg.ClientSecret),
			}),
		),
		ledger: cfg.LedgerName,
	}

	created, err := svc.ensureLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure ledger %s: %w", cfg.LedgerName, err)
	}

	zap.L().Info("Formance ledger ready",
		zap.String("ledger", cfg.LedgerName),
		zap.Bool("created", created))
	return svc, nil
}

func validateConfig(cfg *models.FormanceConfig) error {
	var missing []string
	if cfg.StackURL == "" {
		missing = append(missing, "FORMANCE_STACK_URL")
	}
	if cfg.ClientID == "" {
		missing = append(missing, "FORMANCE_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "FORMANCE_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("formance ledger backend requires %s", strings.Join(missing, ", "))
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = defaultLedgerName
	}
	return nil
}

// ensureLedger creates the ledger, tagged with the issuance account, unless it already exists
func (s *Service) ensureLedger(ctx context.Context) (bool, error) {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application":      defaultLedgerName,
				"issuance_account": issuanceAccount,
			},
		},
	})
	var apiErr *sdkerrors.V2ErrorResponse
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists:
		return false, nil
	}
	return false, err
}

func (s *Service) lockUser(userId string) func() {
	value, _ := s.userLocks.LoadOrStore(userId, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Close is a no-op for the Formance backend (HTTP client needs no teardown).
func (s *Service) Close() {}

// ---------- helpers ----------

func userAccount(userId string) string {
	return "users:" + userId
}

// formanceAsset returns the Formance UMN notation, e.g. "USDC/6".
func formanceAsset(token models.Stablecoin) string {
	return fmt.Sprintf("%s/%d", token, precisionFor(token))
}

func precisionFor(token models.Stablecoin) int {
	if p, ok := assetPrecision[token]; ok {
		return p
	}
	return 6
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

// isInsufficientFundError checks whether a Formance SDK error is INSUFFICIENT_FUND.
func isInsufficientFundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumInsufficientFund
}

// isNotFoundError checks whether a Formance SDK error is NOT_FOUND.
func isNotFoundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumNotFound
}
