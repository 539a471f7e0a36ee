package api

import (
	"context"
	"errors"
	"strings"
	"testing"

	"deposit-convert-go/internal/memory"
	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

func newTestService(t *testing.T) (*LedgerService, *memory.Ledger) {
	t.Helper()
	ledger := memory.NewLedger()
	return NewLedgerService(ledger, memory.NewDepositStore()), ledger
}

func fund(t *testing.T, ledger *memory.Ledger, userId string, token models.Stablecoin, amount string) {
	t.Helper()
	if _, err := ledger.Credit(context.Background(), userId, token, decimal.RequireFromString(amount), models.EntryMetadata{}); err != nil {
		t.Fatalf("Credit: %v", err)
	}
}

func TestTransferBetweenUsers(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := context.Background()
	fund(t, ledger, "alice", models.USDC, "100")

	result, err := svc.TransferBetweenUsers(ctx, "alice", "bob", models.USDC, decimal.RequireFromString("40.5"), "t1")
	if err != nil {
		t.Fatalf("TransferBetweenUsers: %v", err)
	}
	if !result.Success || !result.FromBalance.Equal(decimal.RequireFromString("59.5")) {
		t.Fatalf("unexpected result %+v", result)
	}

	bob, _ := svc.GetUserBalance(ctx, "bob")
	if !bob.USDC.Equal(decimal.RequireFromString("40.5")) {
		t.Errorf("bob USDC = %s", bob.USDC)
	}

	journal, _ := svc.GetUserJournal(ctx, "alice")
	last := journal[len(journal)-1]
	if last.Type != models.EntryDebit || last.Metadata.TransferType != models.TransferOutgoing || last.Metadata.CounterpartyId != "bob" {
		t.Errorf("unexpected debit entry %+v", last)
	}
	incoming, _ := svc.GetUserJournal(ctx, "bob")
	if len(incoming) != 1 || incoming[0].Metadata.TransferType != models.TransferIncoming || incoming[0].Metadata.CounterpartyId != "alice" {
		t.Errorf("unexpected credit entries %+v", incoming)
	}

	again, err := svc.TransferBetweenUsers(ctx, "alice", "bob", models.USDC, decimal.RequireFromString("40.5"), "t1")
	if err != nil {
		t.Fatalf("repeat transfer: %v", err)
	}
	if again.Success {
		t.Error("a reused reference must not move funds twice")
	}
}

func TestTransferBetweenUsers_InsufficientFunds(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := context.Background()
	fund(t, ledger, "alice", models.EURC, "10")

	result, err := svc.TransferBetweenUsers(ctx, "alice", "bob", models.EURC, decimal.NewFromInt(11), "")
	if err != nil {
		t.Fatalf("TransferBetweenUsers: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "insufficient EURC balance") {
		t.Fatalf("expected insufficient funds, got %+v", result)
	}

	alice, _ := svc.GetUserBalance(ctx, "alice")
	if !alice.EURC.Equal(decimal.NewFromInt(10)) {
		t.Errorf("failed transfer changed balance to %s", alice.EURC)
	}
	bob, _ := svc.GetUserBalance(ctx, "bob")
	if !bob.EURC.IsZero() {
		t.Errorf("bob received %s", bob.EURC)
	}
}

func TestTransferBetweenUsers_InvalidParameters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		from   string
		to     string
		token  models.Stablecoin
		amount string
	}{
		{"missing sender", "", "bob", models.USDC, "1"},
		{"self transfer", "alice", "alice", models.USDC, "1"},
		{"unknown token", "alice", "bob", "DAI", "1"},
		{"zero amount", "alice", "bob", models.USDC, "0"},
		{"too precise", "alice", "bob", models.USDC, "0.0000001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.TransferBetweenUsers(ctx, tt.from, tt.to, tt.token, decimal.RequireFromString(tt.amount), "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Success || result.Error == "" {
				t.Errorf("expected rejection, got %+v", result)
			}
		})
	}
}

type failingCreditLedger struct {
	*memory.Ledger
	failFor string
}

func (l failingCreditLedger) Credit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	if userId == l.failFor {
		return nil, errors.New("ledger unavailable")
	}
	return l.Ledger.Credit(ctx, userId, token, amount, meta)
}

func TestTransferBetweenUsers_CompensatesFailedCredit(t *testing.T) {
	inner := memory.NewLedger()
	fund(t, inner, "alice", models.USDC, "50")
	svc := NewLedgerService(failingCreditLedger{Ledger: inner, failFor: "bob"}, memory.NewDepositStore())
	ctx := context.Background()

	if _, err := svc.TransferBetweenUsers(ctx, "alice", "bob", models.USDC, decimal.NewFromInt(20), "t1"); err == nil {
		t.Fatal("expected the credit failure to propagate")
	}

	alice, _ := svc.GetUserBalance(ctx, "alice")
	if !alice.USDC.Equal(decimal.NewFromInt(50)) {
		t.Errorf("sender should be made whole, got %s", alice.USDC)
	}
	result, _ := svc.Reconcile(ctx, "alice")
	if !result.Consistent() || result.Entries != 3 {
		t.Errorf("unexpected reconciliation %+v", result)
	}
}

func TestGetTransactionHistory(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := context.Background()
	for _, amount := range []string{"1", "2", "3", "4", "5"} {
		fund(t, ledger, "alice", models.USDC, amount)
	}

	page, err := svc.GetTransactionHistory(ctx, "alice", 2, 0)
	if err != nil {
		t.Fatalf("GetTransactionHistory: %v", err)
	}
	if len(page) != 2 || !page[0].Amount.Equal(decimal.NewFromInt(5)) || !page[1].Amount.Equal(decimal.NewFromInt(4)) {
		t.Errorf("first page should be newest first: %+v", page)
	}

	page, _ = svc.GetTransactionHistory(ctx, "alice", 2, 4)
	if len(page) != 1 || !page[0].Amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("last page: %+v", page)
	}

	page, _ = svc.GetTransactionHistory(ctx, "alice", 2, 10)
	if len(page) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(page))
	}

	page, _ = svc.GetTransactionHistory(ctx, "alice", 0, 0)
	if len(page) != 5 {
		t.Errorf("default limit should return all 5, got %d", len(page))
	}

	if _, err := svc.GetTransactionHistory(ctx, "", 10, 0); err == nil {
		t.Error("expected error for missing user")
	}
}

func TestReconcileAndTotals(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := context.Background()
	fund(t, ledger, "alice", models.USDC, "10.25")
	fund(t, ledger, "bob", models.EURC, "3")
	if _, err := svc.TransferBetweenUsers(ctx, "alice", "bob", models.USDC, decimal.RequireFromString("0.25"), ""); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	drifted, err := svc.ReconcileAll(ctx, []string{"alice", "bob", "nobody"})
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if len(drifted) != 0 {
		t.Errorf("unexpected drift %+v", drifted)
	}

	totals, err := svc.GetSystemTotals(ctx)
	if err != nil {
		t.Fatalf("GetSystemTotals: %v", err)
	}
	if !totals[models.USDC].Equal(decimal.RequireFromString("10.25")) || !totals[models.EURC].Equal(decimal.NewFromInt(3)) {
		t.Errorf("totals = %v", totals)
	}

	if err := svc.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}
