// Package storetest holds behavioural tests shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/shopspring/decimal"
)

func newDeposit(id, userId string, currency models.FiatCurrency, amount string, createdAt time.Time) *models.Deposit {
	return &models.Deposit{
		Id:            id,
		UserId:        userId,
		Currency:      currency,
		Amount:        decimal.RequireFromString(amount),
		Status:        models.DepositPending,
		PaymentMethod: models.PaymentBank,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

// RunDepositStoreTests exercises a DepositStore implementation
func RunDepositStoreTests(t *testing.T, newStore func(t *testing.T) store.DepositStore) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

		d := newDeposit("dep_1", "user_1", models.GHS, "1500.00", base)
		d.PaymentReference = "momo-42"
		if err := s.CreateDeposit(ctx, d); err != nil {
			t.Fatalf("CreateDeposit: %v", err)
		}

		got, err := s.GetDeposit(ctx, "dep_1")
		if err != nil {
			t.Fatalf("GetDeposit: %v", err)
		}
		if got.UserId != "user_1" || got.Currency != models.GHS || got.Status != models.DepositPending {
			t.Errorf("unexpected deposit %+v", got)
		}
		if !got.Amount.Equal(decimal.NewFromInt(1500)) {
			t.Errorf("amount = %s, want 1500", got.Amount)
		}
		if got.PaymentReference != "momo-42" || got.PaymentMethod != models.PaymentBank {
			t.Errorf("payment details lost: %+v", got)
		}

		if err := s.CreateDeposit(ctx, newDeposit("dep_1", "user_2", models.USD, "1", base)); !errors.Is(err, store.ErrDuplicateDeposit) {
			t.Errorf("duplicate create: got %v", err)
		}
		if _, err := s.GetDeposit(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("missing deposit: got %v", err)
		}
	})

	t.Run("Transitions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.CreateDeposit(ctx, newDeposit("dep_1", "user_1", models.USD, "100", time.Now().UTC())); err != nil {
			t.Fatalf("CreateDeposit: %v", err)
		}

		d, err := s.TransitionDeposit(ctx, store.TransitionParams{
			DepositId: "dep_1", From: models.DepositPending, To: models.DepositProcessing, CountAttempt: true,
		})
		if err != nil {
			t.Fatalf("pending -> processing: %v", err)
		}
		if d.Status != models.DepositProcessing || d.Attempts != 1 {
			t.Errorf("unexpected deposit after claim %+v", d)
		}

		// Stale expectation
		_, err = s.TransitionDeposit(ctx, store.TransitionParams{DepositId: "dep_1", From: models.DepositPending, To: models.DepositProcessing})
		if !errors.Is(err, store.ErrConcurrentModification) {
			t.Errorf("stale transition: got %v", err)
		}

		d, err = s.TransitionDeposit(ctx, store.TransitionParams{
			DepositId: "dep_1", From: models.DepositProcessing, To: models.DepositFailed, LastError: "mint timeout",
		})
		if err != nil {
			t.Fatalf("processing -> failed: %v", err)
		}
		if d.LastError != "mint timeout" {
			t.Errorf("last error = %q", d.LastError)
		}

		// failed -> converted skips processing
		_, err = s.TransitionDeposit(ctx, store.TransitionParams{DepositId: "dep_1", From: models.DepositFailed, To: models.DepositConverted})
		if !errors.Is(err, store.ErrInvalidTransition) {
			t.Errorf("failed -> converted: got %v", err)
		}

		if _, err := s.TransitionDeposit(ctx, store.TransitionParams{
			DepositId: "dep_1", From: models.DepositFailed, To: models.DepositProcessing, CountAttempt: true,
		}); err != nil {
			t.Fatalf("failed -> processing: %v", err)
		}
		d, err = s.TransitionDeposit(ctx, store.TransitionParams{DepositId: "dep_1", From: models.DepositProcessing, To: models.DepositConverted})
		if err != nil {
			t.Fatalf("processing -> converted: %v", err)
		}
		if d.Status != models.DepositConverted || d.Attempts != 2 || d.LastError != "" {
			t.Errorf("unexpected converted deposit %+v", d)
		}

		stored, err := s.GetDeposit(ctx, "dep_1")
		if err != nil {
			t.Fatalf("GetDeposit: %v", err)
		}
		if stored.Status != models.DepositConverted || stored.Attempts != 2 {
			t.Errorf("transition not persisted: %+v", stored)
		}

		// converted is terminal
		_, err = s.TransitionDeposit(ctx, store.TransitionParams{DepositId: "dep_1", From: models.DepositConverted, To: models.DepositProcessing})
		if !errors.Is(err, store.ErrInvalidTransition) {
			t.Errorf("converted -> processing: got %v", err)
		}

		_, err = s.TransitionDeposit(ctx, store.TransitionParams{DepositId: "nope", From: models.DepositPending, To: models.DepositProcessing})
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("missing deposit: got %v", err)
		}
	})

	t.Run("ListDeposits", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

		for i, id := range []string{"dep_a", "dep_b", "dep_c"} {
			if err := s.CreateDeposit(ctx, newDeposit(id, "user_1", models.USD, "10", base.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatalf("CreateDeposit: %v", err)
			}
		}
		if err := s.CreateDeposit(ctx, newDeposit("dep_other", "user_2", models.EUR, "5", base)); err != nil {
			t.Fatalf("CreateDeposit: %v", err)
		}
		if _, err := s.TransitionDeposit(ctx, store.TransitionParams{
			DepositId: "dep_b", From: models.DepositPending, To: models.DepositProcessing, TransitionAt: base.Add(time.Hour),
		}); err != nil {
			t.Fatalf("TransitionDeposit: %v", err)
		}

		list, err := s.ListDeposits(ctx, store.DepositFilter{UserId: "user_1"})
		if err != nil {
			t.Fatalf("ListDeposits: %v", err)
		}
		if len(list) != 3 || list[0].Id != "dep_c" || list[2].Id != "dep_a" {
			t.Errorf("expected newest first for user_1, got %v", ids(list))
		}

		pending, err := s.ListDeposits(ctx, store.DepositFilter{Status: models.DepositPending})
		if err != nil {
			t.Fatalf("ListDeposits: %v", err)
		}
		if len(pending) != 3 {
			t.Errorf("pending = %v", ids(pending))
		}

		stale, err := s.ListDeposits(ctx, store.DepositFilter{Status: models.DepositPending, UpdatedBefore: base.Add(90 * time.Second)})
		if err != nil {
			t.Fatalf("ListDeposits: %v", err)
		}
		if len(stale) != 2 {
			t.Errorf("stale pending = %v, want dep_a and dep_other", ids(stale))
		}

		limited, err := s.ListDeposits(ctx, store.DepositFilter{Limit: 2})
		if err != nil {
			t.Fatalf("ListDeposits: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("limit ignored: %v", ids(limited))
		}
	})

	t.Run("FxTradeAndMintJob", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.CreateDeposit(ctx, newDeposit("dep_1", "user_1", models.GHS, "1500", time.Now().UTC())); err != nil {
			t.Fatalf("CreateDeposit: %v", err)
		}

		if _, err := s.GetFxTrade(ctx, "dep_1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("fx trade before save: got %v", err)
		}

		trade := &models.FxTrade{
			Id:             "fx_1",
			DepositId:      "dep_1",
			FromCurrency:   models.GHS,
			ToCurrency:     models.USD,
			AmountIn:       decimal.NewFromInt(1500),
			Rate:           decimal.NewFromInt(15),
			EffectiveRate:  decimal.RequireFromString("15.06"),
			SpreadBps:      40,
			AmountReceived: decimal.RequireFromString("99.60"),
			PartnerRef:     "SIM-FX-GHS-USD",
			Simulated:      true,
			Status:         models.TradeComplete,
		}
		if err := s.SaveFxTrade(ctx, trade); err != nil {
			t.Fatalf("SaveFxTrade: %v", err)
		}
		gotTrade, err := s.GetFxTrade(ctx, "dep_1")
		if err != nil {
			t.Fatalf("GetFxTrade: %v", err)
		}
		if gotTrade.Id != "fx_1" || !gotTrade.AmountReceived.Equal(decimal.RequireFromString("99.6")) || gotTrade.SpreadBps != 40 || !gotTrade.Simulated {
			t.Errorf("unexpected trade %+v", gotTrade)
		}
		if !gotTrade.EffectiveRate.Equal(decimal.RequireFromString("15.06")) {
			t.Errorf("effective rate = %s", gotTrade.EffectiveRate)
		}

		job := &models.MintJob{
			Id:             "mint_1",
			DepositId:      "dep_1",
			Stablecoin:     models.USDC,
			Amount:         decimal.RequireFromString("99.60"),
			Status:         models.MintProcessing,
			IdempotencyKey: "k1",
		}
		if err := s.SaveMintJob(ctx, job); err != nil {
			t.Fatalf("SaveMintJob: %v", err)
		}

		job.Status = models.MintComplete
		job.ProviderTxId = "sim_usdc_k1"
		if err := s.SaveMintJob(ctx, job); err != nil {
			t.Fatalf("SaveMintJob update: %v", err)
		}
		gotJob, err := s.GetMintJob(ctx, "dep_1")
		if err != nil {
			t.Fatalf("GetMintJob: %v", err)
		}
		if gotJob.Status != models.MintComplete || gotJob.ProviderTxId != "sim_usdc_k1" || !gotJob.Amount.Equal(gotTrade.AmountReceived) {
			t.Errorf("unexpected job %+v", gotJob)
		}

		if err := s.DeleteMintJob(ctx, "dep_1"); err != nil {
			t.Fatalf("DeleteMintJob: %v", err)
		}
		if _, err := s.GetMintJob(ctx, "dep_1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("mint job after delete: got %v", err)
		}

		orphan := &models.MintJob{Id: "mint_x", DepositId: "missing", Stablecoin: models.USDC, Amount: decimal.NewFromInt(1), Status: models.MintPending}
		if err := s.SaveMintJob(ctx, orphan); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("orphan mint job: got %v", err)
		}
	})
}

// RunLedgerTests exercises a Ledger implementation
func RunLedgerTests(t *testing.T, newLedger func(t *testing.T) store.Ledger) {
	t.Run("CreditDebit", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		entry, err := l.Credit(ctx, "user_1", models.USDC, decimal.RequireFromString("99.60"), models.EntryMetadata{
			Reference: "credit:dep_1", DepositId: "dep_1", ProviderTxId: "sim_usdc_k", FxTradeId: "fx_1",
		})
		if err != nil {
			t.Fatalf("Credit: %v", err)
		}
		if entry.Type != models.EntryCredit || !entry.BalanceAfter.Equal(decimal.RequireFromString("99.6")) || entry.Id == "" {
			t.Errorf("unexpected entry %+v", entry)
		}

		if _, err := l.Credit(ctx, "user_1", models.EURC, decimal.NewFromInt(50), models.EntryMetadata{}); err != nil {
			t.Fatalf("Credit EURC: %v", err)
		}
		if _, err := l.Debit(ctx, "user_1", models.USDC, decimal.RequireFromString("0.60"), models.EntryMetadata{}); err != nil {
			t.Fatalf("Debit: %v", err)
		}

		balance, err := l.GetBalance(ctx, "user_1")
		if err != nil {
			t.Fatalf("GetBalance: %v", err)
		}
		if !balance.USDC.Equal(decimal.NewFromInt(99)) || !balance.EURC.Equal(decimal.NewFromInt(50)) {
			t.Errorf("balance = %s USDC %s EURC", balance.USDC, balance.EURC)
		}

		journal, err := l.GetJournal(ctx, "user_1")
		if err != nil {
			t.Fatalf("GetJournal: %v", err)
		}
		if len(journal) != 3 {
			t.Fatalf("journal has %d entries, want 3", len(journal))
		}
		if journal[0].Metadata.DepositId != "dep_1" || journal[0].Metadata.FxTradeId != "fx_1" || journal[0].Metadata.ProviderTxId != "sim_usdc_k" {
			t.Errorf("metadata lost: %+v", journal[0].Metadata)
		}

		replayed := models.ReplayJournal("user_1", journal)
		if !replayed.USDC.Equal(balance.USDC) || !replayed.EURC.Equal(balance.EURC) {
			t.Errorf("replay %s/%s differs from balance %s/%s", replayed.USDC, replayed.EURC, balance.USDC, balance.EURC)
		}

		empty, err := l.GetBalance(ctx, "nobody")
		if err != nil {
			t.Fatalf("GetBalance: %v", err)
		}
		if !empty.USDC.IsZero() || !empty.EURC.IsZero() {
			t.Errorf("unknown user balance = %+v", empty)
		}
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		if _, err := l.Credit(ctx, "user_1", models.USDC, decimal.NewFromInt(10), models.EntryMetadata{}); err != nil {
			t.Fatalf("Credit: %v", err)
		}

		_, err := l.Debit(ctx, "user_1", models.USDC, decimal.NewFromInt(11), models.EntryMetadata{Reference: "debit:1"})
		var insufficient *store.InsufficientFundsError
		if !errors.As(err, &insufficient) {
			t.Fatalf("expected InsufficientFundsError, got %v", err)
		}
		if !errors.Is(err, store.ErrInsufficientFunds) {
			t.Error("error must match ErrInsufficientFunds")
		}
		if !insufficient.Available.Equal(decimal.NewFromInt(10)) || !insufficient.Requested.Equal(decimal.NewFromInt(11)) {
			t.Errorf("available %s requested %s", insufficient.Available, insufficient.Requested)
		}

		journal, _ := l.GetJournal(ctx, "user_1")
		if len(journal) != 1 {
			t.Errorf("failed debit appended an entry: %d entries", len(journal))
		}

		// The reference of a rejected debit stays usable
		if _, err := l.Debit(ctx, "user_1", models.USDC, decimal.NewFromInt(10), models.EntryMetadata{Reference: "debit:1"}); err != nil {
			t.Errorf("debit after rejection: %v", err)
		}
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		meta := models.EntryMetadata{Reference: "credit:dep_9", DepositId: "dep_9"}

		if _, err := l.Credit(ctx, "user_1", models.USDC, decimal.NewFromInt(100), meta); err != nil {
			t.Fatalf("Credit: %v", err)
		}
		if _, err := l.Credit(ctx, "user_1", models.USDC, decimal.NewFromInt(100), meta); !errors.Is(err, store.ErrDuplicateTransaction) {
			t.Errorf("duplicate reference: got %v", err)
		}

		balance, _ := l.GetBalance(ctx, "user_1")
		if !balance.USDC.Equal(decimal.NewFromInt(100)) {
			t.Errorf("balance = %s, want 100", balance.USDC)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		if _, err := l.Credit(ctx, "user_1", models.Stablecoin("DAI"), decimal.NewFromInt(1), models.EntryMetadata{}); !errors.Is(err, store.ErrUnsupportedCurrency) {
			t.Errorf("unsupported token: got %v", err)
		}
		if _, err := l.Credit(ctx, "user_1", models.USDC, decimal.NewFromInt(-1), models.EntryMetadata{}); err == nil {
			t.Error("expected error for negative amount")
		}
		if _, err := l.Credit(ctx, "", models.USDC, decimal.NewFromInt(1), models.EntryMetadata{}); err == nil {
			t.Error("expected error for empty user")
		}
	})

	t.Run("ConcurrentCredits", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.Credit(ctx, "user_1", models.USDC, decimal.RequireFromString("1.5"), models.EntryMetadata{}); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent credit: %v", err)
		}

		balance, _ := l.GetBalance(ctx, "user_1")
		if !balance.USDC.Equal(decimal.NewFromInt(30)) {
			t.Errorf("balance = %s, want 30", balance.USDC)
		}
		journal, _ := l.GetJournal(ctx, "user_1")
		if len(journal) != workers {
			t.Errorf("journal has %d entries, want %d", len(journal), workers)
		}
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		if _, err := l.Credit(ctx, "user_1", models.EURC, decimal.NewFromInt(5), models.EntryMetadata{}); err != nil {
			t.Fatalf("Credit: %v", err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Debit(ctx, "user_1", models.EURC, decimal.NewFromInt(1), models.EntryMetadata{})
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else if !errors.Is(err, store.ErrInsufficientFunds) {
					t.Errorf("unexpected debit error: %v", err)
				}
			}()
		}
		wg.Wait()

		if succeeded != 5 {
			t.Errorf("%d debits succeeded, want 5", succeeded)
		}
		balance, _ := l.GetBalance(ctx, "user_1")
		if !balance.EURC.IsZero() {
			t.Errorf("balance = %s, want 0", balance.EURC)
		}
	})

	t.Run("SystemTotals", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		_, _ = l.Credit(ctx, "user_1", models.USDC, decimal.NewFromInt(10), models.EntryMetadata{})
		_, _ = l.Credit(ctx, "user_2", models.USDC, decimal.RequireFromString("2.5"), models.EntryMetadata{})
		_, _ = l.Credit(ctx, "user_2", models.EURC, decimal.NewFromInt(7), models.EntryMetadata{})
		_, _ = l.Debit(ctx, "user_1", models.USDC, decimal.NewFromInt(1), models.EntryMetadata{})

		totals, err := l.GetSystemTotals(ctx)
		if err != nil {
			t.Fatalf("GetSystemTotals: %v", err)
		}
		if !totals[models.USDC].Equal(decimal.RequireFromString("11.5")) || !totals[models.EURC].Equal(decimal.NewFromInt(7)) {
			t.Errorf("totals = %v", totals)
		}
	})
}

func ids(list []models.Deposit) []string {
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.Id
	}
	return out
}
