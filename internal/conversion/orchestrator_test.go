package conversion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"deposit-convert-go/internal/events"
	"deposit-convert-go/internal/fx"
	"deposit-convert-go/internal/idempotency"
	"deposit-convert-go/internal/memory"
	"deposit-convert-go/internal/mint"
	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/shopspring/decimal"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ConversionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.ConversionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// stubBackend is a live mint backend whose transfers settle with a fixed status
type stubBackend struct {
	status models.MintStatus
	reason string
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) CreateTransfer(_ context.Context, _ models.Stablecoin, _ decimal.Decimal, key string) (*models.MintResult, error) {
	return &models.MintResult{ProviderTxId: "tx_" + key, Status: models.MintPending}, nil
}

func (b *stubBackend) TransferStatus(_ context.Context, id string) (*models.Settlement, error) {
	return &models.Settlement{ProviderTxId: id, Status: b.status, FailureReason: b.reason}, nil
}

func (b *stubBackend) Balances(context.Context) (models.TreasuryBalances, error) {
	return models.TreasuryBalances{}, nil
}

type fixture struct {
	orch      *Orchestrator
	deposits  *memory.DepositStore
	ledger    *memory.Ledger
	simulator *mint.Simulator
	minter    *mint.Service
	guard     *idempotency.Guard
	publisher *recordingPublisher
}

type fixtureOptions struct {
	backend  mint.Backend
	delay    time.Duration
	quotes   fx.Provider
	ledger   store.Ledger
	attempts int
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	f := &fixture{
		deposits:  memory.NewDepositStore(),
		ledger:    memory.NewLedger(),
		simulator: mint.NewSimulator(opts.delay),
		guard:     idempotency.NewGuard(0, 100),
		publisher: &recordingPublisher{},
	}
	if opts.attempts == 0 {
		opts.attempts = 3
	}
	f.minter = mint.NewService(opts.backend, f.simulator, mint.Options{
		Simulate:     opts.backend == nil,
		PollAttempts: opts.attempts,
		PollInterval: time.Millisecond,
	})
	if opts.quotes == nil {
		opts.quotes = fx.NewQuoteService(nil, nil, 0)
	}
	var ledger store.Ledger = f.ledger
	if opts.ledger != nil {
		ledger = opts.ledger
	}
	f.orch = NewOrchestrator(f.deposits, ledger, opts.quotes, f.minter, f.guard, f.publisher)
	return f
}

func (f *fixture) waitForStatus(t *testing.T, id string, status models.DepositStatus) *models.Deposit {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		d, err := f.deposits.GetDeposit(context.Background(), id)
		if err == nil && d.Status == status {
			return d
		}
		if time.Now().After(deadline) {
			t.Fatalf("deposit %s never reached %s", id, status)
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fixture) addDeposit(t *testing.T, id string, currency models.FiatCurrency, amount string) {
	t.Helper()
	err := f.deposits.CreateDeposit(context.Background(), &models.Deposit{
		Id:            id,
		UserId:        "user_1",
		Currency:      currency,
		Amount:        decimal.RequireFromString(amount),
		PaymentMethod: models.PaymentBank,
	})
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
}

func TestConvertDeposit_DirectUSD(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addDeposit(t, "dep_usd", models.USD, "100.00")
	ctx := context.Background()

	result, err := f.orch.ConvertDeposit(ctx, "dep_usd")
	if err != nil {
		t.Fatalf("ConvertDeposit: %v", err)
	}
	if !result.Success || result.Deposit.Status != models.DepositConverted {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.FxTrade != nil {
		t.Errorf("direct path must not record an fx trade, got %+v", result.FxTrade)
	}
	if result.Mint == nil || result.Mint.Stablecoin != models.USDC || !result.Mint.Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected mint %+v", result.Mint)
	}
	if result.Mint.Status != models.MintComplete || !mint.IsSimulatedId(result.Mint.ProviderTxId) {
		t.Errorf("mint not settled: %+v", result.Mint)
	}

	balance, _ := f.ledger.GetBalance(ctx, "user_1")
	if !balance.USDC.Equal(decimal.NewFromInt(100)) || !balance.EURC.IsZero() {
		t.Errorf("balance = %s USDC / %s EURC", balance.USDC, balance.EURC)
	}

	journal, _ := f.ledger.GetJournal(ctx, "user_1")
	if len(journal) != 1 {
		t.Fatalf("expected one journal entry, got %d", len(journal))
	}
	meta := journal[0].Metadata
	if meta.Reference != CreditReference("dep_usd") || meta.DepositId != "dep_usd" || meta.ProviderTxId != result.Mint.ProviderTxId {
		t.Errorf("unexpected credit metadata %+v", meta)
	}
	if meta.FxTradeId != "" || meta.Extra["path"] != pathDirect {
		t.Errorf("unexpected path metadata %+v", meta)
	}

	if types := f.publisher.types(); len(types) != 1 || types[0] != events.TypeConversionCompleted {
		t.Errorf("events = %v", types)
	}
}

func TestConvertDeposit_DirectEUR(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addDeposit(t, "dep_eur", models.EUR, "42.50")

	result, err := f.orch.ConvertDeposit(context.Background(), "dep_eur")
	if err != nil {
		t.Fatalf("ConvertDeposit: %v", err)
	}
	if !result.Success || result.Mint.Stablecoin != models.EURC {
		t.Fatalf("unexpected result %+v", result)
	}
	balance, _ := f.ledger.GetBalance(context.Background(), "user_1")
	if !balance.EURC.Equal(decimal.RequireFromString("42.5")) {
		t.Errorf("EURC = %s", balance.EURC)
	}
}

func TestConvertDeposit_LocalCurrencyThroughFx(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addDeposit(t, "dep_ghs", models.GHS, "1500")
	ctx := context.Background()

	result, err := f.orch.ConvertDeposit(ctx, "dep_ghs")
	if err != nil {
		t.Fatalf("ConvertDeposit: %v", err)
	}
	if !result.Success {
		t.Fatalf("conversion failed: %s", result.Error)
	}

	trade := result.FxTrade
	if trade == nil {
		t.Fatal("expected an fx trade")
	}
	if trade.Status != models.TradeComplete || trade.ToCurrency != models.USD || trade.SpreadBps != 40 {
		t.Errorf("unexpected trade %+v", trade)
	}
	if !trade.EffectiveRate.Equal(decimal.RequireFromString("15.06")) {
		t.Errorf("effective rate = %s, want 15.06", trade.EffectiveRate)
	}
	if !trade.AmountReceived.Equal(decimal.RequireFromString("99.60")) {
		t.Errorf("amount received = %s, want 99.60", trade.AmountReceived)
	}
	if !trade.Simulated || !strings.HasPrefix(trade.PartnerRef, fx.SimulatedPrefix) {
		t.Errorf("expected simulated fill, got %q", trade.PartnerRef)
	}

	if result.Mint.Stablecoin != models.USDC || !result.Mint.Amount.Equal(trade.AmountReceived) {
		t.Errorf("mint %s %s does not match fx trade %s", result.Mint.Amount, result.Mint.Stablecoin, trade.AmountReceived)
	}

	journal, _ := f.ledger.GetJournal(ctx, "user_1")
	if len(journal) != 1 || journal[0].Metadata.FxTradeId != trade.Id {
		t.Errorf("credit must reference the fx trade: %+v", journal)
	}
	if !journal[0].Amount.Equal(decimal.RequireFromString("99.6")) {
		t.Errorf("credited %s, want 99.6", journal[0].Amount)
	}

	stored, err := f.deposits.GetFxTrade(ctx, "dep_ghs")
	if err != nil || stored.Id != trade.Id {
		t.Errorf("fx trade not persisted: %v", err)
	}
}

func TestConvertDeposit_UnsupportedCurrency(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addDeposit(t, "dep_xyz", "XYZ", "10")

	result, err := f.orch.ConvertDeposit(context.Background(), "dep_xyz")
	if err != nil {
		t.Fatalf("ConvertDeposit: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, store.ErrUnsupportedCurrency.Error()) {
		t.Fatalf("expected unsupported currency failure, got %+v", result)
	}
	if result.Deposit.Status != models.DepositFailed || result.Mint != nil {
		t.Errorf("unexpected records %+v", result)
	}
	if f.simulator.Transfers() != 0 {
		t.Error("nothing should be minted")
	}
	if types := f.publisher.types(); len(types) != 1 || types[0] != events.TypeConversionFailed {
		t.Errorf("events = %v", types)
	}
}

func TestConvertDeposit_NotFound(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	if _, err := f.orch.ConvertDeposit(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConvertDeposit_ConcurrentCallsConvertOnce(t *testing.T) {
	f := newFixture(t, fixtureOptions{delay: 20 * time.Millisecond})
	f.addDeposit(t, "dep_1", models.GHS, "1500")
	ctx := context.Background()

	const callers = 10
	results := make([]*models.ConversionResponse, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.orch.ConvertDeposit(ctx, "dep_1")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !results[i].Success || results[i].Deposit.Status != models.DepositConverted {
			t.Errorf("caller %d got %+v", i, results[i])
		}
		if results[i].Mint.ProviderTxId != results[0].Mint.ProviderTxId {
			t.Errorf("caller %d saw a different mint", i)
		}
	}

	if f.simulator.Transfers() != 1 {
		t.Errorf("expected one mint transfer, got %d", f.simulator.Transfers())
	}
	journal, _ := f.ledger.GetJournal(ctx, "user_1")
	if len(journal) != 1 {
		t.Errorf("expected one credit, got %d", len(journal))
	}
}

func TestConvertDeposit_SequentialCallsReturnRecordedOutcome(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addDeposit(t, "dep_1", models.USD, "100.00")
	ctx := context.Background()

	first, err := f.orch.ConvertDeposit(ctx, "dep_1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.orch.ConvertDeposit(ctx, "dep_1")
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if !second.Success || second.Mint.Id != first.Mint.Id || second.Deposit.Status != models.DepositConverted {
		t.Errorf("second call should repeat the first outcome: %+v", second)
	}
	balance, _ := f.ledger.GetBalance(ctx, "user_1")
	if !balance.USDC.Equal(decimal.NewFromInt(100)) {
		t.Errorf("double credit: %s", balance.USDC)
	}
}

func TestConvertDeposit_MintTimeout(t *testing.T) {
	f := newFixture(t, fixtureOptions{backend: &stubBackend{status: models.MintProcessing}, attempts: 5})
	f.addDeposit(t, "dep_1", models.GHS, "1500")
	ctx := context.Background()

	started := time.Now()
	result, err := f.orch.ConvertDeposit(ctx, "dep_1")
	if err != nil {
		t.Fatalf("ConvertDeposit: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}

	if result.Success || !strings.Contains(result.Error, mint.ErrMintTimeout.Error()) {
		t.Fatalf("expected mint timeout, got %+v", result)
	}
	if result.Deposit.Status != models.DepositFailed || result.Deposit.LastError == "" {
		t.Errorf("deposit not failed: %+v", result.Deposit)
	}
	if result.Mint.Status != models.MintFailed {
		t.Errorf("mint job not failed: %+v", result.Mint)
	}
	if result.FxTrade == nil || result.FxTrade.Status != models.TradeComplete {
		t.Errorf("fx leg must stand after mint failure: %+v", result.FxTrade)
	}

	balance, _ := f.ledger.GetBalance(ctx, "user_1")
	if !balance.USDC.IsZero() {
		t.Errorf("nothing should be credited, got %s", balance.USDC)
	}
}

func TestConvertDeposit_MintFailed(t *testing.T) {
	f := newFixture(t, fixtureOptions{backend: &stubBackend{status: models.MintFailed, reason: "insufficient treasury funds"}})
	f.addDeposit(t, "dep_1", models.USD, "100")

	result, err := f.orch.ConvertDeposit(context.Background(), "dep_1")
	if err != nil {
		t.Fatalf("ConvertDeposit: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "insufficient treasury funds") {
		t.Fatalf("expected mint failure, got %+v", result)
	}
	if result.Mint.FailureReason == "" || result.Mint.ProviderTxId == "" {
		t.Errorf("mint job missing failure details: %+v", result.Mint)
	}
}

func TestRetryConversion(t *testing.T) {
	f := newFixture(t, fixtureOptions{backend: &stubBackend{status: models.MintFailed, reason: "declined"}})
	f.addDeposit(t, "dep_1", models.GHS, "1500")
	ctx := context.Background()

	failed, err := f.orch.ConvertDeposit(ctx, "dep_1")
	if err != nil || failed.Success {
		t.Fatalf("expected first attempt to fail: %+v, %v", failed, err)
	}

	// Still claimed: converting again reports the failure without minting
	again, err := f.orch.ConvertDeposit(ctx, "dep_1")
	if err != nil || again.Success || again.Deposit.Status != models.DepositFailed {
		t.Fatalf("expected recorded failure, got %+v, %v", again, err)
	}

	if err := f.minter.SetSimulateMode(true); err != nil {
		t.Fatalf("SetSimulateMode: %v", err)
	}
	retried, err := f.orch.RetryConversion(ctx, "dep_1")
	if err != nil {
		t.Fatalf("RetryConversion: %v", err)
	}
	if !retried.Success || retried.Deposit.Status != models.DepositConverted || retried.Deposit.Attempts != 2 {
		t.Fatalf("unexpected retry result %+v", retried)
	}
	if retried.Mint.Id == failed.Mint.Id || retried.Mint.IdempotencyKey == failed.Mint.IdempotencyKey {
		t.Error("retry must discard the previous mint job")
	}
	if retried.FxTrade.Id == failed.FxTrade.Id {
		t.Error("retry must re-quote")
	}

	journal, _ := f.ledger.GetJournal(ctx, "user_1")
	if len(journal) != 1 {
		t.Errorf("expected exactly one credit, got %d", len(journal))
	}

	if _, err := f.orch.RetryConversion(ctx, "dep_1"); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("retry of converted deposit: got %v", err)
	}
	if _, err := f.orch.RetryConversion(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("retry of missing deposit: got %v", err)
	}
}

func TestRetryConversion_ResumesSettledMint(t *testing.T) {
	ledger := &flakyLedger{Ledger: memory.NewLedger(), failures: 1}
	f := newFixture(t, fixtureOptions{ledger: ledger})
	f.addDeposit(t, "dep_1", models.GHS, "1500")
	ctx := context.Background()

	if _, err := f.orch.ConvertDeposit(ctx, "dep_1"); err == nil {
		t.Fatal("expected the ledger failure to propagate")
	}
	job, err := f.deposits.GetMintJob(ctx, "dep_1")
	if err != nil || job.Status != models.MintComplete {
		t.Fatalf("expected a settled mint job, got %+v, %v", job, err)
	}
	trade, err := f.deposits.GetFxTrade(ctx, "dep_1")
	if err != nil {
		t.Fatalf("GetFxTrade: %v", err)
	}

	retried, err := f.orch.RetryConversion(ctx, "dep_1")
	if err != nil {
		t.Fatalf("RetryConversion: %v", err)
	}
	if !retried.Success || retried.Deposit.Status != models.DepositConverted || retried.Deposit.Attempts != 2 {
		t.Fatalf("unexpected retry result %+v", retried)
	}
	if retried.Mint.Id != job.Id || retried.Mint.ProviderTxId != job.ProviderTxId {
		t.Errorf("retry must reuse the settled mint: %+v", retried.Mint)
	}
	if retried.FxTrade == nil || retried.FxTrade.Id != trade.Id {
		t.Errorf("retry must keep the fx trade that priced the mint: %+v", retried.FxTrade)
	}
	if f.simulator.Transfers() != 1 {
		t.Errorf("expected one mint transfer, got %d", f.simulator.Transfers())
	}

	journal, _ := ledger.GetJournal(ctx, "user_1")
	if len(journal) != 1 {
		t.Fatalf("expected one credit, got %d", len(journal))
	}
	if !journal[0].Amount.Equal(job.Amount) || journal[0].Metadata.ProviderTxId != job.ProviderTxId {
		t.Errorf("credit %s (%s) does not match mint %s (%s)",
			journal[0].Amount, journal[0].Metadata.ProviderTxId, job.Amount, job.ProviderTxId)
	}
}

func TestRetryConversion_ResumesTimedOutMint(t *testing.T) {
	backend := &stubBackend{status: models.MintProcessing}
	f := newFixture(t, fixtureOptions{backend: backend})
	f.addDeposit(t, "dep_1", models.USD, "100")
	ctx := context.Background()

	failed, err := f.orch.ConvertDeposit(ctx, "dep_1")
	if err != nil || failed.Success {
		t.Fatalf("expected a mint timeout, got %+v, %v", failed, err)
	}

	backend.status = models.MintComplete
	retried, err := f.orch.RetryConversion(ctx, "dep_1")
	if err != nil {
		t.Fatalf("RetryConversion: %v", err)
	}
	if !retried.Success || retried.Mint.Status != models.MintComplete {
		t.Fatalf("unexpected retry result %+v", retried)
	}
	if retried.Mint.ProviderTxId != failed.Mint.ProviderTxId || retried.Mint.IdempotencyKey != failed.Mint.IdempotencyKey {
		t.Errorf("retry must wait on the existing transfer %s, got %+v", failed.Mint.ProviderTxId, retried.Mint)
	}
	if retried.Mint.FailureReason != "" {
		t.Errorf("failure reason not cleared: %q", retried.Mint.FailureReason)
	}
}

func TestRetryConversion_OverlappingRetriesConvertOnce(t *testing.T) {
	backend := &stubBackend{status: models.MintFailed, reason: "declined"}
	f := newFixture(t, fixtureOptions{backend: backend, delay: 20 * time.Millisecond})
	f.addDeposit(t, "dep_1", models.USD, "100")
	ctx := context.Background()

	if failed, err := f.orch.ConvertDeposit(ctx, "dep_1"); err != nil || failed.Success {
		t.Fatalf("expected first attempt to fail: %+v, %v", failed, err)
	}
	if err := f.minter.SetSimulateMode(true); err != nil {
		t.Fatalf("SetSimulateMode: %v", err)
	}

	const callers = 5
	results := make([]*models.ConversionResponse, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.orch.RetryConversion(ctx, "dep_1")
		}(i)
	}
	close(start)
	wg.Wait()

	converted := 0
	for i := 0; i < callers; i++ {
		switch {
		case errs[i] == nil && results[i].Success:
			converted++
		case errors.Is(errs[i], ErrNotRetryable):
		default:
			t.Errorf("caller %d: %+v, %v", i, results[i], errs[i])
		}
	}
	if converted == 0 {
		t.Error("no retry converted the deposit")
	}
	if f.simulator.Transfers() != 1 {
		t.Errorf("expected one mint transfer, got %d", f.simulator.Transfers())
	}
	journal, _ := f.ledger.GetJournal(ctx, "user_1")
	if len(journal) != 1 {
		t.Errorf("expected one credit, got %d", len(journal))
	}
	deposit, _ := f.deposits.GetDeposit(ctx, "dep_1")
	if deposit.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", deposit.Attempts)
	}
}

type sequenceQuotes struct {
	mu      sync.Mutex
	expires []time.Time
	calls   int
}

func (q *sequenceQuotes) Quote(_ context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (*models.FxQuote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	expires := q.expires[len(q.expires)-1]
	if q.calls < len(q.expires) {
		expires = q.expires[q.calls]
	}
	q.calls++
	return &models.FxQuote{
		From:           from,
		To:             to,
		AmountIn:       amount,
		Rate:           decimal.NewFromInt(15),
		EffectiveRate:  decimal.RequireFromString("15.06"),
		SpreadBps:      40,
		AmountReceived: decimal.RequireFromString("99.60"),
		PartnerRef:     "PARTNER-1",
		ExpiresAt:      expires,
	}, nil
}

func TestConvertDeposit_ReQuotesExpiredQuote(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	quotes := &sequenceQuotes{expires: []time.Time{past, future}}
	f := newFixture(t, fixtureOptions{quotes: quotes})
	f.addDeposit(t, "dep_1", models.GHS, "1500")

	result, err := f.orch.ConvertDeposit(context.Background(), "dep_1")
	if err != nil {
		t.Fatalf("ConvertDeposit: %v", err)
	}
	if !result.Success || quotes.calls != 2 {
		t.Errorf("expected success after one re-quote, got %+v after %d quotes", result, quotes.calls)
	}
}

func TestConvertDeposit_QuotesKeepExpiring(t *testing.T) {
	quotes := &sequenceQuotes{expires: []time.Time{time.Now().Add(-time.Minute)}}
	f := newFixture(t, fixtureOptions{quotes: quotes})
	f.addDeposit(t, "dep_1", models.GHS, "1500")

	result, err := f.orch.ConvertDeposit(context.Background(), "dep_1")
	if err != nil {
		t.Fatalf("ConvertDeposit: %v", err)
	}
	if result.Success || quotes.calls != maxQuoteAttempts || result.FxTrade != nil {
		t.Errorf("expected failure without fx trade after %d quotes, got %+v after %d", maxQuoteAttempts, result, quotes.calls)
	}
}

func TestConvertDeposit_AlreadyCreditedReference(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addDeposit(t, "dep_1", models.USD, "100")
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, "user_1", models.USDC, decimal.NewFromInt(100), models.EntryMetadata{Reference: CreditReference("dep_1")}); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	result, err := f.orch.ConvertDeposit(ctx, "dep_1")
	if err != nil {
		t.Fatalf("ConvertDeposit: %v", err)
	}
	if !result.Success {
		t.Fatalf("duplicate credit must count as credited: %+v", result)
	}
	balance, _ := f.ledger.GetBalance(ctx, "user_1")
	if !balance.USDC.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance = %s, want 100", balance.USDC)
	}
}

// flakyLedger fails the first credits it receives, then recovers
type flakyLedger struct {
	*memory.Ledger
	mu       sync.Mutex
	failures int
}

func (l *flakyLedger) Credit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	l.mu.Lock()
	fail := l.failures > 0
	if fail {
		l.failures--
	}
	l.mu.Unlock()
	if fail {
		return nil, errors.New("disk full")
	}
	return l.Ledger.Credit(ctx, userId, token, amount, meta)
}

type brokenLedger struct {
	*memory.Ledger
}

func (brokenLedger) Credit(context.Context, string, models.Stablecoin, decimal.Decimal, models.EntryMetadata) (*models.JournalEntry, error) {
	return nil, errors.New("disk full")
}

func TestConvertDeposit_LedgerErrorPropagates(t *testing.T) {
	f := newFixture(t, fixtureOptions{ledger: brokenLedger{memory.NewLedger()}})
	f.addDeposit(t, "dep_1", models.USD, "100")
	ctx := context.Background()

	if _, err := f.orch.ConvertDeposit(ctx, "dep_1"); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected ledger error to propagate, got %v", err)
	}

	deposit, _ := f.deposits.GetDeposit(ctx, "dep_1")
	if deposit.Status != models.DepositFailed {
		t.Errorf("deposit should be retryable, got %s", deposit.Status)
	}
	job, _ := f.deposits.GetMintJob(ctx, "dep_1")
	if job == nil || job.Status != models.MintComplete {
		t.Errorf("settled mint must stay complete: %+v", job)
	}
}

func TestConvertDeposit_CallerLeavingDoesNotAbortOthers(t *testing.T) {
	f := newFixture(t, fixtureOptions{delay: 50 * time.Millisecond})
	f.addDeposit(t, "dep_1", models.USD, "100")

	var result *models.ConversionResponse
	done := make(chan error, 1)
	go func() {
		var err error
		result, err = f.orch.ConvertDeposit(context.Background(), "dep_1")
		done <- err
	}()
	f.waitForStatus(t, "dep_1", models.DepositProcessing)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.orch.ConvertDeposit(ctx, "dep_1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("remaining caller: %v", err)
	}
	if !result.Success || result.Deposit.Status != models.DepositConverted {
		t.Errorf("remaining caller should see the conversion finish: %+v", result)
	}
}

func TestConvertDeposit_AbandonedAttemptResumesOnRetry(t *testing.T) {
	f := newFixture(t, fixtureOptions{delay: 50 * time.Millisecond})
	f.addDeposit(t, "dep_1", models.USD, "100")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.orch.ConvertDeposit(ctx, "dep_1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}

	deposit := f.waitForStatus(t, "dep_1", models.DepositFailed)
	if !strings.Contains(deposit.LastError, context.Canceled.Error()) {
		t.Errorf("last error = %q", deposit.LastError)
	}
	job, err := f.deposits.GetMintJob(context.Background(), "dep_1")
	if err != nil {
		t.Fatalf("GetMintJob: %v", err)
	}
	if job.Status == models.MintFailed {
		t.Errorf("an interrupted mint must stay resumable: %+v", job)
	}
	if f.simulator.Transfers() != 0 {
		t.Errorf("cancelled attempt still minted %d transfers", f.simulator.Transfers())
	}

	retried, err := f.orch.RetryConversion(context.Background(), "dep_1")
	if err != nil {
		t.Fatalf("RetryConversion: %v", err)
	}
	if !retried.Success || retried.Deposit.Attempts != 2 {
		t.Fatalf("unexpected retry result %+v", retried)
	}
	if retried.Mint.Id != job.Id || retried.Mint.IdempotencyKey != job.IdempotencyKey {
		t.Errorf("retry should resume job %s (%s), got %+v", job.Id, job.IdempotencyKey, retried.Mint)
	}
	if f.simulator.Transfers() != 1 {
		t.Errorf("expected one mint transfer, got %d", f.simulator.Transfers())
	}
}

func TestConvertDeposit_OtherInstanceSeesConversionInProgress(t *testing.T) {
	f := newFixture(t, fixtureOptions{delay: 200 * time.Millisecond})
	f.addDeposit(t, "dep_1", models.USD, "100")
	ctx := context.Background()

	// a second server sharing the stores and the claim guard
	other := NewOrchestrator(f.deposits, f.ledger, fx.NewQuoteService(nil, nil, 0), f.minter, f.guard, f.publisher)

	done := make(chan *models.ConversionResponse, 1)
	go func() {
		result, err := f.orch.ConvertDeposit(ctx, "dep_1")
		if err != nil {
			t.Errorf("first instance: %v", err)
		}
		done <- result
	}()
	f.waitForStatus(t, "dep_1", models.DepositProcessing)

	seen, err := other.ConvertDeposit(ctx, "dep_1")
	if err != nil {
		t.Fatalf("second instance: %v", err)
	}
	if seen.Success || seen.Deposit.Status != models.DepositProcessing {
		t.Errorf("an unfinished conversion must not report success: %+v", seen)
	}
	if !strings.Contains(seen.Error, ErrConversionInProgress.Error()) {
		t.Errorf("error = %q", seen.Error)
	}

	first := <-done
	if first == nil || !first.Success {
		t.Fatalf("first instance result %+v", first)
	}
	after, err := other.ConvertDeposit(ctx, "dep_1")
	if err != nil || !after.Success || after.Mint.Id != first.Mint.Id {
		t.Errorf("expected recorded success, got %+v, %v", after, err)
	}

	if f.simulator.Transfers() != 1 {
		t.Errorf("expected one mint transfer, got %d", f.simulator.Transfers())
	}
	journal, _ := f.ledger.GetJournal(ctx, "user_1")
	if len(journal) != 1 {
		t.Errorf("expected one credit, got %d", len(journal))
	}
}
