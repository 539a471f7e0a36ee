// Package conversion drives a fiat deposit through FX, minting and the ledger.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deposit-convert-go/internal/events"
	"deposit-convert-go/internal/fx"
	"deposit-convert-go/internal/idempotency"
	"deposit-convert-go/internal/mint"
	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotRetryable         = errors.New("only failed deposits can be retried")
	ErrInvalidPayload       = errors.New("invalid deposit payload")
	ErrQuoteExpired         = errors.New("fx quote expired")
	ErrConversionInProgress = errors.New("conversion in progress")
)

const (
	pathDirect = "direct"
	pathFx     = "fx"

	// maxQuoteAttempts bounds re-quoting when a quote expires before it is committed
	maxQuoteAttempts = 3
)

// CreditReference is the ledger reference of a deposit's credit; at most one entry carries it
func CreditReference(depositId string) string {
	return "credit:" + depositId
}

// MintIdempotencyKey derives the mint key for one conversion attempt of a deposit
func MintIdempotencyKey(depositId string, token models.Stablecoin, attempt int) string {
	return fmt.Sprintf("mint_%s_%s_%d", strings.ToLower(string(token)), depositId, attempt)
}

// Orchestrator owns the deposit state machine. It is the only writer of deposits,
// FX trades and mint jobs.
type Orchestrator struct {
	deposits  store.DepositStore
	ledger    store.Ledger
	quotes    fx.Provider
	minter    mint.Provider
	guard     idempotency.Claimer
	publisher events.Publisher

	flights singleflight.Group
	mu      sync.Mutex
	waiting map[string]*waiters
	now     func() time.Time
}

// waiters counts the callers blocked on one deposit's attempt. The attempt runs on
// ctx, which is cancelled once the last of them stops waiting.
type waiters struct {
	ctx    context.Context
	cancel context.CancelFunc
	count  int
}

func NewOrchestrator(
	deposits store.DepositStore,
	ledger store.Ledger,
	quotes fx.Provider,
	minter mint.Provider,
	guard idempotency.Claimer,
	publisher events.Publisher,
) *Orchestrator {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &Orchestrator{
		deposits:  deposits,
		ledger:    ledger,
		quotes:    quotes,
		minter:    minter,
		guard:     guard,
		publisher: publisher,
		waiting:   make(map[string]*waiters),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ConvertDeposit converts a pending deposit into stablecoin exactly once. Callers
// racing on the same deposit share one attempt; later callers get the recorded outcome.
// A caller that stops waiting does not abort the attempt while others still wait.
func (o *Orchestrator) ConvertDeposit(ctx context.Context, depositId string) (*models.ConversionResponse, error) {
	return o.await(ctx, depositId, func(ctx context.Context) (*models.ConversionResponse, error) {
		return o.convert(ctx, depositId, models.DepositPending)
	})
}

// RetryConversion re-runs a failed deposit. A mint the previous attempt already
// issued is resumed and credited; otherwise the deposit is re-quoted and minted
// under a new idempotency key.
func (o *Orchestrator) RetryConversion(ctx context.Context, depositId string) (*models.ConversionResponse, error) {
	return o.await(ctx, depositId, func(ctx context.Context) (*models.ConversionResponse, error) {
		deposit, err := o.deposits.GetDeposit(ctx, depositId)
		if err != nil {
			return nil, err
		}
		if deposit.Status != models.DepositFailed {
			return nil, fmt.Errorf("%w: deposit %s is %s", ErrNotRetryable, depositId, deposit.Status)
		}

		zap.L().Info("Retrying conversion",
			zap.String("deposit_id", depositId),
			zap.Int("attempts", deposit.Attempts),
			zap.String("last_error", deposit.LastError))

		if err := o.guard.Release(ctx, idempotency.ConvertKey(depositId)); err != nil {
			return nil, fmt.Errorf("failed to release conversion claim: %w", err)
		}
		return o.convert(ctx, depositId, models.DepositFailed)
	})
}

// await joins the in-flight attempt for depositId or starts one running run
func (o *Orchestrator) await(
	ctx context.Context,
	depositId string,
	run func(context.Context) (*models.ConversionResponse, error),
) (*models.ConversionResponse, error) {
	o.mu.Lock()
	w, ok := o.waiting[depositId]
	if !ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		w = &waiters{ctx: runCtx, cancel: cancel}
		o.waiting[depositId] = w
	}
	w.count++
	flight := o.flights.DoChan(depositId, func() (any, error) {
		return run(w.ctx)
	})
	o.mu.Unlock()

	select {
	case result := <-flight:
		o.leave(depositId, w)
		if result.Err != nil {
			return nil, result.Err
		}
		if result.Shared {
			conversionsDeduplicatedTotal.Inc()
		}
		return result.Val.(*models.ConversionResponse), nil
	case <-ctx.Done():
		zap.L().Warn("Caller stopped waiting for conversion",
			zap.String("deposit_id", depositId),
			zap.Error(ctx.Err()))
		o.leave(depositId, w)
		return nil, ctx.Err()
	}
}

// leave drops one waiter. When none remain the attempt's context is cancelled:
// either the attempt already returned or nobody is left to receive its result.
func (o *Orchestrator) leave(depositId string, w *waiters) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w.count--
	if w.count > 0 {
		return
	}
	if o.waiting[depositId] == w {
		delete(o.waiting, depositId)
	}
	w.cancel()
}

// attempt carries the records produced while converting one deposit
type attempt struct {
	deposit *models.Deposit
	trade   *models.FxTrade
	job     *models.MintJob
	path    string
	started time.Time
}

func (a *attempt) response(success bool, failure string) *models.ConversionResponse {
	return &models.ConversionResponse{
		Success: success,
		Deposit: a.deposit,
		Mint:    a.job,
		FxTrade: a.trade,
		Error:   failure,
	}
}

func (o *Orchestrator) convert(ctx context.Context, depositId string, from models.DepositStatus) (*models.ConversionResponse, error) {
	deposit, err := o.deposits.GetDeposit(ctx, depositId)
	if err != nil {
		return nil, err
	}

	claimed, err := o.guard.Claim(ctx, idempotency.ConvertKey(depositId))
	if err != nil {
		return nil, fmt.Errorf("failed to claim conversion: %w", err)
	}
	if !claimed {
		zap.L().Info("Conversion already claimed, returning recorded outcome",
			zap.String("deposit_id", depositId),
			zap.String("status", string(deposit.Status)))
		conversionsDeduplicatedTotal.Inc()
		return o.recordedOutcome(ctx, deposit)
	}

	if deposit.Status != from {
		zap.L().Info("Deposit not in a convertible state",
			zap.String("deposit_id", depositId),
			zap.String("status", string(deposit.Status)))
		return o.recordedOutcome(ctx, deposit)
	}

	deposit, err = o.deposits.TransitionDeposit(ctx, store.TransitionParams{
		DepositId:    depositId,
		From:         from,
		To:           models.DepositProcessing,
		CountAttempt: true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			current, getErr := o.deposits.GetDeposit(ctx, depositId)
			if getErr != nil {
				return nil, getErr
			}
			return o.recordedOutcome(ctx, current)
		}
		return nil, fmt.Errorf("failed to start conversion: %w", err)
	}

	a := &attempt{deposit: deposit, started: time.Now()}

	zap.L().Info("Starting conversion",
		zap.String("deposit_id", deposit.Id),
		zap.String("user_id", deposit.UserId),
		zap.String("currency", string(deposit.Currency)),
		zap.String("amount", deposit.Amount.String()),
		zap.Int("attempt", deposit.Attempts),
		zap.String("trigger", models.TriggerSource(ctx)))

	var prior *models.MintJob
	if from == models.DepositFailed {
		if prior, err = o.priorMintJob(ctx, depositId); err != nil {
			return o.abort(ctx, a, err)
		}
	}

	token, amount, providerTxId, err := o.settle(ctx, a, prior)
	if err != nil {
		if isExpectedFailure(err) {
			return o.fail(ctx, a, err)
		}
		return o.abort(ctx, a, err)
	}

	if err := o.credit(ctx, a, token, amount, providerTxId); err != nil {
		return o.abort(ctx, a, err)
	}

	// the credit is committed, so the deposit is completed even if every waiter left
	ctx = context.WithoutCancel(ctx)
	deposit, err = o.deposits.TransitionDeposit(ctx, store.TransitionParams{
		DepositId: depositId,
		From:      models.DepositProcessing,
		To:        models.DepositConverted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete conversion: %w", err)
	}
	a.deposit = deposit

	conversionsTotal.WithLabelValues(a.path, "converted").Inc()
	conversionDuration.WithLabelValues(a.path).Observe(time.Since(a.started).Seconds())
	o.publish(ctx, a, "")

	zap.L().Info("Conversion completed",
		zap.String("deposit_id", deposit.Id),
		zap.String("user_id", deposit.UserId),
		zap.String("token", string(token)),
		zap.String("amount", amount.String()),
		zap.String("provider_tx_id", providerTxId))

	return a.response(true, ""), nil
}

// settle produces a settled mint for the attempt. A prior job is driven to
// completion under its own key; without one the deposit is planned and minted afresh.
func (o *Orchestrator) settle(ctx context.Context, a *attempt, prior *models.MintJob) (models.Stablecoin, decimal.Decimal, string, error) {
	if prior != nil {
		if err := o.resume(ctx, a, prior); err != nil {
			return "", decimal.Zero, "", err
		}
		providerTxId, err := o.settleJob(ctx, a)
		return prior.Stablecoin, prior.Amount, providerTxId, err
	}

	token, amount, err := o.plan(ctx, a)
	if err != nil {
		return "", decimal.Zero, "", err
	}
	providerTxId, err := o.mint(ctx, a, token, amount)
	return token, amount, providerTxId, err
}

// priorMintJob returns the previous attempt's mint job when it may have issued
// tokens. A job the provider rejected is discarded.
func (o *Orchestrator) priorMintJob(ctx context.Context, depositId string) (*models.MintJob, error) {
	job, err := o.deposits.GetMintJob(ctx, depositId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("failed to load previous mint job", err)
	}
	if job.Status != models.MintFailed {
		return job, nil
	}
	if job.ProviderTxId != "" && strings.Contains(job.FailureReason, mint.ErrMintTimeout.Error()) {
		// the transfer exists and may still settle
		job.Status = models.MintProcessing
		job.FailureReason = ""
		return job, nil
	}
	if err := o.deposits.DeleteMintJob(ctx, depositId); err != nil {
		return nil, storeError("failed to discard previous mint job", err)
	}
	return nil, nil
}

// resume adopts a prior mint job and the FX trade that priced it
func (o *Orchestrator) resume(ctx context.Context, a *attempt, job *models.MintJob) error {
	trade, err := o.deposits.GetFxTrade(ctx, job.DepositId)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return storeError("failed to load fx trade", err)
	}
	a.job = job
	a.trade = trade
	a.path = pathDirect
	if trade != nil {
		a.path = pathFx
	}

	zap.L().Info("Resuming previous mint",
		zap.String("deposit_id", job.DepositId),
		zap.String("mint_job_id", job.Id),
		zap.String("status", string(job.Status)),
		zap.String("idempotency_key", job.IdempotencyKey),
		zap.String("provider_tx_id", job.ProviderTxId))
	return nil
}

// plan picks the conversion path and runs the FX leg when one is needed.
// It returns the token and amount to mint.
func (o *Orchestrator) plan(ctx context.Context, a *attempt) (models.Stablecoin, decimal.Decimal, error) {
	deposit := a.deposit

	if token, ok := models.StablecoinFor(deposit.Currency); ok {
		a.path = pathDirect
		zap.L().Info("Direct conversion",
			zap.String("deposit_id", deposit.Id),
			zap.String("currency", string(deposit.Currency)),
			zap.String("token", string(token)))
		return token, models.RoundToken(deposit.Amount), nil
	}

	if !deposit.Currency.IsLocal() {
		a.path = pathDirect
		return "", decimal.Zero, fmt.Errorf("%w: %s", store.ErrUnsupportedCurrency, deposit.Currency)
	}

	a.path = pathFx
	quote, err := o.quote(ctx, deposit)
	if err != nil {
		return "", decimal.Zero, err
	}

	trade := &models.FxTrade{
		Id:             uuid.New().String(),
		DepositId:      deposit.Id,
		FromCurrency:   quote.From,
		ToCurrency:     quote.To,
		AmountIn:       quote.AmountIn,
		Rate:           quote.Rate,
		EffectiveRate:  quote.EffectiveRate,
		SpreadBps:      quote.SpreadBps,
		AmountReceived: quote.AmountReceived,
		PartnerRef:     quote.PartnerRef,
		Simulated:      quote.Simulated,
		Status:         models.TradeComplete,
	}
	if err := o.deposits.SaveFxTrade(ctx, trade); err != nil {
		return "", decimal.Zero, storeError("failed to save fx trade", err)
	}
	a.trade = trade

	logFields := []zap.Field{
		zap.String("deposit_id", deposit.Id),
		zap.String("fx_trade_id", trade.Id),
		zap.String("from", string(trade.FromCurrency)),
		zap.String("amount_in", trade.AmountIn.String()),
		zap.String("effective_rate", trade.EffectiveRate.String()),
		zap.String("amount_received", trade.AmountReceived.String()),
		zap.String("partner_ref", trade.PartnerRef),
	}
	if trade.Simulated {
		zap.L().Warn("FX leg committed at simulated rate", logFields...)
	} else {
		zap.L().Info("FX leg committed", logFields...)
	}

	return models.USDC, models.RoundToken(trade.AmountReceived), nil
}

// quote prices the deposit into USD, re-quoting when a quote expires before it can be committed
func (o *Orchestrator) quote(ctx context.Context, deposit *models.Deposit) (*models.FxQuote, error) {
	for i := 1; i <= maxQuoteAttempts; i++ {
		quote, err := o.quotes.Quote(ctx, deposit.Currency, models.USD, deposit.Amount)
		if err != nil {
			return nil, fmt.Errorf("fx quote failed: %w", err)
		}
		if !quote.IsExpired(o.now()) {
			return quote, nil
		}
		zap.L().Warn("FX quote expired before commit, re-quoting",
			zap.String("deposit_id", deposit.Id),
			zap.Time("expires_at", quote.ExpiresAt),
			zap.Int("attempt", i))
	}
	return nil, fmt.Errorf("%w: quotes kept expiring before commit", ErrQuoteExpired)
}

func (o *Orchestrator) mint(ctx context.Context, a *attempt, token models.Stablecoin, amount decimal.Decimal) (string, error) {
	deposit := a.deposit
	job := &models.MintJob{
		Id:             uuid.New().String(),
		DepositId:      deposit.Id,
		Stablecoin:     token,
		Amount:         amount,
		Status:         models.MintPending,
		IdempotencyKey: MintIdempotencyKey(deposit.Id, token, deposit.Attempts),
	}
	if err := o.deposits.SaveMintJob(ctx, job); err != nil {
		return "", storeError("failed to save mint job", err)
	}
	a.job = job
	return o.settleJob(ctx, a)
}

// settleJob drives the attempt's mint job from its recorded status to complete
func (o *Orchestrator) settleJob(ctx context.Context, a *attempt) (string, error) {
	job := a.job

	if job.Status == models.MintPending {
		result, err := o.minter.Mint(ctx, job.Stablecoin, job.Amount, job.IdempotencyKey)
		if err != nil {
			return "", err
		}
		job.ProviderTxId = result.ProviderTxId
		job.Status = models.MintProcessing
		if err := o.deposits.SaveMintJob(ctx, job); err != nil {
			return "", storeError("failed to save mint job", err)
		}
	}

	if job.Status == models.MintProcessing {
		if _, err := o.minter.WaitUntilSettled(ctx, job.ProviderTxId); err != nil {
			return "", err
		}
		job.Status = models.MintComplete
		if err := o.deposits.SaveMintJob(ctx, job); err != nil {
			return "", storeError("failed to save mint job", err)
		}
	}
	return job.ProviderTxId, nil
}

func (o *Orchestrator) credit(ctx context.Context, a *attempt, token models.Stablecoin, amount decimal.Decimal, providerTxId string) error {
	meta := models.EntryMetadata{
		Reference:    CreditReference(a.deposit.Id),
		DepositId:    a.deposit.Id,
		ProviderTxId: providerTxId,
		Extra: map[string]string{
			"path":    a.path,
			"trigger": models.TriggerSource(ctx),
		},
	}
	if a.trade != nil {
		meta.FxTradeId = a.trade.Id
	}

	entry, err := o.ledger.Credit(ctx, a.deposit.UserId, token, amount, meta)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Warn("Deposit already credited, skipping ledger entry",
				zap.String("deposit_id", a.deposit.Id),
				zap.String("reference", meta.Reference))
			return nil
		}
		return storeError("failed to credit ledger", err)
	}

	zap.L().Info("Ledger credited",
		zap.String("deposit_id", a.deposit.Id),
		zap.String("user_id", a.deposit.UserId),
		zap.String("entry_id", entry.Id),
		zap.String("token", string(token)),
		zap.String("balance_after", entry.BalanceAfter.String()))
	return nil
}

// storeFailure marks an error from the deposit store or the ledger. Those abort
// the attempt and propagate; every other error ends the deposit in failed.
type storeFailure struct {
	err error
}

func (e *storeFailure) Error() string { return e.err.Error() }
func (e *storeFailure) Unwrap() error { return e.err }

func storeError(msg string, err error) error {
	return &storeFailure{err: fmt.Errorf("%s: %w", msg, err)}
}

func isExpectedFailure(err error) bool {
	var sf *storeFailure
	return !errors.As(err, &sf)
}

// mintRejected reports whether cause shows the provider issued nothing for the job.
// Store errors and cancellation leave the transfer's fate unknown.
func mintRejected(cause error) bool {
	return isExpectedFailure(cause) &&
		!errors.Is(cause, context.Canceled) &&
		!errors.Is(cause, context.DeadlineExceeded)
}

// fail records an expected failure: the deposit ends in failed, an FX leg that
// already completed stands
func (o *Orchestrator) fail(ctx context.Context, a *attempt, cause error) (*models.ConversionResponse, error) {
	ctx = context.WithoutCancel(ctx)
	zap.L().Error("Conversion failed",
		zap.String("deposit_id", a.deposit.Id),
		zap.String("user_id", a.deposit.UserId),
		zap.String("path", a.path),
		zap.Error(cause))

	if err := o.markFailed(ctx, a, cause); err != nil {
		return nil, err
	}

	conversionsTotal.WithLabelValues(a.path, "failed").Inc()
	conversionDuration.WithLabelValues(a.path).Observe(time.Since(a.started).Seconds())
	o.publish(ctx, a, cause.Error())
	return a.response(false, cause.Error()), nil
}

// abort handles an unexpected error: the deposit is moved to failed when possible
// so it can be retried, and the error propagates
func (o *Orchestrator) abort(ctx context.Context, a *attempt, cause error) (*models.ConversionResponse, error) {
	ctx = context.WithoutCancel(ctx)
	zap.L().Error("Conversion aborted by unexpected error",
		zap.String("deposit_id", a.deposit.Id),
		zap.Error(cause))

	if err := o.markFailed(ctx, a, cause); err != nil {
		zap.L().Error("Failed to record aborted conversion",
			zap.String("deposit_id", a.deposit.Id),
			zap.Error(err))
	}
	conversionsTotal.WithLabelValues(a.path, "error").Inc()
	o.publish(ctx, a, cause.Error())
	return nil, cause
}

// markFailed moves the deposit to failed. The mint job is marked failed only when
// the provider rejected it; otherwise it is kept for the retry to resume.
func (o *Orchestrator) markFailed(ctx context.Context, a *attempt, cause error) error {
	if a.job != nil && a.job.Status != models.MintComplete && mintRejected(cause) {
		a.job.Status = models.MintFailed
		a.job.FailureReason = cause.Error()
		if err := o.deposits.SaveMintJob(ctx, a.job); err != nil {
			return fmt.Errorf("failed to record mint failure: %w", err)
		}
	}

	deposit, err := o.deposits.TransitionDeposit(ctx, store.TransitionParams{
		DepositId: a.deposit.Id,
		From:      models.DepositProcessing,
		To:        models.DepositFailed,
		LastError: cause.Error(),
	})
	if err != nil {
		return fmt.Errorf("failed to mark deposit failed: %w", err)
	}
	a.deposit = deposit
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, a *attempt, failure string) {
	event := events.NewConversionEvent(a.deposit, a.job, a.trade, failure)
	if err := o.publisher.Publish(ctx, event); err != nil {
		zap.L().Warn("Failed to publish conversion event",
			zap.String("deposit_id", a.deposit.Id),
			zap.Error(err))
	}
}

// recordedOutcome rebuilds the response of a claimed or finished attempt from the store
func (o *Orchestrator) recordedOutcome(ctx context.Context, deposit *models.Deposit) (*models.ConversionResponse, error) {
	a := &attempt{deposit: deposit}

	job, err := o.deposits.GetMintJob(ctx, deposit.Id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	a.job = job

	trade, err := o.deposits.GetFxTrade(ctx, deposit.Id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	a.trade = trade

	switch deposit.Status {
	case models.DepositConverted:
		return a.response(true, ""), nil
	case models.DepositFailed:
		return a.response(false, deposit.LastError), nil
	default:
		return a.response(false, fmt.Sprintf("%v: deposit %s is %s", ErrConversionInProgress, deposit.Id, deposit.Status)), nil
	}
}
