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

package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// Result counts what one sweep did
type Result struct {
	Pending   int
	Retried   int
	Converted int
	Failed    int
	Errors    int
	Skipped   int
}

func (r Result) empty() bool {
	return r.Pending == 0 && r.Retried == 0 && r.Skipped == 0
}

// Start runs one sweep immediately and then keeps sweeping in the background
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.settings.Enabled {
		zap.L().Info("Sweeper disabled")
		return nil
	}
	if s.started {
		return fmt.Errorf("sweeper already started")
	}
	s.started = true

	zap.L().Info("Starting sweeper",
		zap.Duration("polling_interval", s.settings.PollingInterval),
		zap.Duration("pending_grace", s.settings.PendingGrace),
		zap.Bool("retry_failed", s.settings.RetryFailed),
		zap.Int("max_attempts", s.settings.MaxAttempts))

	go s.pollLoop(ctx)
	go s.cleanupLoop(ctx)

	return nil
}

// Stop gracefully stops the sweeper and waits for an in-progress sweep
func (s *Sweeper) Stop() {
	if !s.started {
		return
	}
	zap.L().Info("Stopping sweeper")
	close(s.stopChan)
	<-s.doneChan
	zap.L().Info("Sweeper stopped")
}

func (s *Sweeper) pollLoop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.settings.PollingInterval)
	defer ticker.Stop()

	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	result, err := s.Sweep(ctx)
	if err != nil {
		fmt.Printf("%s[%s] Sweep failed: %s%s\n", colorRed, time.Now().Format("15:04:05"), err, colorReset)
		zap.L().Error("Sweep failed", zap.Error(err))
		return
	}
	if result.empty() {
		return
	}

	color := colorGreen
	if result.Failed > 0 || result.Errors > 0 {
		color = colorYellow
	}
	fmt.Printf("%s[%s] Swept %d pending, %d failed%s | %s%d converted, %d failed, %d errors, %d skipped%s\n",
		colorCyan, time.Now().Format("15:04:05"), result.Pending, result.Retried, colorReset,
		color, result.Converted, result.Failed, result.Errors, result.Skipped, colorReset)
}

// Sweep converts pending deposits older than the grace period and, when enabled,
// retries failed deposits whose backoff has elapsed
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var result Result
	var mu sync.Mutex
	record := func(apply func(r *Result)) {
		mu.Lock()
		defer mu.Unlock()
		apply(&result)
	}

	ctx = models.WithTriggerContext(ctx, &models.TriggerContext{Source: models.TriggerSweeper})
	now := time.Now().UTC()

	pending, err := s.deposits.ListDeposits(ctx, store.DepositFilter{
		Status:        models.DepositPending,
		UpdatedBefore: now.Add(-s.settings.PendingGrace),
	})
	if err != nil {
		return result, fmt.Errorf("failed to list pending deposits: %w", err)
	}

	var failed []models.Deposit
	if s.settings.RetryFailed {
		failed, err = s.deposits.ListDeposits(ctx, store.DepositFilter{Status: models.DepositFailed})
		if err != nil {
			return result, fmt.Errorf("failed to list failed deposits: %w", err)
		}
	}

	s.reportStuck(ctx, now)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)

	for _, deposit := range pending {
		if s.recentlyAttempted(deposit.Id) {
			record(func(r *Result) { r.Skipped++ })
			continue
		}
		record(func(r *Result) { r.Pending++ })
		g.Go(func() error {
			s.convertPending(gctx, deposit, record)
			return nil
		})
	}

	for _, deposit := range failed {
		if !s.retryDue(deposit, now) {
			record(func(r *Result) { r.Skipped++ })
			continue
		}
		record(func(r *Result) { r.Retried++ })
		g.Go(func() error {
			s.retryFailed(gctx, deposit, record)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, ctx.Err()
}

// reportStuck warns about deposits that stayed in processing well past the grace period.
// They are left alone; an in-flight attempt may still complete them.
func (s *Sweeper) reportStuck(ctx context.Context, now time.Time) {
	stuck, err := s.deposits.ListDeposits(ctx, store.DepositFilter{
		Status:        models.DepositProcessing,
		UpdatedBefore: now.Add(-2 * s.settings.PendingGrace),
	})
	if err != nil {
		zap.L().Warn("Failed to list processing deposits", zap.Error(err))
		return
	}
	for _, d := range stuck {
		zap.L().Warn("Deposit stuck in processing",
			zap.String("deposit_id", d.Id),
			zap.String("user_id", d.UserId),
			zap.Time("updated_at", d.UpdatedAt),
			zap.Int("attempts", d.Attempts))
	}
}

func countOutcome(outcome *models.ConversionResponse, err error, record func(func(*Result))) {
	switch {
	case err != nil:
		record(func(r *Result) { r.Errors++ })
	case outcome.Success:
		record(func(r *Result) { r.Converted++ })
	default:
		record(func(r *Result) { r.Failed++ })
	}
}
