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

// Package sweeper picks up deposits that were never converted or that failed, and
// drives them through the orchestrator again.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/retry"
	"deposit-convert-go/internal/store"

	"go.uber.org/zap"
)

const defaultConcurrency = 4

// Converter is the part of the orchestrator the sweeper drives
type Converter interface {
	ConvertDeposit(ctx context.Context, depositId string) (*models.ConversionResponse, error)
	RetryConversion(ctx context.Context, depositId string) (*models.ConversionResponse, error)
}

// Config contains configuration for a Sweeper
type Config struct {
	Deposits    store.DepositStore
	Converter   Converter
	Settings    models.SweeperConfig
	Concurrency int
}

// Sweeper periodically converts stale pending deposits and, when enabled, retries failed ones
type Sweeper struct {
	deposits  store.DepositStore
	converter Converter
	settings  models.SweeperConfig
	backoff   retry.Exponential
	limit     int

	// Deposits swept recently, so a deposit that stays put is not hammered every tick
	attempted map[string]time.Time
	mutex     sync.RWMutex

	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// New creates a new sweeper
func New(cfg Config) (*Sweeper, error) {
	if cfg.Deposits == nil || cfg.Converter == nil {
		return nil, fmt.Errorf("sweeper requires a deposit store and a converter")
	}
	if cfg.Settings.PollingInterval <= 0 {
		return nil, fmt.Errorf("sweeper polling interval must be positive, got %s", cfg.Settings.PollingInterval)
	}
	if cfg.Settings.CleanupInterval <= 0 {
		cfg.Settings.CleanupInterval = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	return &Sweeper{
		deposits:  cfg.Deposits,
		converter: cfg.Converter,
		settings:  cfg.Settings,
		backoff: retry.Exponential{
			Initial: cfg.Settings.BackoffInitial,
			Max:     cfg.Settings.BackoffMax,
		},
		limit:     cfg.Concurrency,
		attempted: make(map[string]time.Time),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// recentlyAttempted checks if this deposit was swept within the cleanup interval
func (s *Sweeper) recentlyAttempted(depositId string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	_, exists := s.attempted[depositId]
	return exists
}

func (s *Sweeper) markAttempted(depositId string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.attempted[depositId] = time.Now()
}

// cleanupLoop periodically forgets old sweep attempts
func (s *Sweeper) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.settings.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupAttempts()
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) cleanupAttempts() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := time.Now().Add(-s.settings.CleanupInterval)
	cleaned := 0

	for depositId, attemptedAt := range s.attempted {
		if attemptedAt.Before(cutoff) {
			delete(s.attempted, depositId)
			cleaned++
		}
	}

	if cleaned > 0 {
		zap.L().Debug("Cleaned up old sweep attempts",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(s.attempted)))
	}
}
