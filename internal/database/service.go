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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time checks: *Service must satisfy both store interfaces.
var (
	_ store.DepositStore = (*Service)(nil)
	_ store.Ledger       = (*Service)(nil)
)

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	maxOpen := cfg.MaxOpenConns
	if cfg.Path == ":memory:" {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	subledger := NewSubledgerService(db)
	service := &Service{db: db, subledger: subledger}
	if err := service.initSchema(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	if err := subledger.InitSchema(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("unable to initialize subledger schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Close() {
	closeQuietly(s.db)
}

// Ping verifies the database is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	-- Deposits awaiting or having completed conversion
	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		payment_reference TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_user_id ON deposits(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status, updated_at);

	-- At most one FX trade per deposit
	CREATE TABLE IF NOT EXISTS fx_trades (
		deposit_id TEXT PRIMARY KEY REFERENCES deposits(id),
		id TEXT NOT NULL UNIQUE,
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		amount_in TEXT NOT NULL,
		rate TEXT NOT NULL,
		effective_rate TEXT NOT NULL,
		spread_bps INTEGER NOT NULL,
		amount_received TEXT NOT NULL,
		partner_ref TEXT NOT NULL,
		simulated BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Latest mint attempt per deposit
	CREATE TABLE IF NOT EXISTS mint_jobs (
		deposit_id TEXT PRIMARY KEY REFERENCES deposits(id),
		id TEXT NOT NULL,
		stablecoin TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_tx_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// isConstraintError reports whether err is a sqlite primary key or unique violation
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Ledger methods delegate to the subledger

func (s *Service) Credit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	return s.subledger.ProcessEntry(ctx, ProcessEntryParams{
		UserId: userId, Token: token, Type: models.EntryCredit, Amount: amount, Metadata: meta,
	})
}

func (s *Service) Debit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	return s.subledger.ProcessEntry(ctx, ProcessEntryParams{
		UserId: userId, Token: token, Type: models.EntryDebit, Amount: amount, Metadata: meta,
	})
}

func (s *Service) GetBalance(ctx context.Context, userId string) (*models.Balance, error) {
	return s.subledger.GetBalance(ctx, userId)
}

func (s *Service) GetJournal(ctx context.Context, userId string) ([]models.JournalEntry, error) {
	return s.subledger.GetJournal(ctx, userId)
}

func (s *Service) GetSystemTotals(ctx context.Context) (map[models.Stablecoin]decimal.Decimal, error) {
	return s.subledger.GetSystemTotals(ctx)
}
