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
	"sync"
)

// SubledgerService handles subledger operations
type SubledgerService struct {
	db *sql.DB

	// per-user write locks; the version column guards writers in other processes
	userLocks sync.Map
}

func NewSubledgerService(db *sql.DB) *SubledgerService {
	return &SubledgerService{
		db: db,
	}
}

func (s *SubledgerService) lockUser(userId string) func() {
	value, _ := s.userLocks.LoadOrStore(userId, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *SubledgerService) InitSchema(ctx context.Context) error {
	schema := `
	-- Account Balances Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS account_balances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		last_entry_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, token)
	);

	CREATE INDEX IF NOT EXISTS idx_account_balances_user_id ON account_balances(user_id);

	-- Journal Entries Table (Append-only Audit Trail)
	CREATE TABLE IF NOT EXISTS journal_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		token TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference TEXT,
		deposit_id TEXT NOT NULL DEFAULT '',
		provider_tx_id TEXT NOT NULL DEFAULT '',
		fx_trade_id TEXT NOT NULL DEFAULT '',
		transfer_type TEXT NOT NULL DEFAULT '',
		counterparty_id TEXT NOT NULL DEFAULT '',
		extra TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_user_id ON journal_entries(user_id, seq);
	CREATE INDEX IF NOT EXISTS idx_journal_deposit_id ON journal_entries(deposit_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_journal_reference ON journal_entries(reference) WHERE reference IS NOT NULL;
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
