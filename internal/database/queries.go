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

const (
	// Deposit queries
	queryInsertDeposit = `
		INSERT INTO deposits (
			id, user_id, currency, amount, status, payment_method, payment_reference,
			last_error, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	querySelectDeposit = `
		SELECT id, user_id, currency, amount, status, payment_method, payment_reference,
		       last_error, attempts, created_at, updated_at
		FROM deposits`

	queryGetDeposit = querySelectDeposit + `
		WHERE id = ?`

	queryDepositExists = `
		SELECT 1 FROM deposits WHERE id = ?`

	queryUpdateDepositStatus = `
		UPDATE deposits
		SET status = ?, last_error = ?, attempts = attempts + ?, updated_at = ?
		WHERE id = ? AND status = ?`

	// FX trade queries
	queryUpsertFxTrade = `
		INSERT INTO fx_trades (
			deposit_id, id, from_currency, to_currency, amount_in, rate, effective_rate, spread_bps,
			amount_received, partner_ref, simulated, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deposit_id) DO UPDATE SET
			id = excluded.id,
			from_currency = excluded.from_currency,
			to_currency = excluded.to_currency,
			amount_in = excluded.amount_in,
			rate = excluded.rate,
			effective_rate = excluded.effective_rate,
			spread_bps = excluded.spread_bps,
			amount_received = excluded.amount_received,
			partner_ref = excluded.partner_ref,
			simulated = excluded.simulated,
			status = excluded.status,
			updated_at = excluded.updated_at`

	queryGetFxTrade = `
		SELECT id, deposit_id, from_currency, to_currency, amount_in, rate, effective_rate, spread_bps,
		       amount_received, partner_ref, simulated, status, created_at, updated_at
		FROM fx_trades
		WHERE deposit_id = ?`

	// Mint job queries
	queryUpsertMintJob = `
		INSERT INTO mint_jobs (
			deposit_id, id, stablecoin, amount, status, provider_tx_id, idempotency_key,
			failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deposit_id) DO UPDATE SET
			id = excluded.id,
			stablecoin = excluded.stablecoin,
			amount = excluded.amount,
			status = excluded.status,
			provider_tx_id = excluded.provider_tx_id,
			idempotency_key = excluded.idempotency_key,
			failure_reason = excluded.failure_reason,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`

	queryGetMintJob = `
		SELECT id, deposit_id, stablecoin, amount, status, provider_tx_id, idempotency_key,
		       failure_reason, created_at, updated_at
		FROM mint_jobs
		WHERE deposit_id = ?`

	queryDeleteMintJob = `
		DELETE FROM mint_jobs WHERE deposit_id = ?`

	// Balance queries
	queryGetBalances = `
		SELECT token, balance, updated_at
		FROM account_balances
		WHERE user_id = ?`

	queryGetAllBalances = `
		SELECT token, balance
		FROM account_balances`

	queryGetAccountBalance = `
		SELECT id, balance, version
		FROM account_balances
		WHERE user_id = ? AND token = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, user_id, token, balance, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_entry_id = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND token = ? AND version = ?`

	// Journal queries
	queryCheckDuplicateReference = `
		SELECT id FROM journal_entries WHERE reference = ? LIMIT 1`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (
			id, user_id, token, entry_type, amount, balance_before, balance_after, reference,
			deposit_id, provider_tx_id, fx_trade_id, transfer_type, counterparty_id, extra, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetJournal = `
		SELECT id, user_id, token, entry_type, amount, balance_after, reference,
		       deposit_id, provider_tx_id, fx_trade_id, transfer_type, counterparty_id, extra, created_at
		FROM journal_entries
		WHERE user_id = ?
		ORDER BY seq`
)
