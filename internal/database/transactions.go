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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProcessEntryParams struct {
	UserId   string
	Token    models.Stablecoin
	Type     models.EntryType
	Amount   decimal.Decimal
	Metadata models.EntryMetadata
}

// ProcessEntry atomically updates the balance and appends one journal entry
func (s *SubledgerService) ProcessEntry(ctx context.Context, params ProcessEntryParams) (*models.JournalEntry, error) {
	if err := store.ValidateEntry(params.UserId, params.Token, params.Amount); err != nil {
		return nil, err
	}

	zap.L().Info("Processing journal entry",
		zap.String("user_id", params.UserId),
		zap.String("token", string(params.Token)),
		zap.String("type", string(params.Type)),
		zap.String("amount", params.Amount.String()),
		zap.String("reference", params.Metadata.Reference))

	unlock := s.lockUser(params.UserId)
	defer unlock()

	// Start database transaction for atomicity
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Check for duplicate reference
	reference := sql.NullString{String: params.Metadata.Reference, Valid: params.Metadata.Reference != ""}
	if reference.Valid {
		var existingId string
		err := tx.QueryRowContext(ctx, queryCheckDuplicateReference, reference.String).Scan(&existingId)
		if err == nil {
			zap.L().Warn("Duplicate reference detected, skipping",
				zap.String("reference", reference.String),
				zap.String("existing_entry_id", existingId))
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, reference.String)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check for duplicate reference: %w", err)
		}
	}

	var currentBalanceStr string
	var accountId string
	var version int64
	now := time.Now().UTC()

	err = tx.QueryRowContext(ctx, queryGetAccountBalance, params.UserId, params.Token).Scan(&accountId, &currentBalanceStr, &version)

	var currentBalance decimal.Decimal
	if errors.Is(err, sql.ErrNoRows) {
		// Create new account balance record
		accountId = uuid.New().String()
		currentBalance = decimal.Zero
		version = 1

		_, err = tx.ExecContext(ctx, queryInsertAccountBalance, accountId, params.UserId, params.Token, "0", version, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	} else {
		currentBalance, err = decimal.NewFromString(currentBalanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse current balance '%s': %w", currentBalanceStr, err)
		}
	}

	var newBalance decimal.Decimal
	switch params.Type {
	case models.EntryCredit:
		newBalance = currentBalance.Add(params.Amount)
	case models.EntryDebit:
		if currentBalance.LessThan(params.Amount) {
			return nil, &store.InsufficientFundsError{
				UserId:    params.UserId,
				Token:     params.Token,
				Available: currentBalance,
				Requested: params.Amount,
			}
		}
		newBalance = currentBalance.Sub(params.Amount)
	default:
		return nil, fmt.Errorf("unknown entry type %q", params.Type)
	}

	extra, err := encodeExtra(params.Metadata.Extra)
	if err != nil {
		return nil, err
	}

	entry := &models.JournalEntry{
		Id:           ulid.Make().String(),
		Timestamp:    now,
		Type:         params.Type,
		UserId:       params.UserId,
		Token:        params.Token,
		Amount:       params.Amount,
		BalanceAfter: newBalance,
		Metadata:     params.Metadata,
	}

	meta := params.Metadata
	_, err = tx.ExecContext(ctx, queryInsertJournalEntry,
		entry.Id, entry.UserId, entry.Token, entry.Type,
		entry.Amount.String(), currentBalance.String(), newBalance.String(), reference,
		meta.DepositId, meta.ProviderTxId, meta.FxTradeId, meta.TransferType, meta.CounterpartyId, extra, now)
	if err != nil {
		if isConstraintError(err) {
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, reference.String)
		}
		return nil, fmt.Errorf("failed to insert journal entry: %w", err)
	}

	// Update account balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, newBalance.String(), entry.Id, now, params.UserId, params.Token, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Journal entry processed successfully",
		zap.String("entry_id", entry.Id),
		zap.String("user_id", params.UserId),
		zap.String("token", string(params.Token)),
		zap.String("old_balance", currentBalance.String()),
		zap.String("new_balance", newBalance.String()))

	return entry, nil
}

func encodeExtra(extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return "", nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry metadata: %w", err)
	}
	return string(data), nil
}

func decodeExtra(data string) (map[string]string, error) {
	if data == "" {
		return nil, nil
	}
	var extra map[string]string
	if err := json.Unmarshal([]byte(data), &extra); err != nil {
		return nil, fmt.Errorf("failed to decode entry metadata: %w", err)
	}
	return extra, nil
}

// GetJournal returns every entry for a user in the order it was applied
func (s *SubledgerService) GetJournal(ctx context.Context, userId string) ([]models.JournalEntry, error) {
	zap.L().Debug("Getting journal", zap.String("user_id", userId))

	rows, err := s.db.QueryContext(ctx, queryGetJournal, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	entries := []models.JournalEntry{}
	for rows.Next() {
		var entry models.JournalEntry
		var amountStr, balanceAfterStr, extraStr string
		var reference sql.NullString
		meta := &entry.Metadata
		err := rows.Scan(&entry.Id, &entry.UserId, &entry.Token, &entry.Type,
			&amountStr, &balanceAfterStr, &reference,
			&meta.DepositId, &meta.ProviderTxId, &meta.FxTradeId, &meta.TransferType, &meta.CounterpartyId,
			&extraStr, &entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}

		entry.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		entry.BalanceAfter, err = decimal.NewFromString(balanceAfterStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance after '%s': %w", balanceAfterStr, err)
		}
		meta.Reference = reference.String
		if meta.Extra, err = decodeExtra(extraStr); err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during journal row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating journal rows: %w", err)
	}

	return entries, nil
}
