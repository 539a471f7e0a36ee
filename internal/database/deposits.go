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
	"strings"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Service) CreateDeposit(ctx context.Context, deposit *models.Deposit) error {
	if deposit.Id == "" {
		return fmt.Errorf("deposit id is required")
	}

	now := time.Now().UTC()
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = now
	}
	if deposit.UpdatedAt.IsZero() {
		deposit.UpdatedAt = deposit.CreatedAt
	}
	if deposit.Status == "" {
		deposit.Status = models.DepositPending
	}

	_, err := s.db.ExecContext(ctx, queryInsertDeposit,
		deposit.Id, deposit.UserId, deposit.Currency, deposit.Amount.String(), deposit.Status,
		deposit.PaymentMethod, deposit.PaymentReference, deposit.LastError, deposit.Attempts,
		deposit.CreatedAt.UTC(), deposit.UpdatedAt.UTC())
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicateDeposit, deposit.Id)
		}
		zap.L().Error("Failed to create deposit", zap.String("deposit_id", deposit.Id), zap.Error(err))
		return fmt.Errorf("failed to create deposit: %w", err)
	}

	zap.L().Debug("Created deposit",
		zap.String("deposit_id", deposit.Id),
		zap.String("user_id", deposit.UserId),
		zap.String("currency", string(deposit.Currency)),
		zap.String("amount", deposit.Amount.String()))
	return nil
}

func scanDeposit(row rowScanner) (*models.Deposit, error) {
	var d models.Deposit
	var amountStr string
	if err := row.Scan(&d.Id, &d.UserId, &d.Currency, &amountStr, &d.Status, &d.PaymentMethod,
		&d.PaymentReference, &d.LastError, &d.Attempts, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	d.Amount = amount
	return &d, nil
}

func (s *Service) GetDeposit(ctx context.Context, depositId string) (*models.Deposit, error) {
	d, err := scanDeposit(s.db.QueryRowContext(ctx, queryGetDeposit, depositId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deposit %s: %w", depositId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return d, nil
}

func (s *Service) TransitionDeposit(ctx context.Context, params store.TransitionParams) (*models.Deposit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanDeposit(tx.QueryRowContext(ctx, queryGetDeposit, params.DepositId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deposit %s: %w", params.DepositId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	if err := store.CheckTransition(current, params); err != nil {
		return nil, err
	}

	at := params.TransitionAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	attempt := 0
	if params.CountAttempt {
		attempt = 1
	}

	result, err := tx.ExecContext(ctx, queryUpdateDepositStatus,
		params.To, params.LastError, attempt, at, params.DepositId, params.From)
	if err != nil {
		return nil, fmt.Errorf("failed to update deposit status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("deposit %s status update failed - %w", params.DepositId, store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	current.Status = params.To
	current.LastError = params.LastError
	current.Attempts += attempt
	current.UpdatedAt = at

	zap.L().Debug("Deposit transitioned",
		zap.String("deposit_id", params.DepositId),
		zap.String("from", string(params.From)),
		zap.String("to", string(params.To)))
	return current, nil
}

func (s *Service) ListDeposits(ctx context.Context, filter store.DepositFilter) ([]models.Deposit, error) {
	var conditions []string
	var args []any
	if filter.UserId != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserId)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.UpdatedBefore.IsZero() {
		conditions = append(conditions, "updated_at < ?")
		args = append(args, filter.UpdatedBefore.UTC())
	}

	query := querySelectDeposit
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\t\tORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	deposits := []models.Deposit{}
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		deposits = append(deposits, *d)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during deposit row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating deposit rows: %w", err)
	}
	return deposits, nil
}

// requireDeposit fails with ErrNotFound when the owning deposit does not exist
func requireDeposit(ctx context.Context, tx *sql.Tx, depositId string) error {
	var exists int
	err := tx.QueryRowContext(ctx, queryDepositExists, depositId).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("deposit %s: %w", depositId, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check deposit: %w", err)
	}
	return nil
}

func (s *Service) SaveFxTrade(ctx context.Context, trade *models.FxTrade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireDeposit(ctx, tx, trade.DepositId); err != nil {
		return err
	}

	now := time.Now().UTC()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	trade.UpdatedAt = now

	_, err = tx.ExecContext(ctx, queryUpsertFxTrade,
		trade.DepositId, trade.Id, trade.FromCurrency, trade.ToCurrency, trade.AmountIn.String(),
		trade.Rate.String(), trade.EffectiveRate.String(), trade.SpreadBps, trade.AmountReceived.String(),
		trade.PartnerRef, trade.Simulated, trade.Status, trade.CreatedAt.UTC(), trade.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save fx trade: %w", err)
	}
	return tx.Commit()
}

func (s *Service) GetFxTrade(ctx context.Context, depositId string) (*models.FxTrade, error) {
	var t models.FxTrade
	var amountIn, rate, effectiveRate, amountReceived string
	err := s.db.QueryRowContext(ctx, queryGetFxTrade, depositId).Scan(
		&t.Id, &t.DepositId, &t.FromCurrency, &t.ToCurrency, &amountIn, &rate, &effectiveRate,
		&t.SpreadBps, &amountReceived, &t.PartnerRef, &t.Simulated, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fx trade for deposit %s: %w", depositId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fx trade: %w", err)
	}

	for _, field := range []struct {
		dst *decimal.Decimal
		src string
	}{{&t.AmountIn, amountIn}, {&t.Rate, rate}, {&t.EffectiveRate, effectiveRate}, {&t.AmountReceived, amountReceived}} {
		if *field.dst, err = decimal.NewFromString(field.src); err != nil {
			return nil, fmt.Errorf("failed to parse fx trade amount '%s': %w", field.src, err)
		}
	}
	return &t, nil
}

func (s *Service) SaveMintJob(ctx context.Context, job *models.MintJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireDeposit(ctx, tx, job.DepositId); err != nil {
		return err
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err = tx.ExecContext(ctx, queryUpsertMintJob,
		job.DepositId, job.Id, job.Stablecoin, job.Amount.String(), job.Status, job.ProviderTxId,
		job.IdempotencyKey, job.FailureReason, job.CreatedAt.UTC(), job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save mint job: %w", err)
	}
	return tx.Commit()
}

func (s *Service) GetMintJob(ctx context.Context, depositId string) (*models.MintJob, error) {
	var j models.MintJob
	var amountStr string
	err := s.db.QueryRowContext(ctx, queryGetMintJob, depositId).Scan(
		&j.Id, &j.DepositId, &j.Stablecoin, &amountStr, &j.Status, &j.ProviderTxId,
		&j.IdempotencyKey, &j.FailureReason, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mint job for deposit %s: %w", depositId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mint job: %w", err)
	}

	if j.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse mint amount '%s': %w", amountStr, err)
	}
	return &j, nil
}

func (s *Service) DeleteMintJob(ctx context.Context, depositId string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteMintJob, depositId); err != nil {
		return fmt.Errorf("failed to delete mint job: %w", err)
	}
	return nil
}
