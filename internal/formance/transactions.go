package formance

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. All entry metadata is set inside the script via
// set_tx_meta() so the Formance transaction is fully self-describing.
// ---------------------------------------------------------------------------

const numscriptEntryVars = `
  string $entry_id
  string $entry_type
  string $token
  string $amount_human
  string $balance_after
  string $deposit_id
  string $provider_tx_id
  string $fx_trade_id
  string $transfer_type
  string $counterparty_id
  string $extra
}
`

const numscriptEntryMeta = `
set_tx_meta("entry_id", $entry_id)
set_tx_meta("entry_type", $entry_type)
set_tx_meta("token", $token)
set_tx_meta("amount_human", $amount_human)
set_tx_meta("balance_after", $balance_after)
set_tx_meta("deposit_id", $deposit_id)
set_tx_meta("provider_tx_id", $provider_tx_id)
set_tx_meta("fx_trade_id", $fx_trade_id)
set_tx_meta("transfer_type", $transfer_type)
set_tx_meta("counterparty_id", $counterparty_id)
set_tx_meta("extra", $extra)
`

// numscriptCredit issues tokens from the treasury into a user account.
const numscriptCredit = `vars {
  asset $asset
  number $amount
  account $user_id` + numscriptEntryVars + `
send [$asset $amount] (
  source = @treasury:issuance allowing unbounded overdraft
  destination = @users:$user_id
)
` + numscriptEntryMeta

// numscriptDebit returns tokens to the treasury; the user account may not go negative.
const numscriptDebit = `vars {
  asset $asset
  number $amount
  account $user_id` + numscriptEntryVars + `
send [$asset $amount] (
  source = @users:$user_id
  destination = @treasury:issuance
)
` + numscriptEntryMeta

// journalPageSize bounds the transactions fetched for one user's journal
const journalPageSize = int64(1000)

// ---------------------------------------------------------------------------
// Ledger operations
// ---------------------------------------------------------------------------

// Credit moves tokens from the issuance account to the user.
func (s *Service) Credit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	return s.post(ctx, models.EntryCredit, userId, token, amount, meta)
}

// Debit moves tokens from the user back to the issuance account.
func (s *Service) Debit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	return s.post(ctx, models.EntryDebit, userId, token, amount, meta)
}

func (s *Service) post(ctx context.Context, entryType models.EntryType, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	if err := store.ValidateEntry(userId, token, amount); err != nil {
		return nil, err
	}
	precision := int32(precisionFor(token))
	if !amount.Equal(amount.Round(precision)) {
		return nil, fmt.Errorf("amount %s exceeds %s precision of %d places", amount.String(), token, precision)
	}

	unlock := s.lockUser(userId)
	defer unlock()

	current, err := s.GetBalance(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance before %s: %w", entryType, err)
	}
	before := current.Of(token)

	script := numscriptCredit
	after := before.Add(amount)
	if entryType == models.EntryDebit {
		if before.LessThan(amount) {
			return nil, &store.InsufficientFundsError{UserId: userId, Token: token, Available: before, Requested: amount}
		}
		script = numscriptDebit
		after = before.Sub(amount)
	}

	extra := ""
	if len(meta.Extra) > 0 {
		data, err := json.Marshal(meta.Extra)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry metadata: %w", err)
		}
		extra = string(data)
	}

	now := time.Now().UTC()
	entry := &models.JournalEntry{
		Id:           ulid.Make().String(),
		Timestamp:    now,
		Type:         entryType,
		UserId:       userId,
		Token:        token,
		Amount:       amount,
		BalanceAfter: after,
		Metadata:     meta,
	}

	postTx := shared.V2PostTransaction{
		Timestamp: &now,
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars: map[string]string{
				"asset":           formanceAsset(token),
				"amount":          amount.Shift(precision).BigInt().String(),
				"user_id":         userId,
				"entry_id":        entry.Id,
				"entry_type":      string(entryType),
				"token":           string(token),
				"amount_human":    amount.String(),
				"balance_after":   after.String(),
				"deposit_id":      meta.DepositId,
				"provider_tx_id":  meta.ProviderTxId,
				"fx_trade_id":     meta.FxTradeId,
				"transfer_type":   meta.TransferType,
				"counterparty_id": meta.CounterpartyId,
				"extra":           extra,
			},
		},
	}
	if meta.Reference != "" {
		postTx.Reference = strPtr(meta.Reference)
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, meta.Reference)
		}
		if isInsufficientFundError(err) {
			return nil, &store.InsufficientFundsError{UserId: userId, Token: token, Available: before, Requested: amount}
		}
		return nil, fmt.Errorf("error posting %s transaction: %w", entryType, err)
	}

	zap.L().Info("Journal entry recorded in Formance",
		zap.String("entry_id", entry.Id),
		zap.String("user_id", userId),
		zap.String("type", string(entryType)),
		zap.String("token", string(token)),
		zap.String("amount", amount.String()),
		zap.String("balance_after", after.String()))
	return entry, nil
}

// GetJournal returns every entry touching the user's account, oldest first.
func (s *Service) GetJournal(ctx context.Context, userId string) ([]models.JournalEntry, error) {
	account := userAccount(userId)
	pageSize := journalPageSize

	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$or": []any{
				map[string]any{"$match": map[string]any{"source": account}},
				map[string]any{"$match": map[string]any{"destination": account}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	cursor := resp.V2TransactionsCursorResponse.Cursor
	if cursor.HasMore {
		zap.L().Warn("Journal truncated to one page", zap.String("user_id", userId), zap.Int64("page_size", pageSize))
	}

	entries := make([]models.JournalEntry, 0, len(cursor.Data))
	for _, tx := range cursor.Data {
		entry, ok := entryFromTransaction(userId, tx)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}

	// Formance lists newest first
	slices.Reverse(entries)
	return entries, nil
}

// entryFromTransaction rebuilds a journal entry from a transaction's postings and metadata.
func entryFromTransaction(userId string, tx shared.V2Transaction) (models.JournalEntry, bool) {
	account := userAccount(userId)

	var entry models.JournalEntry
	for _, p := range tx.Postings {
		if p.Destination == account {
			entry.Type = models.EntryCredit
		} else if p.Source == account {
			entry.Type = models.EntryDebit
		} else {
			continue
		}
		entry.Token = models.Stablecoin(assetSymbol(p.Asset))
		entry.Amount = bigIntToDecimal(p.Amount, entry.Token)
		break
	}
	if entry.Type == "" {
		return entry, false
	}

	entry.Id = tx.Metadata["entry_id"]
	if entry.Id == "" {
		entry.Id = fmt.Sprintf("%d", tx.ID)
	}
	entry.UserId = userId
	entry.Timestamp = tx.Timestamp
	if after, err := decimal.NewFromString(tx.Metadata["balance_after"]); err == nil {
		entry.BalanceAfter = after
	}

	entry.Metadata = models.EntryMetadata{
		DepositId:      tx.Metadata["deposit_id"],
		ProviderTxId:   tx.Metadata["provider_tx_id"],
		FxTradeId:      tx.Metadata["fx_trade_id"],
		TransferType:   tx.Metadata["transfer_type"],
		CounterpartyId: tx.Metadata["counterparty_id"],
	}
	if tx.Reference != nil {
		entry.Metadata.Reference = *tx.Reference
	}
	if raw := tx.Metadata["extra"]; raw != "" {
		var extra map[string]string
		if err := json.Unmarshal([]byte(raw), &extra); err == nil {
			entry.Metadata.Extra = extra
		} else {
			zap.L().Warn("Ignoring malformed entry metadata", zap.String("entry_id", entry.Id), zap.Error(err))
		}
	}
	return entry, true
}

// assetSymbol extracts the symbol from a Formance asset like "USDC/6".
func assetSymbol(fAsset string) string {
	if i := strings.IndexByte(fAsset, '/'); i >= 0 {
		return fAsset[:i]
	}
	return fAsset
}

func strPtr(s string) *string { return &s }
