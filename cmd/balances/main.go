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

package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"deposit-convert-go/internal/api"
	"deposit-convert-go/internal/common"
	"deposit-convert-go/internal/config"
	"deposit-convert-go/internal/models"

	"go.uber.org/zap"
)

type reportStats struct {
	totalUsers   int
	usersFunded  int
	driftedUsers int
}

func formatReference(ref string) string {
	if ref == "" {
		return "none"
	}
	if len(ref) > 24 {
		return ref[:24] + "..."
	}
	return ref
}

func printEntry(entry models.JournalEntry, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	fmt.Printf("%s %-8s %-6s %18s -> %18s  ref: %s  %s\n",
		symbol,
		entry.Type,
		entry.Token,
		entry.Signed().StringFixed(models.TokenPlaces),
		entry.BalanceAfter.StringFixed(models.TokenPlaces),
		formatReference(entry.Metadata.Reference),
		entry.Timestamp.Format("2006-01-02 15:04:05"))
}

func printUserHeader(balance *models.Balance) {
	fmt.Printf("\n┌─ User: %s\n", balance.UserId)
	fmt.Printf("│  %s\n", common.FormatToken(balance.USDC, models.USDC))
	fmt.Printf("│  %s\n", common.FormatToken(balance.EURC, models.EURC))
	common.PrintSeparator("─", common.WideWidth)
}

func processUser(ctx context.Context, ledger *api.LedgerService, userId string, history int, reconcile bool, stats *reportStats) error {
	balance, err := ledger.GetUserBalance(ctx, userId)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}

	stats.totalUsers++
	if balance.USDC.IsPositive() || balance.EURC.IsPositive() {
		stats.usersFunded++
	}
	printUserHeader(balance)

	if history > 0 {
		entries, err := ledger.GetTransactionHistory(ctx, userId, history, 0)
		if err != nil {
			return fmt.Errorf("failed to get journal: %w", err)
		}
		for i, entry := range entries {
			printEntry(entry, i == len(entries)-1)
		}
	}

	if reconcile {
		result, err := ledger.Reconcile(ctx, userId)
		if err != nil {
			return fmt.Errorf("failed to reconcile: %w", err)
		}
		if result.Consistent() {
			fmt.Printf("   reconciled %d entries, no drift\n", result.Entries)
		} else {
			stats.driftedUsers++
			for token, drift := range result.Drift {
				fmt.Printf("   DRIFT %s: stored - replayed = %s\n", token, drift.String())
			}
		}
	}
	return nil
}

func printTotals(ctx context.Context, ledger *api.LedgerService) error {
	totals, err := ledger.GetSystemTotals(ctx)
	if err != nil {
		return err
	}
	fmt.Println()
	for i, token := range models.Stablecoins {
		fmt.Printf("%s total %s\n", common.BoxPrefix(i == len(models.Stablecoins)-1), common.FormatToken(totals[token], token))
	}
	return nil
}

func main() {
	ctx := context.Background()

	usersFlag := flag.String("users", "", "Comma separated user ids to report on (default: system totals only)")
	historyFlag := flag.Int("history", 10, "Number of recent journal entries to show per user")
	reconcileFlag := flag.Bool("reconcile", false, "Replay each user's journal and report drift")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	logger.Info("Starting balance query", zap.String("ledger_backend", cfg.Storage.LedgerBackend))

	// read-only, so no quote, mint or claim services
	stores, err := common.InitializeStores(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize stores", zap.Error(err))
	}
	defer stores.Close()

	ledger := api.NewLedgerService(stores.Ledger, stores.Deposits)

	common.PrintHeader("USER BALANCE REPORT", common.WideWidth)

	stats := reportStats{}
	for _, userId := range strings.Split(*usersFlag, ",") {
		userId = strings.TrimSpace(userId)
		if userId == "" {
			continue
		}
		if err := processUser(ctx, ledger, userId, *historyFlag, *reconcileFlag, &stats); err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", userId),
				zap.Error(err))
		}
	}

	if err := printTotals(ctx, ledger); err != nil {
		logger.Error("Failed to get system totals", zap.Error(err))
	}

	summary := fmt.Sprintf("SUMMARY: %d users queried, %d holding tokens, %d with drift",
		stats.totalUsers, stats.usersFunded, stats.driftedUsers)
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_funded", stats.usersFunded),
		zap.Int("users_drifted", stats.driftedUsers))
}
