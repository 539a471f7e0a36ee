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

	"deposit-convert-go/internal/common"
	"deposit-convert-go/internal/config"
	"deposit-convert-go/internal/fx"
	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var localCurrencies = []models.FiatCurrency{models.GHS, models.AED, models.NGN}

func printQuote(quote *models.FxQuote, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	source := "partner"
	if quote.Simulated {
		source = "simulated"
	}
	fmt.Printf("%s %-16s → %-16s rate %-12s eff %-12s %4d bps  %s  %s\n",
		symbol,
		common.FormatFiat(quote.AmountIn, quote.From),
		common.FormatFiat(quote.AmountReceived, quote.To),
		quote.Rate.String(),
		quote.EffectiveRate.String(),
		quote.SpreadBps,
		source,
		quote.PartnerRef)
}

func quotePairs(from, to string) ([]fx.Pair, error) {
	target := models.FiatCurrency(strings.ToUpper(to))
	if target != models.USD && target != models.EUR {
		return nil, fmt.Errorf("target currency must be USD or EUR, got %q", to)
	}

	if from == "" {
		pairs := make([]fx.Pair, 0, len(localCurrencies))
		for _, c := range localCurrencies {
			pairs = append(pairs, fx.Pair{From: c, To: target})
		}
		return pairs, nil
	}

	source := models.FiatCurrency(strings.ToUpper(from))
	if !source.IsSupported() {
		return nil, fmt.Errorf("unsupported currency %q", from)
	}
	return []fx.Pair{{From: source, To: target}}, nil
}

func main() {
	ctx := context.Background()

	fromFlag := flag.String("from", "", "Currency to convert from (default: every local currency)")
	toFlag := flag.String("to", string(models.USD), "Currency to convert to (USD or EUR)")
	amountFlag := flag.String("amount", "100", "Amount to quote")
	flag.Parse()

	pairs, err := quotePairs(*fromFlag, *toFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		flag.Usage()
		return
	}
	amount, err := models.ParseAmount(*amountFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	quotes, err := common.InitializeQuotes(cfg.Fx)
	if err != nil {
		logger.Fatal("Failed to initialize quote service", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("FX QUOTES FOR %s", amount.StringFixed(models.FiatPlaces)), common.WideWidth)

	total := decimal.Zero
	quoted := 0
	for i, pair := range pairs {
		quote, err := quotes.Quote(ctx, pair.From, pair.To, amount)
		if err != nil {
			logger.Error("Failed to quote pair",
				zap.String("pair", pair.String()),
				zap.Error(err))
			continue
		}
		printQuote(quote, i == len(pairs)-1)
		total = total.Add(quote.AmountReceived)
		quoted++
	}

	common.PrintFooter(fmt.Sprintf("SUMMARY: %d of %d pairs quoted, %s %s receivable in total",
		quoted, len(pairs), total.StringFixed(models.FiatPlaces), strings.ToUpper(*toFlag)), common.WideWidth)
}
