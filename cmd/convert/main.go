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
	"deposit-convert-go/internal/models"

	"go.uber.org/zap"
)

type convertRequest struct {
	depositId string
	retry     bool
	payload   models.DepositWebhookPayload
}

func parseAndValidateFlags() (*convertRequest, error) {
	depositFlag := flag.String("deposit", "", "Existing deposit id to convert")
	retryFlag := flag.Bool("retry", false, "Retry a failed deposit (requires --deposit)")
	idFlag := flag.String("id", "", "Id for a new deposit (optional, generated when empty)")
	userFlag := flag.String("user", "", "User id for a new deposit")
	currencyFlag := flag.String("currency", "", "Currency of a new deposit (USD, EUR, GHS, AED, NGN)")
	amountFlag := flag.String("amount", "", "Amount of a new deposit")
	methodFlag := flag.String("method", string(models.PaymentBank), "Payment method of a new deposit")
	referenceFlag := flag.String("reference", "", "Payment reference of a new deposit (optional)")
	flag.Parse()

	if *depositFlag != "" {
		return &convertRequest{depositId: *depositFlag, retry: *retryFlag}, nil
	}
	if *retryFlag {
		return nil, fmt.Errorf("--retry requires --deposit")
	}
	if *userFlag == "" || *currencyFlag == "" || *amountFlag == "" {
		return nil, fmt.Errorf("either --deposit or all of --user, --currency, --amount are required")
	}

	amount, err := models.ParseAmount(*amountFlag)
	if err != nil {
		return nil, err
	}

	return &convertRequest{
		payload: models.DepositWebhookPayload{
			Id:               *idFlag,
			UserId:           *userFlag,
			Currency:         strings.ToUpper(*currencyFlag),
			Amount:           amount,
			PaymentMethod:    *methodFlag,
			PaymentReference: *referenceFlag,
		},
	}, nil
}

func run(ctx context.Context, services *common.Services, req *convertRequest) (*models.ConversionResponse, error) {
	switch {
	case req.retry:
		ctx = models.WithTriggerContext(ctx, &models.TriggerContext{Source: models.TriggerRetry})
		return services.Orchestrator.RetryConversion(ctx, req.depositId)
	case req.depositId != "":
		ctx = models.WithTriggerContext(ctx, &models.TriggerContext{Source: models.TriggerManual})
		return services.Orchestrator.ConvertDeposit(ctx, req.depositId)
	default:
		ctx = models.WithTriggerContext(ctx, &models.TriggerContext{Source: models.TriggerManual})
		return services.Orchestrator.HandleDepositWebhook(ctx, req.payload)
	}
}

func main() {
	ctx := context.Background()

	req, err := parseAndValidateFlags()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	if cfg.Storage.DepositBackend == common.BackendMemory && req.depositId != "" {
		zap.L().Warn("Deposit store is in memory, existing deposits are not visible to this process")
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	result, err := run(ctx, services, req)
	if err != nil {
		zap.L().Fatal("Conversion request failed", zap.Error(err))
	}

	common.PrintHeader("DEPOSIT CONVERSION", common.DefaultWidth)
	common.PrintConversion(result)

	balance, err := services.LedgerService.GetUserBalance(ctx, result.Deposit.UserId)
	if err != nil {
		zap.L().Error("Failed to read balance after conversion", zap.Error(err))
	} else {
		fmt.Printf("\nBalance: %s  %s\n",
			common.FormatToken(balance.USDC, models.USDC),
			common.FormatToken(balance.EURC, models.EURC))
	}

	outcome := "converted"
	if !result.Success {
		outcome = "failed: " + result.Error
	}
	common.PrintFooter(fmt.Sprintf("Deposit %s %s", result.Deposit.Id, outcome), common.DefaultWidth)
}
