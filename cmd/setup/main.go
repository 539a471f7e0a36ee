package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"deposit-convert-go/internal/common"
	"deposit-convert-go/internal/config"
	"deposit-convert-go/internal/fx"

	"go.uber.org/zap"
)

// writeRates seeds the simulated rate file unless one already exists
func writeRates(ratesFile string, force bool) error {
	if _, err := os.Stat(ratesFile); err == nil && !force {
		zap.L().Info("Rates file already exists, keeping it", zap.String("file", ratesFile))
		return nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unable to stat %s: %w", ratesFile, err)
	}

	if err := common.WriteRateTable(ratesFile, fx.DefaultRates()); err != nil {
		return err
	}
	zap.L().Info("Wrote default simulated rates", zap.String("file", ratesFile))
	return nil
}

// checkTreasury verifies the mint backend answers and prints what it holds
func checkTreasury(ctx context.Context, services *common.Services) error {
	diagnostics := services.Minter.Diagnostics()
	fmt.Printf("Mint backend: %s (simulate=%t, key %s)\n",
		diagnostics.Backend, diagnostics.Simulate, diagnostics.ApiKeyPreview)

	balances, err := services.Minter.TreasuryBalances(ctx)
	if err != nil {
		return fmt.Errorf("failed to read treasury balances: %w", err)
	}

	assets := make([]string, 0, len(balances))
	for asset := range balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for i, asset := range assets {
		fmt.Printf("%s %-6s %s\n", common.BoxPrefix(i == len(assets)-1), asset, balances[asset].String())
	}
	return nil
}

func main() {
	ctx := context.Background()

	ratesFlag := flag.String("rates", "rates.yaml", "Path of the simulated FX rates file to create")
	forceFlag := flag.Bool("force", false, "Overwrite an existing rates file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	common.PrintHeader("DEPOSIT CONVERSION SETUP", common.DefaultWidth)

	if err := writeRates(*ratesFlag, *forceFlag); err != nil {
		zap.L().Fatal("Failed to write rates file", zap.Error(err))
	}
	cfg.Fx.RatesFile = *ratesFlag

	// Initializing the services creates the SQLite schema or the Formance ledger as configured
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := services.LedgerService.HealthCheck(ctx); err != nil {
		zap.L().Fatal("Ledger health check failed", zap.Error(err))
	}
	fmt.Printf("Deposits: %s, ledger: %s, idempotency: %s\n",
		cfg.Storage.DepositBackend, cfg.Storage.LedgerBackend, cfg.Idempotency.Backend)

	if err := checkTreasury(ctx, services); err != nil {
		zap.L().Error("Treasury check failed", zap.Error(err))
	}

	common.PrintFooter("Setup complete", common.DefaultWidth)
}
