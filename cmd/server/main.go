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
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deposit-convert-go/internal/common"
	"deposit-convert-go/internal/config"
	"deposit-convert-go/internal/handler"
	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/sweeper"

	"go.uber.org/zap"
)

// requestTimeout covers one quote, one mint call and the full settlement poll
func requestTimeout(cfg *models.Config) time.Duration {
	poll := time.Duration(cfg.Mint.PollAttempts) * cfg.Mint.PollInterval
	return cfg.Fx.Timeout + cfg.Mint.Timeout + poll
}

func main() {
	addrFlag := flag.String("addr", "", "Listen address (overrides HTTP_ADDR)")
	noSweep := flag.Bool("no-sweep", false, "Disable the background sweeper")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}
	if *noSweep {
		cfg.Sweeper.Enabled = false
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting deposit conversion server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("deposit_backend", cfg.Storage.DepositBackend),
		zap.String("ledger_backend", cfg.Storage.LedgerBackend),
		zap.String("mint_backend", cfg.Mint.Backend),
		zap.Bool("mint_simulate", cfg.Mint.Simulate))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	sw, err := sweeper.New(sweeper.Config{
		Deposits:  services.Deposits,
		Converter: services.Orchestrator,
		Settings:  cfg.Sweeper,
	})
	if err != nil {
		zap.L().Fatal("Failed to create sweeper", zap.Error(err))
	}
	if err := sw.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start sweeper", zap.Error(err))
	}

	h := handler.NewHandler(services.Orchestrator, services.LedgerService, services.Quotes, services.Minter)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(h, requestTimeout(cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received, stopping server...")
	case err := <-serverErr:
		if err != nil {
			zap.L().Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		sw.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Server stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Sweeper did not stop before shutdown timeout")
	}
	cancel()
}
