package common

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deposit-convert-go/internal/fx"
	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestRateTableRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")

	if err := WriteRateTable(path, fx.DefaultRates()); err != nil {
		t.Fatalf("WriteRateTable: %v", err)
	}
	table, err := LoadRateTable(path)
	if err != nil {
		t.Fatalf("LoadRateTable: %v", err)
	}

	rate, ok := table.Lookup(models.GHS, models.USD)
	if !ok || !rate.Mid.Equal(decimal.RequireFromString("15")) || rate.SpreadBps != 40 {
		t.Errorf("GHS-USD = %+v, %v", rate, ok)
	}
	if len(table) != len(fx.DefaultRates()) {
		t.Errorf("expected %d pairs, got %d", len(fx.DefaultRates()), len(table))
	}
}

func TestLoadRateTable_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"missing pair":     "rates:\n  - to: USD\n    mid: \"1\"\n",
		"bad mid":          "rates:\n  - from: GHS\n    to: USD\n    mid: abc\n",
		"negative mid":     "rates:\n  - from: GHS\n    to: USD\n    mid: \"-1\"\n",
		"unknown currency": "rates:\n  - from: XYZ\n    to: USD\n    mid: \"1\"\n",
		"not yaml":         "rates: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadRateTable(path); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := LoadRateTable(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestInitializeQuotes_RatesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	if err := WriteRateTable(path, fx.RateTable{
		{From: models.GHS, To: models.USD}: {Mid: decimal.NewFromInt(10), SpreadBps: 0},
	}); err != nil {
		t.Fatalf("WriteRateTable: %v", err)
	}

	quotes, err := InitializeQuotes(models.FxConfig{RatesFile: path})
	if err != nil {
		t.Fatalf("InitializeQuotes: %v", err)
	}
	quote, err := quotes.Quote(context.Background(), models.GHS, models.USD, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !quote.AmountReceived.Equal(decimal.NewFromInt(10)) {
		t.Errorf("amount received = %s, want 10", quote.AmountReceived)
	}
}

func memoryConfig() *models.Config {
	return &models.Config{
		Storage:     models.StorageConfig{DepositBackend: BackendMemory, LedgerBackend: BackendMemory},
		Mint:        models.MintConfig{Backend: BackendCircle, Simulate: true},
		Idempotency: models.IdempotencyConfig{Backend: BackendMemory, MaxKeys: 10},
	}
}

func TestInitializeServices_Memory(t *testing.T) {
	services, err := InitializeServices(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("InitializeServices: %v", err)
	}
	defer services.Close()

	if !services.Minter.SimulateMode() || services.Orchestrator == nil || services.LedgerService == nil {
		t.Errorf("unexpected services %+v", services)
	}
	if err := services.LedgerService.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestInitializeServices_SharedSqlite(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage = models.StorageConfig{DepositBackend: BackendSqlite, LedgerBackend: BackendSqlite}
	cfg.Database = models.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db"), MaxOpenConns: 1, MaxIdleConns: 1, PingTimeout: time.Second}

	services, err := InitializeServices(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitializeServices: %v", err)
	}
	defer services.Close()

	if any(services.Deposits) != any(services.Ledger) {
		t.Error("sqlite deposit store and ledger should share one handle")
	}
}

func TestInitializeStores_UnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.LedgerBackend = "postgres"
	if _, err := InitializeStores(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown ledger backend")
	}

	cfg = memoryConfig()
	cfg.Idempotency.Backend = "etcd"
	if _, err := InitializeServices(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown idempotency backend")
	}
}
