package sweeper

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"deposit-convert-go/internal/memory"
	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

type fakeConverter struct {
	mu        sync.Mutex
	converted []string
	retried   []string
	fail      map[string]bool
	triggers  []string
}

func (c *fakeConverter) outcome(ctx context.Context, depositId string) (*models.ConversionResponse, error) {
	c.triggers = append(c.triggers, models.TriggerSource(ctx))
	if c.fail[depositId] {
		return nil, errors.New("store unavailable")
	}
	return &models.ConversionResponse{Success: true, Deposit: &models.Deposit{Id: depositId}}, nil
}

func (c *fakeConverter) ConvertDeposit(ctx context.Context, depositId string) (*models.ConversionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.converted = append(c.converted, depositId)
	return c.outcome(ctx, depositId)
}

func (c *fakeConverter) RetryConversion(ctx context.Context, depositId string) (*models.ConversionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retried = append(c.retried, depositId)
	return c.outcome(ctx, depositId)
}

func addDeposit(t *testing.T, deposits *memory.DepositStore, id string, status models.DepositStatus, attempts int, age time.Duration) {
	t.Helper()
	at := time.Now().UTC().Add(-age)
	err := deposits.CreateDeposit(context.Background(), &models.Deposit{
		Id:            id,
		UserId:        "user_1",
		Currency:      models.USD,
		Amount:        decimal.NewFromInt(10),
		Status:        status,
		PaymentMethod: models.PaymentCard,
		Attempts:      attempts,
		CreatedAt:     at,
		UpdatedAt:     at,
	})
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
}

func settings() models.SweeperConfig {
	return models.SweeperConfig{
		Enabled:         true,
		PollingInterval: time.Hour,
		PendingGrace:    time.Minute,
		RetryFailed:     true,
		MaxAttempts:     3,
		BackoffInitial:  time.Minute,
		BackoffMax:      time.Hour,
		CleanupInterval: time.Hour,
	}
}

func TestNew_Validation(t *testing.T) {
	deposits := memory.NewDepositStore()
	if _, err := New(Config{Deposits: deposits, Settings: settings()}); err == nil {
		t.Error("expected error without converter")
	}
	bad := settings()
	bad.PollingInterval = 0
	if _, err := New(Config{Deposits: deposits, Converter: &fakeConverter{}, Settings: bad}); err == nil {
		t.Error("expected error for zero polling interval")
	}
}

func TestSweep(t *testing.T) {
	deposits := memory.NewDepositStore()
	addDeposit(t, deposits, "stale_pending", models.DepositPending, 0, time.Hour)
	addDeposit(t, deposits, "fresh_pending", models.DepositPending, 0, time.Second)
	addDeposit(t, deposits, "failed_due", models.DepositFailed, 1, time.Hour)
	addDeposit(t, deposits, "failed_backoff", models.DepositFailed, 2, 90*time.Second)
	addDeposit(t, deposits, "failed_capped", models.DepositFailed, 3, 24*time.Hour)
	addDeposit(t, deposits, "converted", models.DepositConverted, 1, time.Hour)
	addDeposit(t, deposits, "processing", models.DepositProcessing, 1, time.Hour)

	converter := &fakeConverter{}
	s, err := New(Config{Deposits: deposits, Converter: converter, Settings: settings()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if !slices.Equal(converter.converted, []string{"stale_pending"}) {
		t.Errorf("converted = %v", converter.converted)
	}
	if !slices.Equal(converter.retried, []string{"failed_due"}) {
		t.Errorf("retried = %v", converter.retried)
	}
	if result.Pending != 1 || result.Retried != 1 || result.Converted != 2 || result.Skipped != 2 {
		t.Errorf("unexpected result %+v", result)
	}
	for _, trigger := range converter.triggers {
		if trigger != models.TriggerSweeper {
			t.Errorf("trigger = %q", trigger)
		}
	}

	// The fake converter leaves statuses untouched; the pending deposit is not swept again
	second, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(converter.converted) != 1 || second.Pending != 0 {
		t.Errorf("pending deposit swept twice: %v", converter.converted)
	}
	if len(converter.retried) != 2 {
		t.Errorf("failed deposit should stay eligible while its status is failed: %v", converter.retried)
	}

	s.attempted["stale_pending"] = time.Now().Add(-2 * time.Hour)
	s.cleanupAttempts()
	if s.recentlyAttempted("stale_pending") {
		t.Error("old attempt should be forgotten after cleanup")
	}
}

func TestSweep_RetryDisabled(t *testing.T) {
	deposits := memory.NewDepositStore()
	addDeposit(t, deposits, "failed_due", models.DepositFailed, 1, time.Hour)

	cfg := settings()
	cfg.RetryFailed = false
	converter := &fakeConverter{}
	s, err := New(Config{Deposits: deposits, Converter: converter, Settings: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(converter.retried) != 0 || !result.empty() {
		t.Errorf("failed deposits must not be retried when disabled: %+v", result)
	}
}

func TestSweep_CountsErrors(t *testing.T) {
	deposits := memory.NewDepositStore()
	addDeposit(t, deposits, "dep_1", models.DepositPending, 0, time.Hour)

	converter := &fakeConverter{fail: map[string]bool{"dep_1": true}}
	s, _ := New(Config{Deposits: deposits, Converter: converter, Settings: settings()})

	result, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Errors != 1 || result.Converted != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestRetryDue_Backoff(t *testing.T) {
	s, _ := New(Config{Deposits: memory.NewDepositStore(), Converter: &fakeConverter{}, Settings: settings()})
	now := time.Now()

	tests := []struct {
		name     string
		attempts int
		age      time.Duration
		want     bool
	}{
		{"first retry after initial delay", 1, time.Minute, true},
		{"first retry too early", 1, 30 * time.Second, false},
		{"second retry doubles", 2, 90 * time.Second, false},
		{"second retry after doubled delay", 2, 2 * time.Minute, true},
		{"attempt cap", 3, 24 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deposit := models.Deposit{Id: "dep", Attempts: tt.attempts, UpdatedAt: now.Add(-tt.age)}
			if got := s.retryDue(deposit, now); got != tt.want {
				t.Errorf("retryDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	deposits := memory.NewDepositStore()
	addDeposit(t, deposits, "dep_1", models.DepositPending, 0, time.Hour)

	converter := &fakeConverter{}
	s, _ := New(Config{Deposits: deposits, Converter: converter, Settings: settings()})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		converter.mu.Lock()
		n := len(converter.converted)
		converter.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if len(converter.converted) != 1 {
		t.Errorf("startup sweep should convert the pending deposit, got %v", converter.converted)
	}
}

func TestStart_Disabled(t *testing.T) {
	cfg := settings()
	cfg.Enabled = false
	s, _ := New(Config{Deposits: memory.NewDepositStore(), Converter: &fakeConverter{}, Settings: cfg})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
