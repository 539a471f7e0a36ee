package mint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

func newCircleServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req circleTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Token != "USDC" || req.Amount.Currency != "USD" || req.Amount.Amount != "99.6" || req.Destination.Address != "0xtreasury" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"tr_1","status":"pending"}}`))
	})
	mux.HandleFunc("/v1/transfers/tr_1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":"tr_1","status":"complete"}}`))
	})
	mux.HandleFunc("/v1/transfers/tr_bad", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":"tr_bad","status":"failed","failureReason":"insufficient_funds"}}`))
	})
	mux.HandleFunc("/v1/businessAccount/balances", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"available":[{"amount":"10.50","currency":"USD"},{"amount":"3.00","currency":"EUR"}]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCircleClient(t *testing.T) {
	srv := newCircleServer(t)
	treasury := map[models.Stablecoin]string{models.USDC: "0xtreasury"}
	client := NewCircleClient("test-key", srv.URL+"/v1/", treasury, srv.Client())
	ctx := context.Background()

	result, err := client.CreateTransfer(ctx, models.USDC, decimal.RequireFromString("99.60"), "convert:dep_1")
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if result.ProviderTxId != "tr_1" || result.Status != models.MintPending {
		t.Errorf("unexpected result %+v", result)
	}

	settlement, err := client.TransferStatus(ctx, "tr_1")
	if err != nil {
		t.Fatalf("TransferStatus: %v", err)
	}
	if settlement.Status != models.MintComplete {
		t.Errorf("status = %s, want complete", settlement.Status)
	}

	settlement, err = client.TransferStatus(ctx, "tr_bad")
	if err != nil {
		t.Fatalf("TransferStatus: %v", err)
	}
	if settlement.Status != models.MintFailed || settlement.FailureReason != "insufficient_funds" {
		t.Errorf("unexpected settlement %+v", settlement)
	}

	if _, err := client.TransferStatus(ctx, "tr_missing"); !errors.Is(err, ErrUnknownTransfer) {
		t.Errorf("expected ErrUnknownTransfer, got %v", err)
	}

	if _, err := client.CreateTransfer(ctx, models.EURC, decimal.NewFromInt(1), "k"); err == nil {
		t.Error("expected error without an EURC treasury address")
	}

	balances, err := client.Balances(ctx)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if !balances["USD"].Equal(decimal.RequireFromString("10.5")) || !balances["EUR"].Equal(decimal.NewFromInt(3)) {
		t.Errorf("unexpected balances %v", balances)
	}
}

func TestCircleClient_WithService(t *testing.T) {
	srv := newCircleServer(t)
	treasury := map[models.Stablecoin]string{models.USDC: "0xtreasury"}
	client := NewCircleClient("test-key", srv.URL+"/v1", treasury, srv.Client())
	svc := NewService(client, nil, fastOptions())

	result, err := svc.Mint(context.Background(), models.USDC, decimal.RequireFromString("99.60"), "convert:dep_1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := svc.WaitUntilSettled(context.Background(), result.ProviderTxId); err != nil {
		t.Fatalf("WaitUntilSettled: %v", err)
	}
}
