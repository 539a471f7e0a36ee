package handler

import (
	"net/http"

	"deposit-convert-go/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type transferRequest struct {
	FromUserId string            `json:"fromUserId"`
	ToUserId   string            `json:"toUserId"`
	Token      models.Stablecoin `json:"token"`
	Amount     decimal.Decimal   `json:"amount"`
	Reference  string            `json:"reference,omitempty"`
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.GetUserBalance(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// GetJournal returns a page of the user's journal, newest first
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.GetTransactionHistory(r.Context(), chi.URLParam(r, "userId"),
		queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.Reconcile(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.ledger.TransferBetweenUsers(r.Context(), req.FromUserId, req.ToUserId, req.Token, req.Amount, req.Reference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !result.Success {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetSystemTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.ledger.GetSystemTotals(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
