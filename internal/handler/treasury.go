package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"deposit-convert-go/internal/models"

	"go.uber.org/zap"
)

// GetQuote prices an amount between two supported currencies without committing it
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from := models.FiatCurrency(strings.ToUpper(query.Get("from")))
	to := models.FiatCurrency(strings.ToUpper(query.Get("to")))
	if to == "" {
		to = models.USD
	}
	if !from.IsSupported() || !to.IsSupported() {
		writeError(w, r, fmt.Errorf("%w: unsupported currency pair %s-%s", errBadRequest, from, to))
		return
	}

	amount, err := models.ParseAmount(query.Get("amount"))
	if err != nil {
		writeError(w, r, errors.Join(errBadRequest, err))
		return
	}

	quote, err := h.quotes.Quote(r.Context(), from, to, amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) GetMintDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.minter.Diagnostics())
}

// ToggleMintSimulation switches minting between the simulator and the live backend
func (h *Handler) ToggleMintSimulation(w http.ResponseWriter, r *http.Request) {
	simulate, err := strconv.ParseBool(r.URL.Query().Get("simulate"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: simulate must be 1 or 0", errBadRequest))
		return
	}

	if err := h.minter.SetSimulateMode(simulate); err != nil {
		writeError(w, r, err)
		return
	}
	zap.L().Warn("Mint simulate mode toggled over HTTP",
		zap.Bool("simulate", simulate),
		zap.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusOK, h.minter.Diagnostics())
}

func (h *Handler) GetTreasuryBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.minter.TreasuryBalances(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}
