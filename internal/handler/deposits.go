package handler

import (
	"net/http"

	"deposit-convert-go/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HandleDepositWebhook stores an inbound payment and converts it before responding
func (h *Handler) HandleDepositWebhook(w http.ResponseWriter, r *http.Request) {
	var payload models.DepositWebhookPayload
	if err := decodeBody(w, r, &payload); err != nil {
		zap.L().Warn("Malformed deposit webhook",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		writeError(w, r, err)
		return
	}

	r = triggered(r, models.TriggerWebhook)
	result, err := h.orchestrator.HandleDepositWebhook(r.Context(), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ConvertDeposit(w http.ResponseWriter, r *http.Request) {
	r = triggered(r, models.TriggerManual)
	result, err := h.orchestrator.ConvertDeposit(r.Context(), chi.URLParam(r, "depositId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) RetryConversion(w http.ResponseWriter, r *http.Request) {
	r = triggered(r, models.TriggerRetry)
	result, err := h.orchestrator.RetryConversion(r.Context(), chi.URLParam(r, "depositId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	item, err := h.orchestrator.GetDeposit(r.Context(), chi.URLParam(r, "depositId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) GetUserDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.orchestrator.GetUserDeposits(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deposits)
}

func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.orchestrator.GetUserConversionHistory(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orchestrator.GetSystemStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
