// Package handler exposes the conversion and ledger services over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"deposit-convert-go/internal/api"
	"deposit-convert-go/internal/conversion"
	"deposit-convert-go/internal/fx"
	"deposit-convert-go/internal/mint"
	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	orchestrator *conversion.Orchestrator
	ledger       *api.LedgerService
	quotes       fx.Provider
	minter       *mint.Service
}

func NewHandler(orchestrator *conversion.Orchestrator, ledger *api.LedgerService, quotes fx.Provider, minter *mint.Service) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		ledger:       ledger,
		quotes:       quotes,
		minter:       minter,
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestId string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps domain errors to status codes. Unexpected errors are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: message, RequestId: middleware.GetReqID(r.Context())})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, conversion.ErrInvalidPayload), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversion.ErrNotRetryable), errors.Is(err, mint.ErrBackendUnavailable):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnsupportedCurrency):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// triggered tags the request context with who asked for the conversion
func triggered(r *http.Request, source string) *http.Request {
	return r.WithContext(models.WithTriggerContext(r.Context(), &models.TriggerContext{
		Source:    source,
		RequestId: middleware.GetReqID(r.Context()),
	}))
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
