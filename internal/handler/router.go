package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter mounts every endpoint. timeout bounds each request; conversions keep running
// past it and later callers get the recorded outcome.
func NewRouter(h *Handler, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware)
	r.Use(middleware.Recoverer)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/deposits", func(r chi.Router) {
			r.Post("/webhook", h.HandleDepositWebhook)
			r.Get("/stats", h.GetStats)
			r.Get("/{depositId}", h.GetDeposit)
			r.Post("/{depositId}/convert", h.ConvertDeposit)
			r.Post("/{depositId}/retry", h.RetryConversion)
		})

		r.Route("/users/{userId}", func(r chi.Router) {
			r.Get("/deposits", h.GetUserDeposits)
			r.Get("/history", h.GetUserHistory)
			r.Get("/balance", h.GetBalance)
			r.Get("/journal", h.GetJournal)
			r.Get("/reconcile", h.Reconcile)
		})

		r.Post("/transfers", h.Transfer)
		r.Get("/ledger/totals", h.GetSystemTotals)
		r.Get("/fx/quote", h.GetQuote)
		r.Get("/treasury/balances", h.GetTreasuryBalances)

		r.Route("/debug/mint", func(r chi.Router) {
			r.Get("/", h.GetMintDiagnostics)
			r.Post("/toggle", h.ToggleMintSimulation)
		})
	})

	return r
}

func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
