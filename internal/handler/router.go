package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/smmpanel/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware SMM-панели.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", custommiddleware.RequestIDHeader},
			ExposedHeaders:   []string{"Link", custommiddleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/services", h.ListServices)
	r.With(custommiddleware.RequireSignature(h.webhookSecret)).Post("/api/payments/webhook", h.PaymentWebhook)

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Get("/verify", h.VerifyEmail)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/me", h.Me)
			r.Post("/verification", h.ResendVerification)

			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
			r.Post("/deposits", h.RequestDeposit)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.GetOrders)
			r.Post("/orders/{id}/refresh", h.RefreshOrder)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.AdminOnly)

		r.Post("/catalog/sync", h.SyncCatalog)
		r.Post("/services/{id}/activate", h.ActivateService)
		r.Post("/services/{id}/deactivate", h.DeactivateService)

		r.Get("/providers", h.ListProviders)
		r.Get("/providers/balance", h.ProviderBalances)

		r.Get("/deposits/pending", h.PendingDeposits)
		r.Post("/deposits/{id}/approve", h.ApproveDeposit)
		r.Post("/deposits/{id}/reject", h.RejectDeposit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
