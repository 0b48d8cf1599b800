package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/health"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/middleware"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/server"
)

// NewRouter mounts the stock and reservation API on the shared service router.
func NewRouter(stockHandler *StockHandler, probes *health.Handler, logger *slog.Logger) http.Handler {
	r := server.NewRouter("inventory", server.Config{}, probes, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		r.Post("/stock", stockHandler.ProvisionStock)
		r.Get("/stock/{productId}", stockHandler.GetStock)
		r.Post("/stock/{productId}/increase", stockHandler.IncreaseStock)
		r.Post("/stock/{productId}/decrease", stockHandler.DecreaseStock)
		r.Get("/stock/{productId}/history", stockHandler.ListHistory)

		r.Get("/reservations/{id}", stockHandler.GetReservation)
		r.Post("/reservations/{id}/cancel", stockHandler.CancelReservation)
	})

	return r
}
