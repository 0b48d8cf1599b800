package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/health"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/server"
)

// NewRouter mounts the payment lookup API on the shared service router.
func NewRouter(paymentHandler *PaymentHandler, probes *health.Handler, logger *slog.Logger) http.Handler {
	r := server.NewRouter("payment", server.Config{}, probes, logger)

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Get("/{id}", paymentHandler.GetPayment)
		r.Get("/order/{orderId}", paymentHandler.GetPaymentByOrder)
	})

	return r
}
