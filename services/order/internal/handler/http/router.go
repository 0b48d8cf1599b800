package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/health"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/middleware"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/server"
)

// NewRouter mounts the order intake API on the shared service router.
func NewRouter(orderHandler *OrderHandler, probes *health.Handler, logger *slog.Logger) http.Handler {
	r := server.NewRouter("order", server.Config{}, probes, logger)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		r.Post("/", orderHandler.CreateOrder)
		r.Get("/{id}", orderHandler.GetOrder)
	})

	return r
}
