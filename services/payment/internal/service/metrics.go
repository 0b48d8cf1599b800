package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_charges_settled_total",
		Help: "Charges settled, by outcome",
	}, []string{"status"})

	outcomesRepublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_outcomes_republished_total",
		Help: "Stored outcomes republished for a redelivered order",
	})

	providerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_provider_errors_total",
		Help: "Charges whose outcome was unknown because the provider call failed",
	})
)
