package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservations_created_total",
		Help: "Reservations created",
	})

	reservationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_rejected_total",
		Help: "Reservation requests rejected, by error class",
	}, []string{"class"})

	reservationsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_settled_total",
		Help: "Reservations moved to a terminal status",
	}, []string{"status"})

	historyWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_history_write_failures_total",
		Help: "Stock history entries dropped after exhausting retries",
	})
)
