package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	purchasesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purchases_created_total",
			Help: "Total number of purchases created.",
		},
	)

	// purchaseRejections counts failed creations and updates by reason
	// ("invalid_purchase", "invalid_item").
	purchaseRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_rejected_total",
			Help: "Total number of purchase requests rejected by validation.",
		},
		[]string{"reason"},
	)

	purchaseAmount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "purchase_total_amount",
			Help:    "Distribution of purchase totals.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(purchasesCreated, purchaseRejections, purchaseAmount)
}

func observeRejection(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidItem):
		purchaseRejections.WithLabelValues("invalid_item").Inc()
	default:
		purchaseRejections.WithLabelValues("invalid_purchase").Inc()
	}
}
