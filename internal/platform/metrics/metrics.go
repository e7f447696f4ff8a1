package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chainvault/go-backend/pkg/models"
)

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainvault_settlements_total",
		Help: "Settlements completed, by program.",
	}, []string{"program"})

	settlementGross = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainvault_settlement_gross_units",
		Help:    "Gross amount settled per request.",
		Buckets: prometheus.ExponentialBuckets(1, 10, 12),
	}, []string{"program"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainvault_request_failures_total",
		Help: "Rejected requests, by program and reason.",
	}, []string{"program", "reason"})
)

// ObserveSettlement records a completed settlement.
func ObserveSettlement(receipt models.SettlementReceipt) {
	settlementsTotal.WithLabelValues(receipt.Program).Inc()
	settlementGross.WithLabelValues(receipt.Program).Observe(float64(receipt.Gross))
}

// CountFailure records a rejected request with a low-cardinality reason.
func CountFailure(program, reason string) {
	requestFailures.WithLabelValues(program, reason).Inc()
}
