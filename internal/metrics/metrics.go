// Package metrics registers the Prometheus collectors for the protocol
// engine. Collectors are registered once at package init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolHealthFactor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vestazk_pool_health_factor",
		Help: "Aggregate pool health factor, scaled by 1e6",
	})

	PoolCollateralUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vestazk_pool_collateral_usd",
		Help: "Total pool collateral value in USD (1e6 units)",
	})

	PoolDebtUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vestazk_pool_debt_usd",
		Help: "Total pool debt value in USD (1e6 units)",
	})

	CommitmentCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vestazk_commitment_count",
		Help: "Number of leaves in the commitment tree",
	})

	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vestazk_actions_total",
		Help: "Protocol actions by kind and terminal status",
	}, []string{"kind", "status"})

	ProofRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vestazk_proof_requests_total",
		Help: "Proof backend requests by outcome",
	}, []string{"outcome"})

	ProofDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vestazk_proof_duration_seconds",
		Help:    "Proof generation latency",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
