package keeper

import (
	"github.com/prometheus/client_golang/prometheus"
)

// --- Metrics ---

// Metrics holds all the Prometheus metrics for the keeper.
type Metrics struct {
	runsTotal          prometheus.Counter
	assetOutcomesTotal *prometheus.CounterVec
	stateReadDuration  *prometheus.HistogramVec
	borrowDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers the metrics for the keeper.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keeper_runs_total",
			Help: "Total number of convergence runs started.",
		}),
		assetOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_asset_outcomes_total",
			Help: "Terminal outcomes per asset, labeled by asset and outcome.",
		}, []string{"asset", "outcome"}),
		stateReadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keeper_state_read_duration_seconds",
			Help:    "Time taken to read one pool's state snapshot.",
			Buckets: prometheus.DefBuckets,
		}, []string{"asset"}),
		borrowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keeper_borrow_duration_seconds",
			Help:    "Time taken to submit and confirm one borrow transaction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"asset"}),
	}
	reg.MustRegister(m.runsTotal, m.assetOutcomesTotal, m.stateReadDuration, m.borrowDuration)
	return m
}
