package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch and ledger outcome counters. Labels carry the terminal outcome so
// dashboards can track assignment and payout health.
var (
	RideRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_ride_requests_total",
		Help: "Number of ride requests received",
	})

	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_outcomes_total",
		Help: "Terminal dispatch outcomes per ride request",
	}, []string{"outcome"}) // assigned, no_drivers, error

	OfferResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_offer_results_total",
		Help: "Per-driver offer results",
	}, []string{"result"}) // accepted, rejected, timeout, conflict

	PayoutResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payout_results_total",
		Help: "Payout attempt results",
	}, []string{"result"}) // completed, failed, cancelled

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_sweep_runs_total",
		Help: "Automatic payout sweep executions",
	})
)
