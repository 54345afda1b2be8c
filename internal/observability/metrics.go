package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScoresComputedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_parking", Name: "scores_computed_total", Help: "Compatibility scores computed"},
		[]string{"kind"},
	)
	ScoreCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_parking", Name: "score_cache_hits_total", Help: "Score cache hits"})

	ClaimsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_parking", Name: "spot_claims_total", Help: "Successful spot claims"})
	ConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_parking", Name: "spot_claim_conflicts_total", Help: "Spot claim conflicts"})

	RentalTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_parking", Name: "rental_transitions_total", Help: "Rental state transitions"},
		[]string{"from", "to"},
	)
	ReassignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_parking", Name: "reassignments_total", Help: "Reassignment outcomes"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_parking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campus_parking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
