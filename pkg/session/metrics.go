package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	// decisionsTotal counts submitted decisions.
	// Labels: outcome (applied, redundant, self_comparison, contradiction)
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pairsort",
		Subsystem: "session",
		Name:      "decisions_total",
		Help:      "Decisions submitted, by outcome",
	}, []string{"outcome"})

	// statusDuration measures sort replays that missed the cache.
	// Labels: strategy
	statusDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pairsort",
		Subsystem: "session",
		Name:      "status_duration_seconds",
		Help:      "Time to compute a sort status",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"strategy"})

	// statusCacheLookups counts status cache results.
	// Labels: result (hit, miss)
	statusCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pairsort",
		Subsystem: "session",
		Name:      "status_cache_lookups_total",
		Help:      "Status cache lookups, by result",
	}, []string{"result"})

	listsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairsort",
		Subsystem: "session",
		Name:      "lists_created_total",
		Help:      "Lists created",
	})

	undoTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairsort",
		Subsystem: "session",
		Name:      "undo_total",
		Help:      "Decisions undone",
	})
)
