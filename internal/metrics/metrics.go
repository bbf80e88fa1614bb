// Package metrics holds the Prometheus collectors for the refresh and tick loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshTotal counts refresh attempts by outcome (ok, prediction_failed, rejected)
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecoflow_refresh_total",
		Help: "Congestion refreshes by status",
	}, []string{"status"})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ecoflow_refresh_duration_seconds",
		Help:    "Wall time of a congestion refresh including prediction",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecoflow_snapshot_version",
		Help: "Version of the snapshot currently served",
	})

	Tick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecoflow_signal_tick",
		Help: "Current signal simulation tick",
	})

	UnassignedRoads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecoflow_unassigned_roads",
		Help: "Roads whose centroid falls outside every zone",
	})

	SkippedRoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecoflow_skipped_roads_total",
		Help: "Roads dropped during assignment because of invalid geometry",
	})

	PersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecoflow_persist_errors_total",
		Help: "Failed background writes of the road and zone tables",
	})
)
