// Package metrics registers the daemon's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal counts fetch attempts by source kind and outcome
	// (success, error, empty).
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketd",
		Name:      "fetch_total",
		Help:      "Fetch attempts by source kind and outcome.",
	}, []string{"kind", "outcome"})

	// InsertsTotal counts persisted records by record type.
	InsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketd",
		Name:      "inserts_total",
		Help:      "Records persisted, by record type.",
	}, []string{"type"})

	// SnapshotRebuilds counts actual snapshot rebuilds (throttled calls
	// excluded).
	SnapshotRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketd",
		Name:      "snapshot_rebuilds_total",
		Help:      "Snapshot rebuilds executed.",
	})

	// SnapshotEntries and SnapshotNews track the live snapshot sizes.
	SnapshotEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketd",
		Name:      "snapshot_entries",
		Help:      "Data entries in the live snapshot.",
	})
	SnapshotNews = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketd",
		Name:      "snapshot_news",
		Help:      "News items in the live snapshot.",
	})
)
