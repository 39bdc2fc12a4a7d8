// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipvault_imports_total",
		Help: "Import requests by outcome",
	}, []string{"outcome"})

	IngestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipvault_ingestions_total",
		Help: "Background ingestion runs by final outcome",
	}, []string{"outcome"})

	IngestionStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipvault_ingestion_stage_duration_seconds",
		Help:    "Duration of each ingestion stage",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	ActiveIngestions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipvault_active_ingestions",
		Help: "Number of ingestion runs currently in flight",
	})

	CredentialRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipvault_credential_refreshes_total",
		Help: "Credential refreshes triggered by upstream 401 responses, by result",
	}, []string{"result"})

	OrphanDeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipvault_orphan_deletions_total",
		Help: "Queued provider asset deletions by result",
	}, []string{"result"})

	LifecycleOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipvault_lifecycle_operations_total",
		Help: "Trim, delete, edit and capture operations by result",
	}, []string{"operation", "result"})
)
