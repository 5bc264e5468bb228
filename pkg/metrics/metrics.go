// Package metrics holds the Prometheus collectors exported by origin-guard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Verdicts counts classifications by verdict.
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "origin_guard",
		Name:      "verdicts_total",
		Help:      "Announcements classified against the decision trie, by verdict.",
	}, []string{"verdict"})

	// EvidenceRecords counts ingested evidence rows by outcome: inserted or
	// the reason they were skipped.
	EvidenceRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "origin_guard",
		Name:      "evidence_records_total",
		Help:      "Evidence records read by the ingestor, by status.",
	}, []string{"status"})

	// ScoredPairs counts PO pairs pushed through the cloud model.
	ScoredPairs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "origin_guard",
		Name:      "scored_pairs_total",
		Help:      "PO pairs scored by the cloud uncertainty model.",
	})

	// ClassifyDuration observes the latency of a single classification.
	ClassifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "origin_guard",
		Name:      "classify_duration_seconds",
		Help:      "Time spent classifying one announcement.",
		Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10), // 1us to ~260ms
	})

	// AlertsSuppressed counts hijack alerts dropped as repeats.
	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "origin_guard",
		Name:      "alerts_suppressed_total",
		Help:      "Hijack alerts suppressed because the same pair alerted recently.",
	})

	// DuplicateUpdates counts live announcements dropped by the dedup filter.
	DuplicateUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "origin_guard",
		Name:      "duplicate_updates_total",
		Help:      "Live announcements dropped as duplicates across collectors.",
	})
)
