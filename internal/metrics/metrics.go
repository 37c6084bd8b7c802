// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScenarioResultsTotal counts harness scenario outcomes
	ScenarioResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmutcp_scenario_results_total",
			Help: "Total number of conformance scenarios by outcome",
		},
		[]string{"scenario", "outcome"},
	)

	// ScenarioDurationSeconds measures scenario wall time
	ScenarioDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cmutcp_scenario_duration_seconds",
			Help:    "Duration of conformance scenarios in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
		},
		[]string{"scenario"},
	)

	// ProbeSegmentsTotal counts crafted segments sent and replies received
	ProbeSegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmutcp_probe_segments_total",
			Help: "Total number of CMU-TCP segments exchanged by the harness",
		},
		[]string{"direction"},
	)

	// AnalyzedPacketsTotal counts trace packets by analyzer outcome
	AnalyzedPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmutcp_analyzed_packets_total",
			Help: "Total number of trace packets seen by the analyzer",
		},
		[]string{"outcome"},
	)

	// CapturedFramesTotal counts frames written by live capture
	CapturedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmutcp_captured_frames_total",
			Help: "Total number of frames captured",
		},
		[]string{"interface"},
	)

	// ReporterErrorsTotal counts reporter errors by name
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmutcp_reporter_errors_total",
			Help: "Total number of result reporter errors",
		},
		[]string{"reporter"},
	)
)

// Analyzer outcomes
const (
	OutcomeProcessed   = "processed"
	OutcomeNotProtocol = "not_protocol"
	OutcomeMalformed   = "malformed"
	OutcomeIgnored     = "ignored"
)

// Probe directions
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)
