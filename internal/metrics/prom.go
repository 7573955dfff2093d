package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline run modes and outcomes used as label values.
const (
	ModeFull    = "full"
	ModePartial = "partial"

	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

var (
	// ObserversConnected tracks live observer connections.
	ObserversConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triage_observers_connected",
		Help: "Number of connected realtime observers",
	})

	// SessionsInFlight tracks sessions with a pipeline run in progress.
	SessionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triage_sessions_in_flight",
		Help: "Number of sessions with a pipeline run in flight",
	})

	// PipelineRuns counts runs by mode (full/partial) and outcome.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_pipeline_runs_total",
		Help: "Total pipeline runs by mode and outcome",
	}, []string{"mode", "outcome"})

	// StageDuration observes per-stage latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_stage_duration_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"stage"})

	// InterimDropped counts interim utterances shed because the session was busy
	// or the connection exceeded its inbound rate.
	InterimDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_interim_dropped_total",
		Help: "Interim utterances dropped by reason",
	}, []string{"reason"})

	// FallbackDecisions counts rule-based risk decisions by resulting tier.
	FallbackDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_fallback_decisions_total",
		Help: "Risk decisions made by the deterministic fallback",
	}, []string{"risk_level"})

	// InboundMessages counts realtime messages by type.
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_inbound_messages_total",
		Help: "Inbound realtime messages by type",
	}, []string{"type"})
)
