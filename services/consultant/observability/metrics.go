// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// consultant service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring chat and
// audio ingest operations. Metrics include:
//   - Request counters (by endpoint, status)
//   - Retrieval outcome counters (found, none, degraded, skipped)
//   - Latency histograms (chat turns, audio processing)
//   - Cached session gauge
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "consultaudio"

// Subsystem for consultation metrics
const consultSubsystem = "consult"

// ConsultMetrics holds all Prometheus metrics for the consultant service.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring chat turns,
// retrieval outcomes, and audio ingest. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type ConsultMetrics struct {
	// RequestsTotal counts API requests by endpoint and status.
	// Labels: endpoint (chat, chat_direct, upload, search), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// RetrievalOutcomesTotal counts chat turns by retrieval outcome.
	// Labels: status (found, none, degraded, skipped)
	RetrievalOutcomesTotal *prometheus.CounterVec

	// ChatTurnSeconds measures end-to-end chat turn latency.
	// Labels: endpoint (chat, chat_direct), decision (no_action, invoke)
	ChatTurnSeconds *prometheus.HistogramVec

	// AudioProcessingSeconds measures the upload pipeline duration.
	// Labels: stage (transcribe_summarize, total)
	AudioProcessingSeconds *prometheus.HistogramVec

	// TokensTotal counts tokens processed by direction and endpoint.
	// Labels: direction (input, output), endpoint
	TokensTotal *prometheus.CounterVec

	// CachedSessions tracks the number of live conversation engines.
	CachedSessions prometheus.Gauge

	// ErrorsTotal counts errors by endpoint and error code.
	// Labels: endpoint, error_code (validation, not_found, llm_error, ...)
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of ConsultMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *ConsultMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *ConsultMetrics {
	DefaultMetrics = &ConsultMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: consultSubsystem,
				Name:      "requests_total",
				Help:      "Total number of API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		RetrievalOutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: consultSubsystem,
				Name:      "retrieval_outcomes_total",
				Help:      "Total chat turns by retrieval outcome",
			},
			[]string{"status"},
		),

		ChatTurnSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: consultSubsystem,
				Name:      "chat_turn_seconds",
				Help:      "End-to-end chat turn latency in seconds",
				Buckets:   []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint", "decision"},
		),

		AudioProcessingSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: consultSubsystem,
				Name:      "audio_processing_seconds",
				Help:      "Audio upload pipeline duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: consultSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction and endpoint",
			},
			[]string{"direction", "endpoint"},
		),

		CachedSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: consultSubsystem,
				Name:      "cached_sessions",
				Help:      "Number of conversation engines currently cached",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: consultSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates a missing resource.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeLLMError indicates LLM API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeRetrievalError indicates a vector store failure.
	ErrorCodeRetrievalError ErrorCode = "retrieval_error"

	// ErrorCodeProcessing indicates an audio pipeline failure.
	ErrorCodeProcessing ErrorCode = "processing"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed API request.
func (m *ConsultMetrics) RecordRequest(endpoint string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordError records a categorized error.
func (m *ConsultMetrics) RecordError(endpoint string, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(endpoint, string(code)).Inc()
}

// RecordRetrievalOutcome records the retrieval status of a chat turn.
func (m *ConsultMetrics) RecordRetrievalOutcome(status string) {
	m.RetrievalOutcomesTotal.WithLabelValues(status).Inc()
}

// RecordChatTurn records a chat turn's latency.
func (m *ConsultMetrics) RecordChatTurn(endpoint, decision string, seconds float64) {
	m.ChatTurnSeconds.WithLabelValues(endpoint, decision).Observe(seconds)
}

// RecordAudioProcessing records an ingest stage duration.
func (m *ConsultMetrics) RecordAudioProcessing(stage string, seconds float64) {
	m.AudioProcessingSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordTokens records one turn's token usage for an endpoint.
func (m *ConsultMetrics) RecordTokens(endpoint string, inputTokens, outputTokens int) {
	m.TokensTotal.WithLabelValues("input", endpoint).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", endpoint).Add(float64(outputTokens))
}

// SetCachedSessions updates the cached session gauge.
func (m *ConsultMetrics) SetCachedSessions(n int) {
	m.CachedSessions.Set(float64(n))
}
