// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover the defense pipeline (gate rejections, honeypot bans,
// policy blocks) and the answer path (KB hits, confidence levels,
// escalations, model latency). Exposed via the /metrics endpoint; use
// with Prometheus + Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics.
const metricsNamespace = "opsgw"

// GatewayMetrics holds all Prometheus metrics for the gateway.
// Initialize once at startup via InitMetrics().
type GatewayMetrics struct {
	// RequestsTotal counts handled requests by endpoint and status.
	// Labels: endpoint (chat, stt, issue, fallback), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// GateRejectionsTotal counts integrity-gate rejections by reason code.
	// Labels: endpoint, reason (missing_signature, signature_replay, ...)
	GateRejectionsTotal *prometheus.CounterVec

	// BansTotal counts honeypot bans issued, by the decoy field hit.
	// Labels: field
	BansTotal *prometheus.CounterVec

	// BannedRequestsTotal counts requests refused because of an active ban.
	// Labels: endpoint
	BannedRequestsTotal *prometheus.CounterVec

	// TurnstileRejectionsTotal counts turnstile failures by reason code.
	// Labels: reason (turnstile_required, turnstile_failed, ...)
	TurnstileRejectionsTotal *prometheus.CounterVec

	// PolicyBlocksTotal counts content-policy guard responses by severity.
	// Labels: severity (warn, terminate)
	PolicyBlocksTotal *prometheus.CounterVec

	// KBHitsTotal counts knowledge-base short-circuit answers.
	// Labels: language
	KBHitsTotal *prometheus.CounterVec

	// ConfidenceTotal counts replies by final confidence level.
	// Labels: level (low, medium, high)
	ConfidenceTotal *prometheus.CounterVec

	// EscalationsTotal counts premium-tier escalation attempts.
	// Labels: outcome (success, failure)
	EscalationsTotal *prometheus.CounterVec

	// ModelLatencySeconds measures model call latency.
	// Labels: operation (chat, transcribe), model
	ModelLatencySeconds *prometheus.HistogramVec

	// SignatureMintsTotal counts /auth/issue outcomes.
	// Labels: status (success, error, rate_limited)
	SignatureMintsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *GatewayMetrics

// InitMetrics creates and registers all gateway metrics. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total handled requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		GateRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gate_rejections_total",
				Help:      "Integrity-gate rejections by endpoint and reason code",
			},
			[]string{"endpoint", "reason"},
		),

		BansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "bans_total",
				Help:      "Honeypot bans issued, by decoy field",
			},
			[]string{"field"},
		),

		BannedRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "banned_requests_total",
				Help:      "Requests refused because the client IP is banned",
			},
			[]string{"endpoint"},
		),

		TurnstileRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "turnstile_rejections_total",
				Help:      "Turnstile verification failures by reason code",
			},
			[]string{"reason"},
		),

		PolicyBlocksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "policy_blocks_total",
				Help:      "Content-policy guard responses by severity",
			},
			[]string{"severity"},
		),

		KBHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "kb_hits_total",
				Help:      "Knowledge-base short-circuit answers by language",
			},
			[]string{"language"},
		),

		ConfidenceTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "confidence_total",
				Help:      "Chat replies by final confidence level",
			},
			[]string{"level"},
		),

		EscalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "escalations_total",
				Help:      "Premium-tier escalation attempts by outcome",
			},
			[]string{"outcome"},
		),

		ModelLatencySeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "model_latency_seconds",
				Help:      "Model call latency by operation and model",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"operation", "model"},
		),

		SignatureMintsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "signature_mints_total",
				Help:      "Signature mint outcomes on /auth/issue",
			},
			[]string{"status"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// All helpers are nil-safe so handlers can run in tests without
// initialized metrics.

// RecordRequest records a completed request.
func (m *GatewayMetrics) RecordRequest(endpoint string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordGateRejection records an integrity-gate rejection.
func (m *GatewayMetrics) RecordGateRejection(endpoint, reason string) {
	if m == nil {
		return
	}
	m.GateRejectionsTotal.WithLabelValues(endpoint, reason).Inc()
}

// RecordBan records a honeypot ban by the decoy field that triggered it.
func (m *GatewayMetrics) RecordBan(field string) {
	if m == nil {
		return
	}
	m.BansTotal.WithLabelValues(field).Inc()
}

// RecordBannedRequest records a request refused under an active ban.
func (m *GatewayMetrics) RecordBannedRequest(endpoint string) {
	if m == nil {
		return
	}
	m.BannedRequestsTotal.WithLabelValues(endpoint).Inc()
}

// RecordTurnstileRejection records a turnstile failure.
func (m *GatewayMetrics) RecordTurnstileRejection(reason string) {
	if m == nil {
		return
	}
	m.TurnstileRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordPolicyBlock records a guard response.
func (m *GatewayMetrics) RecordPolicyBlock(severity string) {
	if m == nil {
		return
	}
	m.PolicyBlocksTotal.WithLabelValues(severity).Inc()
}

// RecordKBHit records a knowledge-base answer.
func (m *GatewayMetrics) RecordKBHit(language string) {
	if m == nil {
		return
	}
	m.KBHitsTotal.WithLabelValues(language).Inc()
}

// RecordConfidence records the final confidence level of a reply.
func (m *GatewayMetrics) RecordConfidence(level string) {
	if m == nil {
		return
	}
	m.ConfidenceTotal.WithLabelValues(level).Inc()
}

// RecordEscalation records an escalation attempt outcome.
func (m *GatewayMetrics) RecordEscalation(success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.EscalationsTotal.WithLabelValues(outcome).Inc()
}

// RecordModelLatency records one model call.
func (m *GatewayMetrics) RecordModelLatency(operation, model string, seconds float64) {
	if m == nil {
		return
	}
	m.ModelLatencySeconds.WithLabelValues(operation, model).Observe(seconds)
}

// RecordSignatureMint records a /auth/issue outcome.
func (m *GatewayMetrics) RecordSignatureMint(status string) {
	if m == nil {
		return
	}
	m.SignatureMintsTotal.WithLabelValues(status).Inc()
}
