// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: July 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry exposes Prometheus counters and histograms for the
// pipeline's per-request outcomes, adapted from the churn exporter's
// global-counter-registered-in-init pattern.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts pipeline outcomes by how the request was resolved.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_requests_total",
		Help: "Total requests handled by the intercept pipeline, labeled by outcome.",
	}, []string{"outcome"})

	// RateLimitDenials counts denied requests by rule id.
	RateLimitDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_rate_limit_denials_total",
		Help: "Total requests denied by a rate-limit rule.",
	}, []string{"rule_id"})

	// ModifierApplications counts modifier-rule applications by rule id.
	ModifierApplications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_modifier_applications_total",
		Help: "Total times a response-modifier rule was applied.",
	}, []string{"rule_id"})

	// LatencyInjectedMs observes injected delay distribution.
	LatencyInjectedMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "devproxy_latency_injected_ms",
		Help:    "Distribution of injected latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})

	// UpstreamErrors counts forwarder failures surfaced as 502s.
	UpstreamErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devproxy_upstream_errors_total",
		Help: "Total upstream forwarding failures surfaced as 502 responses.",
	})

	// RecordingsOpen reports the current in-flight (incomplete) record count.
	RecordingsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devproxy_recordings_open",
		Help: "Current number of in-flight recordings awaiting a response.",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RateLimitDenials,
		ModifierApplications,
		LatencyInjectedMs,
		UpstreamErrors,
		RecordingsOpen,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
