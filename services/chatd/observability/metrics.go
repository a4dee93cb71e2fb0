// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus metrics the chat daemon
// exports on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed chat turns by terminal status.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kodiak_chatd_turns_total",
		Help: "Total chat turns by terminal status (done, error)",
	}, []string{"status"})

	// TurnDuration tracks full turn latency from request to terminal event.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kodiak_chatd_turn_duration_seconds",
		Help:    "Chat turn duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2m
	})

	// TokensStreamed counts streamed tokens by kind (answer, reasoning).
	TokensStreamed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kodiak_chatd_tokens_streamed_total",
		Help: "Total tokens streamed to clients by kind",
	}, []string{"kind"})

	// ActiveStreams tracks chat generations currently in flight.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kodiak_chatd_active_streams",
		Help: "Chat generations currently in flight",
	})

	// VerificationRisk counts verified answers by assessed risk level.
	VerificationRisk = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kodiak_chatd_verification_risk_total",
		Help: "Verified answers by factual risk level",
	}, []string{"level"})

	// WebSearchesTotal counts web searches by provider and result.
	WebSearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kodiak_chatd_web_searches_total",
		Help: "Web searches by provider and result (ok, empty, error)",
	}, []string{"provider", "result"})

	// MemoryOpsTotal counts memory operations by kind.
	MemoryOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kodiak_chatd_memory_ops_total",
		Help: "Memory operations by kind (add, search, compress, auto)",
	}, []string{"kind"})

	// AttachmentsPurged counts attachments removed by the ttl scheduler.
	AttachmentsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kodiak_chatd_attachments_purged_total",
		Help: "File attachments removed by the expiry purge",
	})
)
