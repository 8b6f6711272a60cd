// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for session operations.
var (
	tracer = otel.Tracer("prover.session")
	meter  = otel.Meter("prover.session")
)

var (
	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// Wire-level counters, scraped by the watch command.
var (
	malformedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prover_session_malformed_lines_total",
		Help: "Total inbound lines that failed to decode",
	})

	lateResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prover_session_late_responses_total",
		Help: "Total responses discarded because their request was abandoned",
	})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prover_session_notifications_total",
		Help: "Total unsolicited responses by kind",
	}, []string{"kind"})
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"prover_request_duration_seconds",
			metric.WithDescription("Duration from write to response of prover requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"prover_request_total",
			metric.WithDescription("Total number of prover requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startSendSpan(ctx context.Context, sessionID, command string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Session.Send",
		trace.WithAttributes(
			attribute.String("prover.session_id", sessionID),
			attribute.String("prover.command", command),
		),
	)
}

// recordRequest records one completed Send. outcome is the response kind
// or a failure class such as "timeout".
func recordRequest(ctx context.Context, command, outcome string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	)
	requestLatency.Record(ctx, duration.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}
