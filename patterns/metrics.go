// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for pattern matching.
var (
	tracer = otel.Tracer("aleutian.cpg.patterns")
	meter  = otel.Meter("aleutian.cpg.patterns")
)

// Metrics for pattern runs.
var (
	matchLatency metric.Float64Histogram
	matchesTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		matchLatency, err = meter.Float64Histogram(
			"pattern_match_duration_seconds",
			metric.WithDescription("Duration of pattern runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		matchesTotal, err = meter.Int64Counter(
			"pattern_matches_total",
			metric.WithDescription("Total pattern matches found"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordMatch records one completed pattern run.
func recordMatch(ctx context.Context, elapsed time.Duration, report *Report) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("pattern", report.Pattern),
		attribute.Bool("truncated", report.Truncated),
	)
	matchLatency.Record(ctx, elapsed.Seconds(), attrs)
	matchesTotal.Add(ctx, int64(len(report.Matches)), attrs)
}
