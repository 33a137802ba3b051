// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for semantic analyses.
var (
	tracer = otel.Tracer("aleutian.cpg.semantics")
	meter  = otel.Meter("aleutian.cpg.semantics")
)

// Metrics for semantic analyses.
var (
	taintTraces metric.Int64Counter
	taintSinks  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		taintTraces, err = meter.Int64Counter(
			"semantics_taint_traces_total",
			metric.WithDescription("Total taint traces"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		taintSinks, err = meter.Int64Counter(
			"semantics_taint_sinks_total",
			metric.WithDescription("Total unsafe sinks reached by taint"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordTaint records one completed taint trace.
func recordTaint(ctx context.Context, report *TaintReport) {
	if initMetrics() != nil {
		return
	}
	taintTraces.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("truncated", report.Truncated),
	))
	taintSinks.Add(ctx, int64(len(report.Sinks)))
}
