// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dfg

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for DFG operations.
var (
	tracer = otel.Tracer("aleutian.cpg.dfg")
	meter  = otel.Meter("aleutian.cpg.dfg")
)

// Metrics for DFG building operations.
var (
	buildLatency metric.Float64Histogram
	buildTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"dfg_build_duration_seconds",
			metric.WithDescription("Duration of DFG build operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"dfg_build_total",
			metric.WithDescription("Total number of DFG build operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuild records metrics for one completed build.
func recordBuild(ctx context.Context, elapsed time.Duration, g *Graph) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("ssa", g.SSA),
	)
	buildLatency.Record(ctx, elapsed.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
}
