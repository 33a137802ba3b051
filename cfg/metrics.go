// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfg

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for CFG operations.
var (
	tracer = otel.Tracer("aleutian.cpg.cfg")
	meter  = otel.Meter("aleutian.cpg.cfg")
)

// Metrics for CFG building operations.
var (
	buildLatency metric.Float64Histogram
	buildTotal   metric.Int64Counter
	nodesCreated metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"cfg_build_duration_seconds",
			metric.WithDescription("Duration of CFG build operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"cfg_build_total",
			metric.WithDescription("Total number of CFG build operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesCreated, err = meter.Int64Histogram(
			"cfg_nodes_created",
			metric.WithDescription("Number of CFG nodes created per build"),
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
		attribute.Bool("partial", g.Partial),
	)
	buildLatency.Record(ctx, elapsed.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	nodesCreated.Record(ctx, int64(g.NodeCount()))
}
