// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for query operations.
var (
	tracer = otel.Tracer("aleutian.cpg.query")
	meter  = otel.Meter("aleutian.cpg.query")
)

// Metrics for query evaluation.
var (
	queryLatency   metric.Float64Histogram
	queriesTotal   metric.Int64Counter
	fragmentHits   metric.Int64Counter
	fragmentMisses metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryLatency, err = meter.Float64Histogram(
			"query_duration_seconds",
			metric.WithDescription("Duration of query evaluation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queriesTotal, err = meter.Int64Counter(
			"query_total",
			metric.WithDescription("Total queries evaluated"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fragmentHits, err = meter.Int64Counter(
			"query_fragment_hits_total",
			metric.WithDescription("Fragment cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fragmentMisses, err = meter.Int64Counter(
			"query_fragment_misses_total",
			metric.WithDescription("Fragment cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordQuery records one completed query.
func recordQuery(ctx context.Context, elapsed time.Duration, result *Result) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("truncated", result.Truncated),
		attribute.Bool("stale", result.Stale),
	)
	queryLatency.Record(ctx, elapsed.Seconds(), attrs)
	queriesTotal.Add(ctx, 1, attrs)
}

// recordFragment records one fragment cache lookup.
func recordFragment(ctx context.Context, hit bool) {
	if initMetrics() != nil {
		return
	}
	if hit {
		fragmentHits.Add(ctx, 1)
	} else {
		fragmentMisses.Add(ctx, 1)
	}
}
