// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repo

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for repository operations.
var (
	tracer = otel.Tracer("aleutian.cpg.repo")
	meter  = otel.Meter("aleutian.cpg.repo")
)

// Metrics for repository operations.
var (
	putsTotal        metric.Int64Counter
	resolutionsTotal metric.Int64Counter
	failuresTotal    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		putsTotal, err = meter.Int64Counter(
			"repo_puts_total",
			metric.WithDescription("Total bundle puts"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resolutionsTotal, err = meter.Int64Counter(
			"repo_call_resolutions_total",
			metric.WithDescription("Total deferred call-edge resolutions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		failuresTotal, err = meter.Int64Counter(
			"repo_analysis_failures_total",
			metric.WithDescription("Total routine analysis failures"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordPut records one completed put.
func recordPut(ctx context.Context, b *Bundle) {
	if initMetrics() != nil {
		return
	}
	putsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module", b.Key.Module),
	))
}

// recordResolution records one deferred call-edge resolution.
func recordResolution(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	resolutionsTotal.Add(ctx, 1)
}

// recordFailure records one failed routine analysis.
func recordFailure(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	failuresTotal.Add(ctx, 1)
}
