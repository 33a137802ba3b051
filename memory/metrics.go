// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for artifact memory accounting.
var (
	usedBytesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpg_memory_artifact_bytes",
		Help: "Bytes currently held by derived analysis artifacts",
	})

	entriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpg_memory_artifact_entries",
		Help: "Number of tracked derived artifacts",
	})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_memory_evictions_total",
		Help: "Total artifact evictions by reason",
	}, []string{"reason"})

	rejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpg_memory_rejected_total",
		Help: "Artifacts rejected for exceeding the byte budget",
	})

	pressureReleasedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpg_memory_pressure_released_bytes_total",
		Help: "Bytes released by the bundle evictor under critical pressure",
	})
)

func recordUsage(used int64, entries int) {
	usedBytesGauge.Set(float64(used))
	entriesGauge.Set(float64(entries))
}

func recordEviction(reason string) {
	evictionsTotal.WithLabelValues(reason).Inc()
}

func recordRejected() {
	rejectedTotal.Inc()
}

func recordPressure(released int64) {
	if released > 0 {
		pressureReleasedBytes.Add(float64(released))
	}
}
