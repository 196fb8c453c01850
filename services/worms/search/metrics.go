// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -----------------------------------------------------------------------------
// Search Metrics
// -----------------------------------------------------------------------------

// Run outcomes used as the status label.
const (
	statusSuccess  = "success"
	statusRejected = "rejected"
	statusFailure  = "failure"
)

var (
	// searchRunsTotal counts Grow calls by outcome.
	//
	// Labels:
	//   - status: "success", "rejected" (construction/topology) or "failure"
	searchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worms",
			Subsystem: "search",
			Name:      "runs_total",
			Help:      "Total search runs by status",
		},
		[]string{"status"},
	)

	// searchDuration tracks wall time per run.
	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "worms",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of search runs",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		},
	)

	// searchJobsTotal counts jobs scheduled.
	searchJobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "worms",
			Subsystem: "search",
			Name:      "jobs_total",
			Help:      "Total search jobs scheduled",
		},
	)

	// searchCandidatesTotal counts scored chains.
	searchCandidatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "worms",
			Subsystem: "search",
			Name:      "candidates_total",
			Help:      "Total chains scored against the criteria",
		},
	)

	// searchHitsTotal counts chains below threshold.
	searchHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "worms",
			Subsystem: "search",
			Name:      "hits_total",
			Help:      "Total chains scoring below threshold",
		},
	)
)

// recordRun records the outcome of one Grow call.
func recordRun(status string, d time.Duration, jobs int, evaluated int64, hits int) {
	searchRunsTotal.WithLabelValues(status).Inc()
	searchDuration.Observe(d.Seconds())
	searchJobsTotal.Add(float64(jobs))
	searchCandidatesTotal.Add(float64(evaluated))
	searchHitsTotal.Add(float64(hits))
}
