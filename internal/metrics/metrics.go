// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus instrumentation shared across
// the ingestion batching core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets is used for all duration histograms in this package.
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .02, .05, .1, .2, .5, 1, 2, 5, 10, 20,
}

// MetricLabels is a label set keyed by metric name. None of the
// collectors below use it.
var MetricLabels = []string{"metric"}

var (
	// BatchSubmitDuration tracks how long a batch submit took, broken
	// down by outcome so the adaptive-retry behavior is observable.
	BatchSubmitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_batch_submit_duration_seconds",
		Help:    "duration of a batch submit call, labeled by outcome",
		Buckets: LatencyBuckets,
	}, []string{"outcome"})

	// BatchSubmitErrors counts submit failures by classified kind.
	BatchSubmitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_batch_submit_errors_total",
		Help: "number of batch submit failures, labeled by classified kind",
	}, []string{"kind"})

	// BatchReductions counts handler calls that finished with an
	// effective batch limit below the caller-supplied event count; a
	// call whose limit shrank several times is counted once.
	BatchReductions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_batch_reductions_total",
		Help: "number of handler calls whose effective batch limit shrank",
	})

	// EventsSkippedExpired counts events dropped because their aligned
	// TTL had already expired on arrival.
	EventsSkippedExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_skipped_expired_total",
		Help: "events skipped because their aligned TTL was already non-positive",
	})

	// TerminalFailures counts handler calls that ended in a terminal
	// failure (dumped to the failed-events log).
	TerminalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_terminal_failures_total",
		Help: "handler calls that exhausted retries and dumped events to the failed log",
	})

	// TerminalFailureEvents counts the number of individual events
	// dumped across all terminal failures.
	TerminalFailureEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_terminal_failure_events_total",
		Help: "individual events written to the failed-events log",
	})

	// CacheResults counts cache hits and misses for each of the two
	// bounded caches.
	CacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_cache_results_total",
		Help: "bounded cache outcomes, labeled by cache name and result",
	}, []string{"cache", "result"})

	// PublisherDropped counts index events dropped because a
	// subscriber's buffer was full.
	PublisherDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_publisher_dropped_total",
		Help: "index events dropped due to a full subscriber buffer",
	}, []string{"kind"})
)
