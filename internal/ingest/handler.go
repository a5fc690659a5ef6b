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

// Package ingest implements the batch handler: the adaptive-retry
// orchestrator that partitions incoming data point events into CQL
// batches, gates index writes through the bounded caches, and
// classifies backend failures to decide between a shrink-and-retry and
// a terminal failure dump.
package ingest

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wideseries/tscore/internal/batch"
	"github.com/wideseries/tscore/internal/cache"
	"github.com/wideseries/tscore/internal/config"
	"github.com/wideseries/tscore/internal/events"
	"github.com/wideseries/tscore/internal/metrics"
	"github.com/wideseries/tscore/internal/model"
	"github.com/wideseries/tscore/internal/rowkey"
	"github.com/wideseries/tscore/internal/submit"
)

// Handler runs the adaptive batch-size retry loop against a single
// backend session. It holds no per-call state; one Handler is shared
// by every task drawn from the worker pool.
type Handler struct {
	Config      *config.Config
	RowSpec     rowkey.Spec
	RowKeys     *cache.Bounded[string]
	MetricNames *cache.Bounded[rowkey.TimedString]
	Statements  batch.Statements
	Submitter   batch.Submitter
	Publisher   *events.Publisher
	FailedLog   io.Writer

	// Now overrides the wall clock used for TTL alignment; nil means
	// time.Now. Tests set this to a fixed function.
	Now func() time.Time
}

// New constructs a Handler from its dependencies.
func New(
	cfg *config.Config,
	rowSpec rowkey.Spec,
	rowKeys *cache.Bounded[string],
	metricNames *cache.Bounded[rowkey.TimedString],
	stmts batch.Statements,
	submitter batch.Submitter,
	pub *events.Publisher,
	failedLog io.Writer,
) *Handler {
	return &Handler{
		Config:      cfg,
		RowSpec:     rowSpec,
		RowKeys:     rowKeys,
		MetricNames: metricNames,
		Statements:  stmts,
		Submitter:   submitter,
		Publisher:   pub,
		FailedLog:   failedLog,
	}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Handle consumes evts in order, submitting them to the backend in one
// or more CQL batches, and invokes callback.Complete exactly once.
//
// A transport-level unavailability is rethrown without completing the
// callback, so the caller's own backoff layer retries the whole call.
// Every other outcome - success, a shrink-and-retry cycle, or a
// terminal failure dumped to the failed-events log - completes the
// callback before returning.
func (h *Handler) Handle(ctx context.Context, evts []model.DataPointEvent, callback model.EventCompletionCallback) error {
	n := len(evts)
	if n == 0 {
		callback.Complete()
		return nil
	}

	divisor := 1
	limit := n
	terminal := false

retry:
	for {
		cursor := 0
		for cursor < n {
			b := batch.New(h.Statements, h.Submitter)
			end := cursor + limit
			if end > n {
				end = n
			}

			var loadErr error
			for ; cursor < end; cursor++ {
				if err := h.loadEvent(b, evts[cursor]); err != nil {
					loadErr = err
					break
				}
			}
			if loadErr != nil {
				log.WithError(loadErr).Error("programming error building batch, failing handler call")
				callback.Complete()
				return loadErr
			}

			if err := b.Submit(ctx); err != nil {
				h.rollback(b)

				switch {
				case submit.IsUnavailable(err):
					log.WithError(err).Warn("backend unavailable, rethrowing to outer retry layer")
					metrics.BatchSubmitErrors.WithLabelValues("unavailable").Inc()
					return errors.WithStack(err)
				case submit.IsBatchTooLarge(err):
					log.WithError(err).Warn("batch too large, shrinking effective batch limit")
					metrics.BatchSubmitErrors.WithLabelValues("tooLarge").Inc()
				default:
					log.WithError(err).Error("batch submit failed")
					metrics.BatchSubmitErrors.WithLabelValues("other").Inc()
				}

				if limit > h.Config.MinBatchLimit {
					divisor++
					limit = n / divisor
					if limit < 1 {
						limit = 1
					}
					continue retry
				}
				terminal = true
				break retry
			}

			h.publishNewRowKeys(b)
		}
		break retry
	}

	if terminal {
		h.dumpTerminal(evts)
	}
	if limit < n {
		h.Publisher.PublishBatchReduction(events.BatchReductionEvent{EffectiveLimit: limit})
		metrics.BatchReductions.Inc()
	}
	callback.Complete()
	return nil
}

// effectiveTTL resolves the TTL an event writes with, before any
// timestamp alignment: forceDefaultTtl overrides the event's own TTL
// outright, and a resulting zero still falls back to the default (an
// event or a zero default can both mean "no expiry", and the two are
// indistinguishable here by design).
func (h *Handler) effectiveTTL(evt model.DataPointEvent) int {
	ttl := evt.TTLSeconds
	if h.Config.ForceDefaultTTL {
		ttl = h.Config.DefaultTTLSec
	}
	if ttl == 0 {
		ttl = h.Config.DefaultTTLSec
	}
	return ttl
}

// loadEvent runs the per-event algorithm, adding at most one row-key
// index entry, one metric-name/time-index pair, and exactly one
// data-point column to b. It returns nil both when the event is added
// and when it is silently skipped as expired-on-arrival; a non-nil
// error always indicates a programming error that must fail the whole
// handler call.
func (h *Handler) loadEvent(b *batch.CQLBatch, evt model.DataPointEvent) error {
	if evt.Metric == "" {
		log.Warn("data point event has an empty metric name, storing it anyway")
	}

	ttl := h.effectiveTTL(evt)
	if h.Config.AlignTTLWithTimestamp {
		ageSec := (h.now().UnixMilli() - evt.Point.TimestampMillis) / 1000
		ttl -= int(ageSec)
		if ttl <= 0 {
			log.WithFields(log.Fields{
				"metric":    evt.Metric,
				"timestamp": evt.Point.TimestampMillis,
			}).Warn("event already expired on arrival, skipping")
			metrics.EventsSkippedExpired.Inc()
			return nil
		}
	}

	rowTime := h.RowSpec.RowTime(evt.Point.TimestampMillis)
	rowKey := rowkey.New(evt.Metric, h.Config.WriteClusterName, rowTime, evt.Point.DataStoreType, evt.Tags)

	if _, inserted := h.RowKeys.CacheIfAbsent(rowKey.CacheKey()); inserted {
		metrics.CacheResults.WithLabelValues("rowKey", "miss").Inc()

		rowKeyTTL := 0
		if ttl != 0 {
			rowKeyTTL = ttl + int(h.Config.RowWidthMillis/1000)
		}
		if err := b.AddRowKey(rowKey, rowKeyTTL); err != nil {
			return errors.Wrap(err, "adding row key")
		}

		tsName := rowkey.TimedString{Name: evt.Metric, RowTime: rowTime}
		if _, metricInserted := h.MetricNames.CacheIfAbsent(tsName); metricInserted {
			metrics.CacheResults.WithLabelValues("metricName", "miss").Inc()
			if err := b.AddMetricName(evt.Metric, rowTime); err != nil {
				return errors.Wrap(err, "adding metric name")
			}
			b.AddTimeIndex(evt.Metric, rowTime, rowKeyTTL)
		} else {
			metrics.CacheResults.WithLabelValues("metricName", "hit").Inc()
		}
	} else {
		metrics.CacheResults.WithLabelValues("rowKey", "hit").Inc()
	}

	columnName, err := h.RowSpec.ColumnName(rowTime, evt.Point.TimestampMillis)
	if err != nil {
		return errors.Wrap(err, "computing column name")
	}
	if err := b.AddDataPoint(rowKey, columnName, evt.Point.Value, evt.Point.DataStoreType, ttl); err != nil {
		return errors.Wrap(err, "adding data point")
	}
	return nil
}

// publishNewRowKeys fans out a RowKeyEvent for every row key b added,
// once its submit has already succeeded: per the coverage invariant, a
// subscriber sees a row key exactly when an index entry for it was
// actually written.
func (h *Handler) publishNewRowKeys(b *batch.CQLBatch) {
	for _, add := range b.NewRowKeyAdds() {
		h.Publisher.PublishRowKey(events.RowKeyEvent{
			Metric: add.Key.Metric,
			Key:    add.Key,
			TTL:    add.TTL,
		})
	}
}

// rollback undoes the cache insertions a failed batch made, so the
// next attempt treats those row keys and metric names as new again.
func (h *Handler) rollback(b *batch.CQLBatch) {
	for _, key := range b.NewRowKeys() {
		h.RowKeys.Remove(key.CacheKey())
	}
	for _, m := range b.NewMetrics() {
		h.MetricNames.Remove(rowkey.TimedString{Name: m.Name, RowTime: m.RowTime})
	}
}

// dumpTerminal writes every event in the original call to the
// failed-events log as one JSON object per line, when trace logging is
// enabled. The TTL recorded is the pre-alignment effective TTL: a
// fresh alignment computation at dump time would depend on how late the
// dump happened to run, which the record shouldn't reflect.
func (h *Handler) dumpTerminal(evts []model.DataPointEvent) {
	metrics.TerminalFailures.Inc()
	if h.FailedLog == nil || !h.Config.TraceFailedEvents {
		return
	}
	for _, evt := range evts {
		rec, err := marshalFailedEvent(evt, h.effectiveTTL(evt))
		if err != nil {
			log.WithError(err).Error("failed to marshal terminal failure record")
			continue
		}
		if _, err := h.FailedLog.Write(append(rec, '\n')); err != nil {
			log.WithError(err).Error("failed to write terminal failure record")
			continue
		}
		metrics.TerminalFailureEvents.Inc()
	}
}
