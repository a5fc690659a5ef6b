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

// Package batch implements the CQL batch builder: it accumulates the
// four kinds of mutation the ingestion core produces, tracks which
// cache entries it newly introduced so a failed submit can be rolled
// back, and hands the accumulated statements to a Submitter.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"

	"github.com/wideseries/tscore/internal/metrics"
	"github.com/wideseries/tscore/internal/rowkey"
)

// Statements holds the four prepared CQL statement templates the
// builder issues against. They are plain strings (bound with
// positional placeholders) rather than gocql-prepared statement
// handles, since gocql itself prepares statements lazily per host.
type Statements struct {
	InsertRowKeyIndex     string
	InsertMetricNameIndex string
	InsertTimeIndex       string
	InsertDataPoint       string
}

// Submitter sends an accumulated gocql batch to the backend under a
// configured consistency level and surfaces backend errors verbatim.
type Submitter interface {
	Execute(ctx context.Context, b *gocql.Batch) error
}

// dataPoint is one queued column insert.
type dataPoint struct {
	rowKey     rowkey.RowKey
	columnName int32
	value      any
	dataType   string
	ttl        int
}

// dataPointSlot identifies the (row key, column) pair a dataPoint
// targets, for last-write-wins compaction within one batch.
type dataPointSlot struct {
	rowKey     string
	columnName int32
}

// CQLBatch accumulates mutations for a single submission. It is
// single-use: once Submit has been called (successfully or not), the
// accumulated statements must not be reused, though NewRowKeys and
// NewMetrics remain readable after a failed Submit so the caller can
// roll back its caches.
type CQLBatch struct {
	stmts     Statements
	submitter Submitter

	dataPoints []dataPoint
	dpOrder    []dataPointSlot
	dpBySlot   map[dataPointSlot]int // slot -> index into dataPoints

	rowKeyTTLs map[string]rowKeyAdd
	metricAdds map[string]metricAdd
	timeIdx    []timeIndexAdd

	submitted bool
}

type rowKeyAdd struct {
	key rowkey.RowKey
	ttl int
}

type metricAdd struct {
	name    string
	rowTime int64
}

type timeIndexAdd struct {
	name    string
	rowTime int64
	ttl     int
}

// New constructs an empty batch bound to the given statements and
// submitter.
func New(stmts Statements, submitter Submitter) *CQLBatch {
	return &CQLBatch{
		stmts:      stmts,
		submitter:  submitter,
		dpBySlot:   make(map[dataPointSlot]int),
		rowKeyTTLs: make(map[string]rowKeyAdd),
		metricAdds: make(map[string]metricAdd),
	}
}

// AddRowKey enqueues a row-key-index mutation and records the key as
// newly introduced by this batch. ttl must be non-negative; a ttl of
// zero means "no expiry", per the row-key-ttl Open Question in the
// design notes.
func (b *CQLBatch) AddRowKey(key rowkey.RowKey, ttl int) error {
	if ttl < 0 {
		return errors.Errorf("negative row key ttl %d", ttl)
	}
	b.rowKeyTTLs[key.CacheKey()] = rowKeyAdd{key: key, ttl: ttl}
	return nil
}

// AddMetricName enqueues a metric-name-index mutation for the given
// (name, row time) pair and records it as newly introduced.
func (b *CQLBatch) AddMetricName(name string, rowTime int64) error {
	if name == "" {
		return errors.New("metric name must be non-empty to index")
	}
	key := metricIndexKey(name, rowTime)
	b.metricAdds[key] = metricAdd{name: name, rowTime: rowTime}
	return nil
}

// AddTimeIndex enqueues a time-index mutation.
func (b *CQLBatch) AddTimeIndex(name string, rowTime int64, ttl int) {
	b.timeIdx = append(b.timeIdx, timeIndexAdd{name: name, rowTime: rowTime, ttl: ttl})
}

// AddDataPoint enqueues a column insert for the given row key. ttl must
// be non-negative. If a prior AddDataPoint call in this same batch
// targeted the identical (rowKey, columnName) pair, the earlier value
// is replaced: Cassandra column overwrites are last-write-wins by
// design, so coalescing here only avoids shipping a redundant
// statement, it does not change what ends up stored.
func (b *CQLBatch) AddDataPoint(key rowkey.RowKey, columnName int32, value any, dataType string, ttl int) error {
	if ttl < 0 {
		return errors.Errorf("negative data point ttl %d", ttl)
	}
	slot := dataPointSlot{rowKey: key.CacheKey(), columnName: columnName}
	dp := dataPoint{rowKey: key, columnName: columnName, value: value, dataType: dataType, ttl: ttl}
	if idx, ok := b.dpBySlot[slot]; ok {
		b.dataPoints[idx] = dp
		return nil
	}
	b.dpBySlot[slot] = len(b.dataPoints)
	b.dataPoints = append(b.dataPoints, dp)
	b.dpOrder = append(b.dpOrder, slot)
	return nil
}

// NewRowKeys returns the row keys newly added to this batch (i.e. not
// already present in the row-key cache when added). Valid before or
// after Submit, including after a failed Submit, so the handler can
// roll the cache back.
func (b *CQLBatch) NewRowKeys() []rowkey.RowKey {
	out := make([]rowkey.RowKey, 0, len(b.rowKeyTTLs))
	for _, add := range b.rowKeyTTLs {
		out = append(out, add.key)
	}
	return out
}

// RowKeyAdd pairs a newly added row key with the TTL its index entry
// was written with, so a caller can publish a RowKeyEvent after Submit
// succeeds without having to recompute the row-key TTL itself.
type RowKeyAdd struct {
	Key rowkey.RowKey
	TTL int
}

// NewRowKeyAdds returns the row keys newly added to this batch together
// with their index TTLs. Valid before or after Submit, like NewRowKeys.
func (b *CQLBatch) NewRowKeyAdds() []RowKeyAdd {
	out := make([]RowKeyAdd, 0, len(b.rowKeyTTLs))
	for _, add := range b.rowKeyTTLs {
		out = append(out, RowKeyAdd{Key: add.key, TTL: add.ttl})
	}
	return out
}

// MetricAdd identifies a metric-name/row-time pair newly added to the
// metric-name index by a batch.
type MetricAdd struct {
	Name    string
	RowTime int64
}

// NewMetrics returns the (name, rowTime) pairs newly added to the
// metric-name index by this batch.
func (b *CQLBatch) NewMetrics() []MetricAdd {
	out := make([]MetricAdd, 0, len(b.metricAdds))
	for _, add := range b.metricAdds {
		out = append(out, MetricAdd{Name: add.name, RowTime: add.rowTime})
	}
	return out
}

// Submit flushes the accumulated mutations to the backend as a single
// CQL batch. It may be called exactly once; calling it a second time
// returns an error without touching the backend.
func (b *CQLBatch) Submit(ctx context.Context) error {
	if b.submitted {
		return errors.New("batch already submitted")
	}
	b.submitted = true

	gb := gocql.NewBatch(gocql.UnloggedBatch)
	for _, add := range b.rowKeyTTLs {
		query, args := withTTL(b.stmts.InsertRowKeyIndex, add.ttl, add.key.Metric, add.key.Serialize())
		gb.Query(query, args...)
	}
	for _, add := range b.metricAdds {
		gb.Query(b.stmts.InsertMetricNameIndex, add.name)
	}
	for _, add := range b.timeIdx {
		query, args := withTTL(b.stmts.InsertTimeIndex, add.ttl, add.name, add.rowTime)
		gb.Query(query, args...)
	}
	for _, slot := range b.dpOrder {
		dp := b.dataPoints[b.dpBySlot[slot]]
		query, args := withTTL(b.stmts.InsertDataPoint, dp.ttl, dp.rowKey.Serialize(), dp.columnName, dp.value)
		gb.Query(query, args...)
	}

	start := time.Now()
	err := b.submitter.Execute(ctx, gb)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.BatchSubmitDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return err
}

// withTTL appends a " USING TTL ?" clause (and the ttl argument) to a
// statement when ttl is positive. A ttl of zero means "no expiry", and
// the statement is issued without a TTL clause at all.
func withTTL(stmt string, ttl int, args ...any) (string, []any) {
	if ttl <= 0 {
		return stmt, args
	}
	return stmt + " USING TTL ?", append(append([]any{}, args...), ttl)
}

func metricIndexKey(name string, rowTime int64) string {
	return fmt.Sprintf("%s\x00%d", name, rowTime)
}
