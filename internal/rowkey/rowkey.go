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

// Package rowkey defines the wide-row addressing scheme: how a
// timestamp maps to a row bucket and an in-row column offset, and how
// the tuple identifying one wide row is constructed and serialized.
package rowkey

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

// Tag is a single tag name/value pair. Tag maps are kept as a sorted
// slice rather than a map so that iteration order is deterministic and
// matches the serialized form without a sort at marshal time.
type Tag struct {
	Name  string
	Value string
}

// Tags is a lexicographically-sorted, immutable list of Tag values.
type Tags []Tag

// NewTags sorts and returns a copy of the given tags. The input is not
// modified.
func NewTags(in []Tag) Tags {
	out := make(Tags, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Equal reports whether two tag sets contain the same entries,
// irrespective of slice order (they're both kept sorted internally, so
// this degrades to a straight comparison).
func (t Tags) Equal(o Tags) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

// RowKey identifies one wide row: a metric within a cluster, bucketed
// into a row-time window, for one stored data type, qualified by a tag
// set. RowKeys are immutable after construction and are compared by
// value across all five fields.
type RowKey struct {
	Metric   string
	Cluster  string
	RowTime  int64
	DataType string
	Tags     Tags
}

// New constructs a RowKey. The supplied tags are sorted defensively; the
// caller's slice is not retained.
func New(metric, cluster string, rowTime int64, dataType string, tags []Tag) RowKey {
	return RowKey{
		Metric:   metric,
		Cluster:  cluster,
		RowTime:  rowTime,
		DataType: dataType,
		Tags:     NewTags(tags),
	}
}

// Equal reports whether two row keys address the same wide row.
func (k RowKey) Equal(o RowKey) bool {
	return k.Metric == o.Metric &&
		k.Cluster == o.Cluster &&
		k.RowTime == o.RowTime &&
		k.DataType == o.DataType &&
		k.Tags.Equal(o.Tags)
}

// Serialize produces the bit-exact wire form of the row key:
//
//	[utf8 metric][0x00][utf8 cluster][0x00][utf8 dataType][0x00]
//	[big-endian i64 rowTime]
//	[sorted tag entries: utf8 key 0x00 utf8 value 0x00]
//	[terminator 0x00]
//
// Two row keys are equal iff their serialized forms are byte-identical.
//
// The cluster name is included between metric and data type even
// though it is easy to miss in a quick reading of the wire format,
// because RowKey equality is defined over all five fields (metric,
// cluster, row time, data type, tags); omitting it from the wire form
// would let two distinct row keys in different clusters collide to the
// same serialized bytes and the same cache entry.
func (k RowKey) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteString(k.Metric)
	buf.WriteByte(0)
	buf.WriteString(k.Cluster)
	buf.WriteByte(0)
	buf.WriteString(k.DataType)
	buf.WriteByte(0)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(k.RowTime))
	buf.Write(tsBuf[:])

	for _, tag := range k.Tags {
		buf.WriteString(tag.Name)
		buf.WriteByte(0)
		buf.WriteString(tag.Value)
		buf.WriteByte(0)
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

// CacheKey is the string form of Serialize, suitable for use as a map
// or LRU key.
func (k RowKey) CacheKey() string {
	return string(k.Serialize())
}

// String renders a human-readable form for logging; it is not the wire
// format and must not be used for equality or hashing.
func (k RowKey) String() string {
	var buf bytes.Buffer
	buf.WriteString(k.Metric)
	buf.WriteByte('{')
	for i, tag := range k.Tags {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(tag.Name)
		buf.WriteByte('=')
		buf.WriteString(tag.Value)
	}
	buf.WriteByte('}')
	return buf.String()
}

// TimedString pairs a metric name with a row time so that it can be
// used as the metric-name-index cache key: a metric name is re-indexed
// once per row bucket rather than once per data point.
type TimedString struct {
	Name    string
	RowTime int64
}

// Spec is a pure, stateless mapping from timestamps to row buckets and
// in-row column offsets. RowWidthMillis is the duration covered by one
// wide row (e.g. three weeks in milliseconds). ColumnGranularityMillis
// is the resolution at which in-row offsets are computed; it must
// divide evenly into the expected minimum spacing between samples for
// ColumnName to remain strictly monotonic within a row.
type Spec struct {
	RowWidthMillis          int64
	ColumnGranularityMillis int64
}

// ErrTimestampOutOfRow is returned when ColumnName is asked to encode a
// timestamp that does not fall within the row addressed by rowTime.
// Per the contract, this indicates a caller bug: RowTime should always
// be derived from the same timestamp being encoded.
var ErrTimestampOutOfRow = errors.New("timestamp outside row bucket")

// RowTime returns the lower bound of the row bucket containing
// tsMillis: floor(tsMillis / rowWidth) * rowWidth.
func (s Spec) RowTime(tsMillis int64) int64 {
	width := s.RowWidthMillis
	bucket := tsMillis / width
	if tsMillis%width != 0 && tsMillis < 0 {
		bucket--
	}
	return bucket * width
}

// ColumnName returns the in-row column offset for tsMillis within the
// row starting at rowTime, as an integer scaled by
// ColumnGranularityMillis. It is strictly monotonic in tsMillis for
// inputs spaced at least ColumnGranularityMillis apart, accepts
// tsMillis == rowTime (offset zero) and tsMillis == rowTime+rowWidth-1
// (the maximum in-row offset), and returns ErrTimestampOutOfRow for any
// tsMillis outside [rowTime, rowTime+rowWidth).
func (s Spec) ColumnName(rowTime, tsMillis int64) (int32, error) {
	if tsMillis < rowTime || tsMillis >= rowTime+s.RowWidthMillis {
		return 0, errors.Wrapf(ErrTimestampOutOfRow,
			"ts=%d not in [%d, %d)", tsMillis, rowTime, rowTime+s.RowWidthMillis)
	}
	granularity := s.ColumnGranularityMillis
	if granularity <= 0 {
		granularity = 1
	}
	return int32((tsMillis - rowTime) / granularity), nil
}
