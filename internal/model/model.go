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

// Package model holds the data types that cross the boundary between
// the upstream durable queue and the ingestion batching core: the
// event the core consumes and the callback it completes exactly once.
package model

import "github.com/wideseries/tscore/internal/rowkey"

// DataPoint is one sample: a timestamp and its typed value, along with
// the string tag identifying how the value is serialized for storage.
type DataPoint struct {
	TimestampMillis int64
	Value           any
	DataStoreType   string
}

// DataPointEvent is a single write request. Tags are kept in their
// original insertion order for the failed-event log (spec requires
// tags to be serialized in insertion order there) and are sorted only
// when building a RowKey.
type DataPointEvent struct {
	Metric string
	Tags   []rowkey.Tag
	Point  DataPoint
	// TTLSeconds is the event's requested TTL; 0 means "use the
	// configured default".
	TTLSeconds int
}

// EventCompletionCallback is supplied alongside a batch of events. The
// handler invokes Complete exactly once per handler call, regardless of
// success or terminal failure, so the upstream durable queue can
// advance its read pointer.
type EventCompletionCallback interface {
	Complete()
}

// CallbackFunc adapts a plain function to EventCompletionCallback.
type CallbackFunc func()

// Complete implements EventCompletionCallback.
func (f CallbackFunc) Complete() { f() }
