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

// Package events implements the index-event publisher. Rather than a
// generic subscribe-annotated event bus, each event kind is a typed,
// non-blocking fan-out channel: a slow subscriber cannot stall
// ingestion, and delivery is best-effort since subscribers reconcile
// from the stored indexes on restart.
package events

import (
	"sync"

	"github.com/wideseries/tscore/internal/metrics"
	"github.com/wideseries/tscore/internal/rowkey"
)

// RowKeyEvent is published exactly once per row key that a batch newly
// added to the row-key index, and only after that batch submits
// successfully.
type RowKeyEvent struct {
	Metric string
	Key    rowkey.RowKey
	TTL    int
}

// BatchReductionEvent is published when a handler call finishes with an
// effective batch limit strictly smaller than the number of events it
// was given.
type BatchReductionEvent struct {
	EffectiveLimit int
}

// subscriberBuffer is the default channel depth for new subscribers.
// Chosen generously relative to typical row-key fan-out per flush so
// that a momentarily slow subscriber doesn't immediately start
// dropping notifications.
const subscriberBuffer = 256

// Publisher fans out RowKeyEvent and BatchReductionEvent notifications
// to any number of subscribers. It is safe for concurrent use; Publish
// calls never block on a subscriber.
type Publisher struct {
	mu              sync.RWMutex
	rowKeys         []chan RowKeyEvent
	batchReductions []chan BatchReductionEvent
}

// New constructs an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// SubscribeRowKeys registers a new subscriber and returns the channel
// it should drain. The channel is closed by neither side; callers stop
// reading when they no longer care.
func (p *Publisher) SubscribeRowKeys() <-chan RowKeyEvent {
	ch := make(chan RowKeyEvent, subscriberBuffer)
	p.mu.Lock()
	p.rowKeys = append(p.rowKeys, ch)
	p.mu.Unlock()
	return ch
}

// SubscribeBatchReductions registers a new subscriber for
// BatchReductionEvent notifications.
func (p *Publisher) SubscribeBatchReductions() <-chan BatchReductionEvent {
	ch := make(chan BatchReductionEvent, subscriberBuffer)
	p.mu.Lock()
	p.batchReductions = append(p.batchReductions, ch)
	p.mu.Unlock()
	return ch
}

// PublishRowKey fans out a RowKeyEvent to every subscriber. Subscribers
// with a full buffer have the event dropped for them rather than
// blocking the caller.
func (p *Publisher) PublishRowKey(evt RowKeyEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.rowKeys {
		select {
		case ch <- evt:
		default:
			metrics.PublisherDropped.WithLabelValues("rowKey").Inc()
		}
	}
}

// PublishBatchReduction fans out a BatchReductionEvent to every
// subscriber, dropping for any subscriber whose buffer is full.
func (p *Publisher) PublishBatchReduction(evt BatchReductionEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.batchReductions {
		select {
		case ch <- evt:
		default:
			metrics.PublisherDropped.WithLabelValues("batchReduction").Inc()
		}
	}
}
