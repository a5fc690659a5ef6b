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

// Package cache implements the bounded, linearizable insert-if-absent
// set that gates redundant index writes for recently-seen row keys and
// metric-name/row-time pairs.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Bounded is a fixed-capacity set with atomic insert-if-absent
// semantics. The zero value is not usable; construct with New.
//
// lru.Cache is safe for concurrent use on its own, but CacheIfAbsent
// must be a single linearizable check-then-insert, which a bare Get
// followed by Add cannot guarantee under concurrent callers. The mutex
// here makes the whole operation atomic, so exactly one caller ever
// observes a "newly inserted" result for a given key.
type Bounded[K comparable] struct {
	mu  sync.Mutex
	lru *lru.Cache[K, struct{}]
	cap int
}

// New constructs a Bounded cache with the given capacity. Eviction uses
// an LRU policy; the contract only guarantees that an entry present in
// the cache implies the corresponding index row was at least attempted,
// so FIFO would be equally correct. LRU is chosen because it tends to
// retain hot metrics under the typical skewed access pattern of a
// metrics workload, reducing write amplification relative to FIFO.
func New[K comparable](capacity int) *Bounded[K] {
	c, err := lru.New[K, struct{}](capacity)
	if err != nil {
		// Only returned by the underlying library for a non-positive
		// capacity, which is a configuration error we want to surface
		// immediately rather than silently degrade to capacity 1.
		panic(err)
	}
	return &Bounded[K]{lru: c, cap: capacity}
}

// CacheIfAbsent inserts k if it is not already present and returns
// (zero, true) to indicate that this call was the one that inserted it.
// If k was already present, it returns (k, false) and leaves the cache
// unmodified (aside from any LRU recency bump).
func (b *Bounded[K]) CacheIfAbsent(k K) (prior K, inserted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.lru.Get(k); ok {
		return k, false
	}
	b.lru.Add(k, struct{}{})
	var zero K
	return zero, true
}

// Remove deletes k from the cache unconditionally. It is a no-op if k
// is not present.
func (b *Bounded[K]) Remove(k K) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lru.Remove(k)
}

// Size returns the number of entries currently cached.
func (b *Bounded[K]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lru.Len()
}

// Capacity returns the maximum number of entries this cache will hold.
func (b *Bounded[K]) Capacity() int {
	return b.cap
}
