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

// Package core is the composition root for the ingestion batching
// core: it constructs the caches, the publisher, the backend session
// and submitter, and the handler, exactly once, and wires them by
// reference. There is no dependency-injection framework here; New is
// the entire object graph.
package core

import (
	"context"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/wideseries/tscore/internal/batch"
	"github.com/wideseries/tscore/internal/cache"
	"github.com/wideseries/tscore/internal/config"
	"github.com/wideseries/tscore/internal/events"
	"github.com/wideseries/tscore/internal/ingest"
	"github.com/wideseries/tscore/internal/rowkey"
	"github.com/wideseries/tscore/internal/session"
	"github.com/wideseries/tscore/internal/submit"
)

// Core holds the fully wired object graph for one process.
type Core struct {
	Config    *config.Config
	RowSpec   rowkey.Spec
	Publisher *events.Publisher
	Handler   *ingest.Handler
}

// statementsFor returns the four prepared statement templates bound to
// cfg.Keyspace. The table names are fixed; only the keyspace varies.
func statementsFor(cfg *config.Config) batch.Statements {
	ks := cfg.Keyspace
	return batch.Statements{
		InsertRowKeyIndex:     "INSERT INTO " + ks + ".row_key_index (metric, row_key) VALUES (?, ?)",
		InsertMetricNameIndex: "INSERT INTO " + ks + ".metric_names (name) VALUES (?)",
		InsertTimeIndex:       "INSERT INTO " + ks + ".time_index (name, row_time) VALUES (?, ?)",
		InsertDataPoint:       "INSERT INTO " + ks + ".data_points (row_key, column_name, value) VALUES (?, ?, ?)",
	}
}

// New constructs the full object graph. The returned cleanup function
// closes the backend session; it is always non-nil.
func New(ctx context.Context, cfg *config.Config) (*Core, func(), error) {
	if err := cfg.Preflight(); err != nil {
		return nil, func() {}, errors.Wrap(err, "invalid configuration")
	}

	sess, closeSession, err := session.Open(ctx, cfg)
	if err != nil {
		return nil, func() {}, err
	}

	consistency, err := cfg.ParsedConsistency()
	if err != nil {
		closeSession()
		return nil, func() {}, err
	}

	var sub batch.Submitter = submit.New(sess, consistency)
	if chaosProb := chaosProbabilityFromEnv(); chaosProb > 0 {
		sub = submit.WithChaos(sub, chaosProb)
	}

	publisher := events.New()
	rowSpec := rowkey.Spec{
		RowWidthMillis:          cfg.RowWidthMillis,
		ColumnGranularityMillis: cfg.ColumnGranularityMillis,
	}

	var failedLog *os.File
	if cfg.TraceFailedEvents && cfg.FailedEventLogPath != "" {
		failedLog, err = os.OpenFile(cfg.FailedEventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			closeSession()
			return nil, func() {}, errors.Wrap(err, "opening failed-event log")
		}
	}

	handler := ingest.New(
		cfg,
		rowSpec,
		cache.New[string](cfg.CacheCapacityRowKey),
		cache.New[rowkey.TimedString](cfg.CacheCapacityMetricName),
		statementsFor(cfg),
		sub,
		publisher,
		failedLog,
	)

	cleanup := func() {
		if failedLog != nil {
			_ = failedLog.Close()
		}
		closeSession()
	}

	return &Core{
		Config:    cfg,
		RowSpec:   rowSpec,
		Publisher: publisher,
		Handler:   handler,
	}, cleanup, nil
}

// chaosProbabilityFromEnv is a development-only escape hatch: setting
// TSCORE_CHAOS_SUBMIT_PROB wraps the submitter so integration tests can
// exercise the retry and rollback paths against a real cluster.
func chaosProbabilityFromEnv() float32 {
	v, err := strconv.ParseFloat(os.Getenv("TSCORE_CHAOS_SUBMIT_PROB"), 32)
	if err != nil {
		return 0
	}
	return float32(v)
}
