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

// Package config holds the user-visible configuration for the
// ingestion batching core and binds it to command-line flags.
package config

import (
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the full set of options recognized by the ingestion core.
type Config struct {
	// Backend connection.
	Hosts               []string
	Keyspace            string
	Consistency         string
	ConnectTimeoutSec   int
	HostSelectionPolicy string // "roundRobin" or "tokenAware"

	// Row addressing.
	RowWidthMillis          int64
	ColumnGranularityMillis int64

	// Handler behavior.
	DefaultTTLSec         int
	AlignTTLWithTimestamp bool
	ForceDefaultTTL       bool
	WriteClusterName      string
	MinBatchLimit         int

	// Cache sizing.
	CacheCapacityRowKey     int
	CacheCapacityMetricName int

	// Failed-event log.
	FailedEventLogPath string
	TraceFailedEvents  bool
}

// Bind registers flags for every Config field on the given flag set,
// mirroring the defaults a production deployment would start from.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringSliceVar(&c.Hosts, "hosts", []string{"127.0.0.1"},
		"addresses of the backend cluster's contact points")
	flags.StringVar(&c.Keyspace, "keyspace", "",
		"the backend keyspace holding the storage and index tables")
	flags.StringVar(&c.Consistency, "consistency", "localQuorum",
		"consistency level applied to every batch submit")
	flags.IntVar(&c.ConnectTimeoutSec, "connectTimeoutSec", 10,
		"timeout, in seconds, for establishing the backend session")
	flags.StringVar(&c.HostSelectionPolicy, "hostSelectionPolicy", "tokenAware",
		"host selection policy: roundRobin or tokenAware")

	flags.Int64Var(&c.RowWidthMillis, "rowWidthMillis", 21*24*60*60*1000,
		"duration, in milliseconds, covered by one wide row")
	flags.Int64Var(&c.ColumnGranularityMillis, "columnGranularityMillis", 1,
		"resolution, in milliseconds, at which in-row column offsets are computed")

	flags.IntVar(&c.DefaultTTLSec, "defaultTtlSec", 0,
		"default TTL, in seconds, applied when an event does not specify one")
	flags.BoolVar(&c.AlignTTLWithTimestamp, "alignTtlWithTimestamp", false,
		"subtract the data point's age from its TTL so expiration is anchored to its timestamp")
	flags.BoolVar(&c.ForceDefaultTTL, "forceDefaultTtl", false,
		"ignore any per-event TTL and always use defaultTtlSec")
	flags.StringVar(&c.WriteClusterName, "writeClusterName", "",
		"cluster name recorded in every row key written by this process")
	flags.IntVar(&c.MinBatchLimit, "minBatchLimit", 10,
		"smallest effective batch limit the adaptive retry loop will try before giving up")

	flags.IntVar(&c.CacheCapacityRowKey, "cacheCapacityRowKey", 1_000_000,
		"maximum number of row keys held in the row-key index cache")
	flags.IntVar(&c.CacheCapacityMetricName, "cacheCapacityMetricName", 100_000,
		"maximum number of metric-name/row-time pairs held in the metric-name index cache")

	flags.StringVar(&c.FailedEventLogPath, "failedEventLogPath", "failed-events.log",
		"path to the structured JSON log of events dropped after a terminal batch failure")
	flags.BoolVar(&c.TraceFailedEvents, "traceFailedEvents", false,
		"enable writing individual event records to the failed-events log on terminal failure")
}

// Preflight validates the configuration and resolves the gocql
// consistency level and host selection policy, returning an error that
// names the first offending field.
func (c *Config) Preflight() error {
	if len(c.Hosts) == 0 {
		return errors.New("hosts unset")
	}
	if c.Keyspace == "" {
		return errors.New("keyspace unset")
	}
	if _, err := c.ParsedConsistency(); err != nil {
		return errors.Wrap(err, "consistency")
	}
	switch c.HostSelectionPolicy {
	case "roundRobin", "tokenAware":
	default:
		return errors.Errorf("unknown hostSelectionPolicy %q", c.HostSelectionPolicy)
	}
	if c.RowWidthMillis <= 0 {
		return errors.New("rowWidthMillis must be positive")
	}
	if c.DefaultTTLSec < 0 {
		return errors.New("defaultTtlSec must be non-negative")
	}
	if c.CacheCapacityRowKey <= 0 {
		return errors.New("cacheCapacityRowKey must be positive")
	}
	if c.CacheCapacityMetricName <= 0 {
		return errors.New("cacheCapacityMetricName must be positive")
	}
	if c.MinBatchLimit <= 0 {
		return errors.New("minBatchLimit must be positive")
	}
	return nil
}

// consistencyNames maps the camelCase consistency names accepted by the
// consistency flag to gocql levels. It is used instead of
// gocql.ParseConsistency, which panics on an unrecognized name rather
// than returning an error, to keep configuration errors reportable
// instead of fatal.
var consistencyNames = map[string]gocql.Consistency{
	"any":         gocql.Any,
	"one":         gocql.One,
	"two":         gocql.Two,
	"three":       gocql.Three,
	"quorum":      gocql.Quorum,
	"all":         gocql.All,
	"localQuorum": gocql.LocalQuorum,
	"eachQuorum":  gocql.EachQuorum,
	"localOne":    gocql.LocalOne,
}

// ParsedConsistency resolves the configured consistency name to a
// gocql.Consistency value.
func (c *Config) ParsedConsistency() (gocql.Consistency, error) {
	if lvl, ok := consistencyNames[c.Consistency]; ok {
		return lvl, nil
	}
	return 0, errors.Errorf("unknown consistency level %q", c.Consistency)
}

// Cluster builds a gocql.ClusterConfig from the connection-related
// fields. Preflight should be called first so errors are caught before
// a session is attempted.
func (c *Config) Cluster() *gocql.ClusterConfig {
	cluster := gocql.NewCluster(c.Hosts...)
	cluster.Keyspace = c.Keyspace
	if lvl, err := c.ParsedConsistency(); err == nil {
		cluster.Consistency = lvl
	}
	cluster.ConnectTimeout = secondsToDuration(c.ConnectTimeoutSec)
	switch c.HostSelectionPolicy {
	case "roundRobin":
		cluster.PoolConfig.HostSelectionPolicy = gocql.RoundRobinHostPolicy()
	default:
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	}
	return cluster
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
