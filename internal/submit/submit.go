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

// Package submit implements the Batch Submitter: a thin wrapper around
// the gocql session that applies the configured consistency level and
// surfaces backend errors verbatim to the handler's retry classifier.
package submit

import (
	"context"
	"strings"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Session is the subset of *gocql.Session the Submitter needs, so
// tests can supply a fake without standing up a cluster.
type Session interface {
	ExecuteBatch(b *gocql.Batch) error
}

// GocqlSubmitter executes batches against a live Cassandra session at a
// fixed consistency level.
type GocqlSubmitter struct {
	Session     Session
	Consistency gocql.Consistency
}

// New constructs a GocqlSubmitter bound to the given session and
// consistency level.
func New(session Session, consistency gocql.Consistency) *GocqlSubmitter {
	return &GocqlSubmitter{Session: session, Consistency: consistency}
}

// Execute applies the configured consistency level to the batch and
// executes it. Errors are returned unwrapped-in-kind but annotated with
// a stack trace so a terminal failure retains useful context in the
// failed-events log.
func (s *GocqlSubmitter) Execute(ctx context.Context, b *gocql.Batch) error {
	b.Cons = s.Consistency
	b = b.WithContext(ctx)
	if err := s.Session.ExecuteBatch(b); err != nil {
		log.WithFields(log.Fields{
			"size":        b.Size(),
			"consistency": s.Consistency,
		}).WithError(err).Debug("batch submit failed")
		return errors.WithStack(err)
	}
	return nil
}

// IsUnavailable reports whether err represents a transport-level
// unavailability: no host could serve the request, or the backend
// reported insufficient replicas. These are retried by the caller's
// own backoff layer rather than by shrinking the batch.
func IsUnavailable(err error) bool {
	var unavailable gocql.RequestErrUnavailable
	if errors.As(err, &unavailable) {
		return true
	}
	return errors.Is(err, gocql.ErrNoConnections) ||
		errors.Is(err, gocql.ErrConnectionClosed) ||
		errors.Is(err, gocql.ErrNoStreams)
}

// IsBatchTooLarge reports whether err is the backend's way of saying
// the submitted batch exceeded its size limit. gocql surfaces this as
// a generic *gocql.RequestErrWriteFailure / invalid-query style error
// whose message contains a recognizable marker, so it is detected by
// text rather than by a dedicated error type.
func IsBatchTooLarge(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "batch too large")
}
