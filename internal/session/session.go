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

// Package session opens the backend gocql session used by the
// ingestion batching core, retrying while the session cannot yet be
// created (for example, while the keyspace is still coming up). The
// tables referenced by the configured statements are not checked.
package session

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wideseries/tscore/internal/config"
)

// Open establishes a *gocql.Session against the cluster described by
// cfg, retrying with exponential backoff while the keyspace has not
// yet been created by a migration running concurrently. The returned
// cancel function closes the session.
func Open(ctx context.Context, cfg *config.Config) (*gocql.Session, func(), error) {
	cluster := cfg.Cluster()

	var sess *gocql.Session
	op := func() error {
		var err error
		sess, err = cluster.CreateSession()
		if err != nil {
			log.WithError(err).WithField("keyspace", cfg.Keyspace).
				Info("backend session not ready yet, retrying")
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, nil, errors.Wrap(err, "could not open backend session")
	}

	return sess, sess.Close, nil
}
