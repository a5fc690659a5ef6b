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

package submit

import (
	"context"
	"math/rand"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
)

// ErrChaos is the error injected by WithChaos.
var ErrChaos = errors.New("chaos")

// batchSubmitter is the minimal interface chaos wraps; it matches
// batch.Submitter without importing the batch package, so tests in
// either package can use this wrapper without a cyclic dependency.
type batchSubmitter interface {
	Execute(ctx context.Context, b *gocql.Batch) error
}

// WithChaos wraps a Submitter so that Execute fails with ErrChaos with
// probability prob, exercising the handler's rollback-on-failure and
// retry-classification paths without a live cluster. If prob is zero
// or negative, delegate is returned unwrapped.
func WithChaos(delegate batchSubmitter, prob float32) batchSubmitter {
	if prob <= 0 {
		return delegate
	}
	return &chaosSubmitter{delegate: delegate, prob: prob}
}

type chaosSubmitter struct {
	delegate batchSubmitter
	prob     float32
}

func (c *chaosSubmitter) Execute(ctx context.Context, b *gocql.Batch) error {
	if rand.Float32() < c.prob {
		return ErrChaos
	}
	return c.delegate.Execute(ctx, b)
}
