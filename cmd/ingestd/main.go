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

// Command ingestd wires up the ingestion batching core as a standalone
// process: it owns no HTTP surface, job scheduler, or durable queue of
// its own, those are external collaborators that would call into
// core.Core.Handler in a complete deployment.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/wideseries/tscore/internal/config"
	"github.com/wideseries/tscore/internal/core"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("ingestd exiting")
	}
}

func run() error {
	cfg := &config.Config{}
	flags := pflag.NewFlagSet("ingestd", pflag.ExitOnError)
	cfg.Bind(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return errors.Wrap(err, "parsing flags")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, cleanup, err := core.New(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "starting ingestion core")
	}
	defer cleanup()

	log.WithFields(log.Fields{
		"keyspace": c.Config.Keyspace,
		"hosts":    c.Config.Hosts,
	}).Info("ingestion batching core ready")

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
