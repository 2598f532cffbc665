// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"io"
	"os"

	"go.chromium.org/farmrun/internal/config"
	"go.chromium.org/farmrun/internal/farm"
	"go.chromium.org/farmrun/internal/run"
)

// runWrapper is a wrapper that allows the run package to be stubbed out for testing.
type runWrapper interface {
	// run runs the orchestrator and returns its exit code.
	run(ctx context.Context, cfg *config.Config, sigs <-chan os.Signal, stdout, stderr io.Writer) (int, error)
}

// realRunWrapper is a runWrapper implementation that calls the real run package.
type realRunWrapper struct{}

func (realRunWrapper) run(ctx context.Context, cfg *config.Config, sigs <-chan os.Signal, stdout, stderr io.Writer) (int, error) {
	o := run.New(&run.Options{
		Config:  cfg,
		Farm:    farm.NewRESTClient(cfg.APIURL, cfg.Username, cfg.Password, nil),
		Signals: sigs,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	return o.Run(ctx)
}
