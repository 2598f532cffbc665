// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"go.chromium.org/farmrun/internal/config"
	"go.chromium.org/farmrun/internal/logging"
	"go.chromium.org/farmrun/internal/tap"
)

const (
	runIDPrefix = "bs_"
	runIDLen    = 4
)

// newRunID returns a random run ID of the form "bs_xxxx" with 4 base-36
// digits.
func newRunID() string {
	n := rand.Int63n(36 * 36 * 36 * 36)
	s := strconv.FormatInt(n, 36)
	return runIDPrefix + strings.Repeat("0", runIDLen-len(s)) + s
}

// runRecord tracks one launched browser until its worker is terminated.
type runRecord struct {
	id       string
	instance config.BrowserSpec

	// handle identifies the remote worker. It is set exactly once, when the
	// creation request succeeds; hasHandle tells whether that happened.
	handle    string
	hasHandle bool

	// gotResult is set once a result has been processed for this run.
	gotResult bool
	// pendingTerminate is set if the result arrived before the handle.
	pendingTerminate bool
	// terminating is set once a termination request has been issued.
	terminating bool
}

// logContext returns ctx with logs prefixed by the run ID.
func (r *runRecord) logContext(ctx context.Context) context.Context {
	return logging.WithPrefix(ctx, "["+r.id+"] ")
}

// aggregate accumulates results as they arrive.
type aggregate struct {
	totalRuns   int
	totalFailed int
}

func (a *aggregate) add(res *tap.Result) {
	a.totalRuns++
	a.totalFailed += res.FailureCount()
}

func (a *aggregate) summary() string {
	return fmt.Sprintf("out of %d test runs, %d failed", a.totalRuns, a.totalFailed)
}

func (a *aggregate) exitCode() int {
	if a.totalFailed == 0 {
		return ExitSuccess
	}
	return ExitFailure
}
