// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/farmrun/internal/logging"
)

// shutdown tears the run down and returns the exit code. Only the first call
// does any work; later calls return the code chosen by the first.
//
// The tunnel is stopped first, then every worker that has a handle and no
// termination in flight is terminated concurrently. Workers whose creation
// is still in flight are abandoned.
func (o *Orchestrator) shutdown(ctx context.Context, code int) int {
	if o.inShutdown {
		return o.exitCode
	}
	o.inShutdown = true
	o.exitCode = code
	close(o.quit)

	// Termination must go through even if the run was canceled.
	ctx = context.WithoutCancel(ctx)

	if o.tunnel != nil {
		if err := o.tunnel.Kill(); err != nil {
			logging.Debug(ctx, "Tunnel exited: ", err)
		}
	}

	ids := maps.Keys(o.runs)
	slices.Sort(ids)
	var handles []string
	for _, id := range ids {
		rec := o.runs[id]
		if rec.hasHandle && !rec.terminating {
			rec.terminating = true
			handles = append(handles, rec.handle)
		}
	}

	if len(handles) > 0 {
		logging.Info(ctx, "Stopping workers: ", strings.Join(handles, ", "))
	}
	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if err := o.farm.TerminateWorker(ctx, h); err != nil {
				logging.Infof(ctx, "Failed to stop worker %s: %v", h, err)
				return err
			}
			logging.Debugf(ctx, "Stopped worker %s", h)
			return nil
		})
	}
	g.Wait()
	o.inflight.Wait()

	return o.exitCode
}
