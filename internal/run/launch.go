// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.chromium.org/farmrun/internal/logging"
)

// launchAll creates a run record for every configured browser and issues
// all worker creation requests concurrently.
func (o *Orchestrator) launchAll(ctx context.Context) {
	for _, spec := range o.cfg.Browsers {
		rec := &runRecord{id: o.allocateRunID(), instance: spec}
		o.runs[rec.id] = rec

		params := o.workerParams(rec)
		if b, err := json.Marshal(params); err == nil {
			logging.Debugf(rec.logContext(ctx), "Launching %s: %s", rec.instance, b)
		}

		go func(id string) {
			handle, err := o.farm.CreateWorker(ctx, params)
			o.send(launchDone{id: id, handle: handle, err: err})
		}(rec.id)
	}
}

// allocateRunID returns an ID never handed out before in this run.
func (o *Orchestrator) allocateRunID() string {
	for {
		id := newRunID()
		if _, ok := o.usedIDs[id]; ok {
			continue
		}
		o.usedIDs[id] = struct{}{}
		return id
	}
}

// testURL is the URL a worker loads for the run with the given ID.
func (o *Orchestrator) testURL(id string) string {
	return fmt.Sprintf("http://localhost:%d/%s?id=%s",
		o.portPair.AssetPort, strings.TrimPrefix(o.cfg.TestFile, "/"), id)
}

func (o *Orchestrator) workerParams(rec *runRecord) map[string]interface{} {
	params := rec.instance.Params()
	params["url"] = o.testURL(rec.id)
	params["name"] = rec.id
	if o.cfg.Build != "" {
		params["build"] = o.cfg.Build
	}
	if o.cfg.Project != "" {
		params["project"] = o.cfg.Project
	}
	return params
}

func (o *Orchestrator) onLaunchDone(ctx context.Context, ev launchDone) (int, bool) {
	rec, ok := o.runs[ev.id]
	if !ok {
		return 0, false
	}
	if ev.err != nil {
		fmt.Fprintf(o.stderr, "ERROR: failed to launch %s: %v\n", rec.instance, ev.err)
		return o.shutdown(ctx, ExitFailure), true
	}

	rec.handle = ev.handle
	rec.hasHandle = true
	logging.Debugf(rec.logContext(ctx), "Worker %s started for %s", rec.handle, rec.instance)

	if rec.pendingTerminate {
		o.terminate(ctx, rec)
	}
	return 0, false
}
