// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"fmt"
	"io"

	"go.chromium.org/farmrun/internal/config"
	"go.chromium.org/farmrun/internal/logging"
	"go.chromium.org/farmrun/internal/tap"
)

func (o *Orchestrator) onResult(ctx context.Context, ev resultReceived) (int, bool) {
	rec, ok := o.runs[ev.id]
	if !ok {
		logging.Infof(ctx, "Ignoring result for unknown run %q", ev.id)
		return 0, false
	}
	if rec.gotResult {
		logging.Info(rec.logContext(ctx), "Ignoring duplicate result")
		return 0, false
	}
	rec.gotResult = true

	writeReport(o.stdout, rec.instance, ev.result)
	o.agg.add(ev.result)

	if !rec.hasHandle {
		logging.Debug(rec.logContext(ctx), "Result arrived before the worker was started; deferring termination")
		rec.pendingTerminate = true
		return 0, false
	}
	o.terminate(ctx, rec)
	return 0, false
}

// terminate issues a termination request for rec's worker.
func (o *Orchestrator) terminate(ctx context.Context, rec *runRecord) {
	if rec.terminating {
		return
	}
	rec.terminating = true
	o.inflight.Add(1)
	go func(id, handle string) {
		defer o.inflight.Done()
		err := o.farm.TerminateWorker(ctx, handle)
		o.send(terminateDone{id: id, err: err})
	}(rec.id, rec.handle)
}

func (o *Orchestrator) onTerminateDone(ctx context.Context, ev terminateDone) (int, bool) {
	rec, ok := o.runs[ev.id]
	if !ok {
		return 0, false
	}
	if ev.err != nil {
		fmt.Fprintf(o.stderr, "ERROR: failed to terminate worker %s: %v\n", rec.handle, ev.err)
		return o.shutdown(ctx, ExitFailure), true
	}

	delete(o.runs, ev.id)
	logging.Debugf(rec.logContext(ctx), "Successfully terminated worker %s", rec.handle)

	if len(o.runs) > 0 {
		return 0, false
	}
	fmt.Fprintln(o.stdout, o.agg.summary())
	return o.shutdown(ctx, o.agg.exitCode()), true
}

const reportRule = "----------"

// writeReport writes a single run's result framed by START and END lines.
func writeReport(w io.Writer, spec config.BrowserSpec, res *tap.Result) {
	fmt.Fprintf(w, "# START -- %s %s\n%s\n# END ---- %s %s\n",
		spec, reportRule, tap.Render(res), spec, reportRule)
}
