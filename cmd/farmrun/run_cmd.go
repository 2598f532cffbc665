// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"go.chromium.org/farmrun/internal/config"
	"go.chromium.org/farmrun/internal/logging"
	"go.chromium.org/farmrun/shutil"
)

// runCmd implements subcommands.Command to run the test page on the farm.
type runCmd struct {
	cfg     config.MutableConfig
	timeout time.Duration // overall timeout; 0 if no timeout
	wrapper runWrapper    // can be set by tests to stub out calls to run package
	stdout  io.Writer
	stderr  io.Writer
}

var _ = subcommands.Command(&runCmd{})

func newRunCmd(stdout, stderr io.Writer) *runCmd {
	return &runCmd{
		wrapper: realRunWrapper{},
		stdout:  stdout,
		stderr:  stderr,
	}
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run the test page in every configured browser" }
func (*runCmd) Usage() string {
	return `Usage: run [flag]...

Description:
    Serves the test directory, opens a tunnel to the browser farm and loads
    the test file in every browser listed in the configuration file. Each
    browser's results are printed as they arrive, followed by a summary.
    Exits with 0 if no test failed or the run was interrupted, and with 1 on
    test failures or farm errors.

    The test page reports its results to the collector by loading
    /client.js from the collector port and calling farmrun.report.

Flag:
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	r.cfg.SetFlags(f)
	f.DurationVar(&r.timeout, "timeout", 0, "abort the run after this long; 0 waits indefinitely")
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := r.cfg.Resolve()
	if err != nil {
		fmt.Fprintln(r.stderr, "ERROR:", err)
		return subcommands.ExitUsageError
	}

	level := logging.LevelInfo
	if cfg.Verbose {
		level = logging.LevelDebug
	}
	ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(level, cfg.Verbose, logging.NewWriterSink(r.stderr)))

	logging.Debug(ctx, "Command line: ", shutil.CommandLine(os.Args, cfg.Password, cfg.Key))

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	done := make(chan struct{})
	defer close(done)
	sc := notifyOnce(done, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)

	code, err := r.wrapper.run(ctx, cfg, sc, r.stdout, r.stderr)
	if err != nil {
		fmt.Fprintln(r.stderr, "ERROR:", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitStatus(code)
}
