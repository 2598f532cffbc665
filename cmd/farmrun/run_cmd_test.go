// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"

	"go.chromium.org/farmrun/internal/config"
	"go.chromium.org/farmrun/testutil"
)

// stubRunWrapper is a stub implementation of runWrapper used for testing.
type stubRunWrapper struct {
	code int
	err  error

	gotCfg *config.Config
}

func (w *stubRunWrapper) run(ctx context.Context, cfg *config.Config, sigs <-chan os.Signal, stdout, stderr io.Writer) (int, error) {
	w.gotCfg = cfg
	return w.code, w.err
}

const testConfig = `
bs_username: user
bs_password: pass
bs_key: key
test_file: test/index.html
directory: /srv/tests
browsers:
  - browser: chrome
    version: "120.0"
    os: win
`

// executeRunCmd creates a runCmd and executes it using the supplied args and wrapper.
func executeRunCmd(t *testing.T, args []string, wrapper *stubRunWrapper) (subcommands.ExitStatus, string) {
	var stdout, stderr bytes.Buffer
	cmd := newRunCmd(&stdout, &stderr)
	cmd.wrapper = wrapper
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	cmd.SetFlags(flags)
	if err := flags.Parse(args); err != nil {
		t.Fatal(err)
	}
	status := cmd.Execute(context.Background(), flags)
	return status, stderr.String()
}

func TestRunCmdPassesExitCode(t *testing.T) {
	_, path := testutil.WriteConfig(t, testConfig)

	for _, code := range []int{0, 1} {
		wrapper := &stubRunWrapper{code: code}
		args := []string{"-config", path}
		if status, stderr := executeRunCmd(t, args, wrapper); status != subcommands.ExitStatus(code) {
			t.Errorf("runCmd.Execute(%v) returned status %v; want %v (stderr %q)", args, status, code, stderr)
		}
	}
}

func TestRunCmdOverrides(t *testing.T) {
	_, path := testutil.WriteConfig(t, testConfig)

	wrapper := &stubRunWrapper{}
	args := []string{"-config", path, "-bs_key", "otherkey", "-testfile", "other.html", "-verbose"}
	if status, stderr := executeRunCmd(t, args, wrapper); status != subcommands.ExitSuccess {
		t.Fatalf("runCmd.Execute(%v) returned status %v; want %v (stderr %q)", args, status, subcommands.ExitSuccess, stderr)
	}

	cfg := wrapper.gotCfg
	got := []interface{}{cfg.Username, cfg.Key, cfg.TestFile, cfg.Directory, cfg.Verbose}
	want := []interface{}{"user", "otherkey", "other.html", "/srv/tests", true}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Resolved config mismatch (-got +want):\n%s", diff)
	}
}

func TestRunCmdMissingKey(t *testing.T) {
	_, path := testutil.WriteConfig(t, strings.Replace(testConfig, "bs_key: key\n", "", 1))

	wrapper := &stubRunWrapper{}
	args := []string{"-config", path}
	status, stderr := executeRunCmd(t, args, wrapper)
	if status != subcommands.ExitUsageError {
		t.Errorf("runCmd.Execute(%v) returned status %v; want %v", args, status, subcommands.ExitUsageError)
	}
	if want := "bs_key not set in config or cli arguments"; !strings.Contains(stderr, want) {
		t.Errorf("runCmd.Execute(%v) printed %q; want it to contain %q", args, stderr, want)
	}
	if wrapper.gotCfg != nil {
		t.Error("Run was started despite a missing key")
	}
}

func TestRunCmdKeyFromFlag(t *testing.T) {
	_, path := testutil.WriteConfig(t, strings.Replace(testConfig, "bs_key: key\n", "", 1))

	wrapper := &stubRunWrapper{}
	args := []string{"-config", path, "-bs_key", "flagkey"}
	if status, stderr := executeRunCmd(t, args, wrapper); status != subcommands.ExitSuccess {
		t.Fatalf("runCmd.Execute(%v) returned status %v; want %v (stderr %q)", args, status, subcommands.ExitSuccess, stderr)
	}
	if wrapper.gotCfg.Key != "flagkey" {
		t.Errorf("Key = %q; want %q", wrapper.gotCfg.Key, "flagkey")
	}
}

func TestRunCmdRunError(t *testing.T) {
	_, path := testutil.WriteConfig(t, testConfig)

	wrapper := &stubRunWrapper{err: io.ErrUnexpectedEOF}
	args := []string{"-config", path}
	status, stderr := executeRunCmd(t, args, wrapper)
	if status != subcommands.ExitFailure {
		t.Errorf("runCmd.Execute(%v) returned status %v; want %v", args, status, subcommands.ExitFailure)
	}
	if !strings.Contains(stderr, "ERROR: unexpected EOF") {
		t.Errorf("runCmd.Execute(%v) printed %q; want the run error", args, stderr)
	}
}
