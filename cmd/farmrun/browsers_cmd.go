// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"github.com/jedib0t/go-pretty/v6/table"

	"go.chromium.org/farmrun/internal/config"
	"go.chromium.org/farmrun/internal/farm"
)

// browsersCmd implements subcommands.Command to list the farm's browsers.
type browsersCmd struct {
	cfg    config.MutableConfig
	stdout io.Writer
	stderr io.Writer
}

var _ = subcommands.Command(&browsersCmd{})

func newBrowsersCmd(stdout, stderr io.Writer) *browsersCmd {
	return &browsersCmd{stdout: stdout, stderr: stderr}
}

func (*browsersCmd) Name() string     { return "browsers" }
func (*browsersCmd) Synopsis() string { return "list browsers offered by the farm" }
func (*browsersCmd) Usage() string {
	return `Usage: browsers [flag]...

Description:
    Prints the browser/OS combinations the farm can launch. Entries of the
    "browsers" list in the configuration file use the same fields.

Flag:
`
}

func (b *browsersCmd) SetFlags(f *flag.FlagSet) {
	b.cfg.SetCredentialFlags(f)
}

func (b *browsersCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := b.cfg.ResolveCredentials()
	if err != nil {
		fmt.Fprintln(b.stderr, "ERROR:", err)
		return subcommands.ExitUsageError
	}

	cl := farm.NewRESTClient(cfg.APIURL, cfg.Username, cfg.Password, nil)
	browsers, err := cl.Browsers(ctx)
	if err != nil {
		fmt.Fprintln(b.stderr, "ERROR: failed to list browsers:", err)
		return subcommands.ExitFailure
	}

	writeBrowserTable(b.stdout, browsers)
	return subcommands.ExitSuccess
}

func writeBrowserTable(w io.Writer, browsers []farm.Browser) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Browser", "Version", "OS", "OS Version", "Device"})
	for _, br := range browsers {
		t.AppendRow(table.Row{br.Browser, br.BrowserVersion, br.OS, br.OSVersion, br.Device})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(browsers)})
	t.Render()
}
