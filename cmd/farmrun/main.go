// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the farmrun executable, which runs a browser test
// page on a remote browser farm and reports the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/term"
)

// Version is the version info of this command. It is filled in at build time.
var Version = "<unknown>"

// restoreTerminal snapshots the terminal state of stdin and returns a
// function restoring it. The tunnel subprocess shares our terminal and may
// leave it in a bad state when it is killed.
func restoreTerminal() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	st, err := term.GetState(fd)
	if err != nil {
		return func() {}
	}
	return func() { term.Restore(fd, st) }
}

// doMain implements the main body of the program. It's a separate function so
// that its deferred functions will run before os.Exit makes the program exit
// immediately.
func doMain() int {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newRunCmd(os.Stdout, os.Stderr), "")
	subcommands.Register(newBrowsersCmd(os.Stdout, os.Stderr), "")

	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("farmrun version %s\n", Version)
		return 0
	}

	defer restoreTerminal()()

	return int(subcommands.Execute(context.Background()))
}

func main() {
	os.Exit(doMain())
}
