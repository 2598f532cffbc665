// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package shutil formats command lines for logs.
package shutil

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// The character class \w is equivalent to [0-9A-Za-z_]. Leading equals sign is unsafe in zsh.
	leadingSafeChars  = `-\w@%+:,./`
	trailingSafeChars = leadingSafeChars + "="

	// redacted replaces secret arguments in logged command lines.
	redacted = "<redacted>"
)

// safeRE matches an argument that can be literally included in a shell
// command line without requiring escaping.
var safeRE = regexp.MustCompile(fmt.Sprintf("^[%s][%s]*$", leadingSafeChars, trailingSafeChars))

// Escape escapes a string so it can be safely included as an argument in a shell command line.
// The string is not modified if it can already be safely included.
func Escape(s string) string {
	if safeRE.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// CommandLine joins args into a shell command line suitable for logging.
// Arguments equal to one of secrets are replaced so that credentials such as
// the tunnel key never reach the logs. Empty secrets are ignored.
func CommandLine(args []string, secrets ...string) string {
	hide := make(map[string]struct{}, len(secrets))
	for _, s := range secrets {
		if s != "" {
			hide[s] = struct{}{}
		}
	}
	escaped := make([]string, len(args))
	for i, arg := range args {
		if _, ok := hide[arg]; ok {
			escaped[i] = redacted
			continue
		}
		escaped[i] = Escape(arg)
	}
	return strings.Join(escaped, " ")
}
