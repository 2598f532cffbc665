// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tap

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"
)

// diagnostic is the YAML block emitted below a failing test line.
type diagnostic struct {
	Message  string      `yaml:"message,omitempty"`
	Expected interface{} `yaml:"expected,omitempty"`
	Actual   interface{} `yaml:"actual,omitempty"`
	At       string      `yaml:"at,omitempty"`
}

// Render converts r into TAP version 13 text. The returned string has no
// trailing newline.
func Render(r *Result) string {
	var lines []string
	lines = append(lines, "TAP version 13")

	for i, a := range r.Tests {
		status := "ok"
		if !a.OK && !a.Skip {
			status = "not ok"
		}
		line := fmt.Sprintf("%s %d %s", status, i+1, a.Name)
		if a.Skip {
			line += " # SKIP"
		}
		lines = append(lines, line)
		if !a.OK && !a.Skip {
			lines = append(lines, diagnosticLines(a)...)
		}
	}

	total := r.Total
	if total == 0 {
		total = len(r.Tests)
	}
	passed := r.Passed
	if passed == 0 && len(r.Tests) > 0 {
		for _, a := range r.Tests {
			if a.OK {
				passed++
			}
		}
	}

	lines = append(lines,
		fmt.Sprintf("1..%d", len(r.Tests)),
		fmt.Sprintf("# tests %d", total),
		fmt.Sprintf("# pass  %d", passed),
		fmt.Sprintf("# fail  %d", r.FailureCount()),
	)
	if r.Runtime > 0 {
		lines = append(lines, fmt.Sprintf("# time  %dms", r.Runtime))
	}
	return strings.Join(lines, "\n")
}

func diagnosticLines(a Assertion) []string {
	if a.Message == "" && a.Expected == nil && a.Actual == nil && a.Source == "" {
		return nil
	}
	d := diagnostic{
		Message:  a.Message,
		Expected: a.Expected,
		Actual:   a.Actual,
		At:       a.Source,
	}
	b, err := yaml.Marshal(&d)
	if err != nil {
		return nil
	}
	lines := []string{"  ---"}
	for _, l := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		lines = append(lines, "  "+l)
	}
	return append(lines, "  ...")
}
