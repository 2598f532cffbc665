// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tap models test results submitted by remote browsers and converts
// them to TAP (Test Anything Protocol) text.
package tap

// Result is the outcome of one test page run in one browser, as submitted by
// the client script.
type Result struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Runtime int `json:"runtime"` // in milliseconds

	Tests []Assertion `json:"tests,omitempty"`
}

// Assertion is a single reported test case.
type Assertion struct {
	Name     string      `json:"name"`
	OK       bool        `json:"ok"`
	Skip     bool        `json:"skip,omitempty"`
	Message  string      `json:"message,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Actual   interface{} `json:"actual,omitempty"`
	Source   string      `json:"source,omitempty"`
}

// FailureCount returns the number of failures in r. The submitted Failed
// count is authoritative; when it is zero the failing assertions are counted
// instead, so that a client reporting only individual tests is still judged.
func (r *Result) FailureCount() int {
	if r.Failed > 0 {
		return r.Failed
	}
	n := 0
	for _, a := range r.Tests {
		if !a.OK && !a.Skip {
			n++
		}
	}
	return n
}
