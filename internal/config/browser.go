// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"fmt"
)

// BrowserSpec describes one browser/OS combination to launch on the farm.
type BrowserSpec struct {
	Browser string `yaml:"browser"`
	Version string `yaml:"version"`
	OS      string `yaml:"os"`

	// Extra holds any further platform fields (e.g. os_version, device).
	// They are passed to the farm API untouched.
	Extra map[string]interface{} `yaml:",inline"`
}

// String returns a human-readable name such as "chrome 120.0 (Windows)".
func (b BrowserSpec) String() string {
	return fmt.Sprintf("%s %s (%s)", b.Browser, b.Version, b.OS)
}

// Params returns the fields of b as a JSON-encodable map, as expected by the
// farm's worker creation API. The returned map is freshly allocated, so
// callers may add request-specific fields like "url" to it.
func (b BrowserSpec) Params() map[string]interface{} {
	params := make(map[string]interface{}, len(b.Extra)+3)
	for k, v := range b.Extra {
		params[k] = jsonValue(v)
	}
	for k, v := range map[string]string{"browser": b.Browser, "version": b.Version, "os": b.OS} {
		if v != "" {
			params[k] = v
		}
	}
	return params
}

// jsonValue converts maps decoded by yaml.v2, which have interface{} keys,
// into maps encoding/json can marshal.
func jsonValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))
		for k, e := range v {
			m[fmt.Sprint(k)] = jsonValue(e)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(v))
		for i, e := range v {
			s[i] = jsonValue(e)
		}
		return s
	default:
		return v
	}
}
