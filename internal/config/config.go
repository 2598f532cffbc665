// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads farmrun configuration files and merges command line
// overrides into them.
package config

import (
	"flag"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultPath is the configuration file read when -config is not given.
	DefaultPath = "./config.json"

	// DefaultCollectorPort is the well-known port the result collector
	// listens on unless the config says otherwise.
	DefaultCollectorPort = 1942

	// DefaultAPIURL is the base URL of the browser farm's REST API.
	DefaultAPIURL = "https://api.browserstack.com/4"
)

// DefaultTunnelCommand is the tunnel executable and its leading arguments.
// The tunnel key and the forwarding spec are appended to it.
var DefaultTunnelCommand = []string{"java", "-jar", "ext/BrowserStackTunnel.jar"}

// Keys of required settings, in the order they are validated.
const (
	KeyUsername  = "bs_username"
	KeyPassword  = "bs_password"
	KeyKey       = "bs_key"
	KeyTestFile  = "test_file"
	KeyDirectory = "directory"
	KeyBrowsers  = "browsers"
)

// Config is the resolved configuration of a run.
type Config struct {
	Username  string        `yaml:"bs_username"`
	Password  string        `yaml:"bs_password"`
	Key       string        `yaml:"bs_key"`
	TestFile  string        `yaml:"test_file"`
	Directory string        `yaml:"directory"`
	Browsers  []BrowserSpec `yaml:"browsers"`

	// TunnelCommand overrides DefaultTunnelCommand.
	TunnelCommand []string `yaml:"tunnel_command"`
	// CollectorPort overrides DefaultCollectorPort. 0 asks for an allocated
	// port, which only suits pages that do not hard-code the collector URL.
	CollectorPort *int `yaml:"collector_port"`
	// APIURL overrides DefaultAPIURL.
	APIURL string `yaml:"api_url"`
	// Build and Project are attached to every worker so that runs are
	// grouped in the farm's dashboard. Build defaults to a random UUID.
	Build   string `yaml:"build"`
	Project string `yaml:"project"`

	// Verbose is only set from the command line.
	Verbose bool `yaml:"-"`
}

// Load reads and parses the configuration file at path. Both YAML and JSON
// are accepted. No validation is performed.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return &cfg, nil
}

// MutableConfig holds command line flags that override fields of a
// configuration file. Call SetFlags, parse the flag set, then Resolve.
type MutableConfig struct {
	Path      string
	Username  string
	Password  string
	Key       string
	TestFile  string
	Directory string
	Verbose   bool
}

// SetFlags registers the override flags in f.
func (m *MutableConfig) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.Path, "config", DefaultPath, "path to configuration file")
	f.StringVar(&m.Username, "bs_username", "", "browser farm username")
	f.StringVar(&m.Password, "bs_password", "", "browser farm password")
	f.StringVar(&m.Key, "bs_key", "", "browser farm automated testing (tunnel) key")
	f.StringVar(&m.TestFile, "testfile", "", "path to test file relative to the testing directory")
	f.StringVar(&m.Directory, "directory", "", "directory to host files from")
	f.BoolVar(&m.Verbose, "verbose", false, "output debugging information")
}

// SetCredentialFlags registers only the flags needed to talk to the farm API.
func (m *MutableConfig) SetCredentialFlags(f *flag.FlagSet) {
	f.StringVar(&m.Path, "config", DefaultPath, "path to configuration file")
	f.StringVar(&m.Username, "bs_username", "", "browser farm username")
	f.StringVar(&m.Password, "bs_password", "", "browser farm password")
}

// Resolve loads the configuration file, applies overrides and fills in
// defaults. It fails naming the first required key without a value.
func (m *MutableConfig) Resolve() (*Config, error) {
	return m.resolve(KeyUsername, KeyPassword, KeyKey, KeyTestFile, KeyDirectory, KeyBrowsers)
}

// ResolveCredentials is like Resolve but only requires farm credentials.
func (m *MutableConfig) ResolveCredentials() (*Config, error) {
	return m.resolve(KeyUsername, KeyPassword)
}

func (m *MutableConfig) resolve(required ...string) (*Config, error) {
	path := m.Path
	if path == "" {
		path = DefaultPath
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Username, m.Username)
	override(&cfg.Password, m.Password)
	override(&cfg.Key, m.Key)
	override(&cfg.TestFile, m.TestFile)
	override(&cfg.Directory, m.Directory)
	cfg.Verbose = m.Verbose

	if err := cfg.validate(required); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) validate(required []string) error {
	for _, key := range required {
		var set bool
		switch key {
		case KeyUsername:
			set = c.Username != ""
		case KeyPassword:
			set = c.Password != ""
		case KeyKey:
			set = c.Key != ""
		case KeyTestFile:
			set = c.TestFile != ""
		case KeyDirectory:
			set = c.Directory != ""
		case KeyBrowsers:
			set = len(c.Browsers) > 0
		default:
			return errors.Errorf("unknown config key %q", key)
		}
		if !set {
			return errors.Errorf("%s not set in config or cli arguments", key)
		}
	}
	if c.CollectorPort != nil && (*c.CollectorPort < 0 || *c.CollectorPort > 65535) {
		return errors.Errorf("collector_port %d out of range", *c.CollectorPort)
	}
	return nil
}

func (c *Config) fillDefaults() {
	if len(c.TunnelCommand) == 0 {
		c.TunnelCommand = append([]string(nil), DefaultTunnelCommand...)
	}
	if c.CollectorPort == nil {
		port := DefaultCollectorPort
		c.CollectorPort = &port
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.Build == "" {
		c.Build = uuid.New().String()
	}
}
