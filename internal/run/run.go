// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package run coordinates a test run on the browser farm: it brings up the
// local servers and the tunnel, launches remote workers, collects their
// results and tears everything down again.
package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/farmrun/internal/assets"
	"go.chromium.org/farmrun/internal/collector"
	"go.chromium.org/farmrun/internal/config"
	"go.chromium.org/farmrun/internal/farm"
	"go.chromium.org/farmrun/internal/logging"
	"go.chromium.org/farmrun/internal/portalloc"
	"go.chromium.org/farmrun/internal/tap"
	"go.chromium.org/farmrun/internal/tunnel"
)

// Process exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// Tunnel is the part of tunnel.Supervisor the orchestrator relies on.
type Tunnel interface {
	Ready() <-chan struct{}
	Done() <-chan struct{}
	Kill() error
}

// TunnelStarter starts a tunnel. StartTunnel is the real implementation.
type TunnelStarter func(ctx context.Context, opts *tunnel.Options) (Tunnel, error)

// StartTunnel starts a real tunnel subprocess.
func StartTunnel(ctx context.Context, opts *tunnel.Options) (Tunnel, error) {
	return tunnel.Start(ctx, opts)
}

// Options holds the collaborators of an Orchestrator.
type Options struct {
	Config *config.Config
	Farm   farm.Client
	Ports  *portalloc.Allocator

	// Signals delivers OS signals that should shut the run down.
	Signals <-chan os.Signal

	// StartTunnel defaults to StartTunnel.
	StartTunnel TunnelStarter

	// Stdout receives reports and the summary; Stderr receives fatal
	// errors. They default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Orchestrator runs one test run. All of its mutable state is owned by the
// goroutine executing Run; other goroutines talk to it through events.
type Orchestrator struct {
	cfg         *config.Config
	farm        farm.Client
	ports       *portalloc.Allocator
	signals     <-chan os.Signal
	startTunnel TunnelStarter
	stdout      io.Writer
	stderr      io.Writer

	events chan interface{}
	quit   chan struct{} // closed when shutdown starts

	portPair tunnel.PortPair
	tunnel   Tunnel

	runs       map[string]*runRecord
	usedIDs    map[string]struct{}
	agg        aggregate
	inShutdown bool
	exitCode   int

	// inflight counts termination requests issued outside of shutdown.
	inflight sync.WaitGroup
}

// Events delivered to the control loop.
type (
	launchDone struct {
		id     string
		handle string
		err    error
	}
	resultReceived struct {
		id     string
		result *tap.Result
	}
	terminateDone struct {
		id  string
		err error
	}
)

// New creates an Orchestrator.
func New(opts *Options) *Orchestrator {
	o := &Orchestrator{
		cfg:         opts.Config,
		farm:        opts.Farm,
		ports:       opts.Ports,
		signals:     opts.Signals,
		startTunnel: opts.StartTunnel,
		stdout:      opts.Stdout,
		stderr:      opts.Stderr,
		events:      make(chan interface{}),
		quit:        make(chan struct{}),
		runs:        make(map[string]*runRecord),
		usedIDs:     make(map[string]struct{}),
	}
	if o.ports == nil {
		o.ports = portalloc.New(portalloc.DefaultBase)
	}
	if o.startTunnel == nil {
		o.startTunnel = StartTunnel
	}
	if o.stdout == nil {
		o.stdout = os.Stdout
	}
	if o.stderr == nil {
		o.stderr = os.Stderr
	}
	return o
}

// Run executes the test run and returns the process exit code. An error is
// returned only if the local servers or the tunnel could not be started, in
// which case nothing remote has been created yet.
//
// Run may only be called once.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	// Abandoned farm requests are canceled once the run is over.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	assetSrv, collectorSrv, err := o.startServers(ctx)
	if err != nil {
		return ExitFailure, err
	}
	defer assetSrv.Close()
	defer collectorSrv.Close()

	o.portPair = tunnel.PortPair{AssetPort: assetSrv.Port(), CollectorPort: collectorSrv.Port()}
	logging.Debugf(ctx, "Serving %s on port %d, collecting results on port %d",
		o.cfg.Directory, o.portPair.AssetPort, o.portPair.CollectorPort)

	t, err := o.startTunnel(ctx, &tunnel.Options{
		Command: o.cfg.TunnelCommand,
		Key:     o.cfg.Key,
		Ports:   o.portPair,
		Verbose: o.cfg.Verbose,
		Stdout:  o.stdout,
		Stderr:  o.stderr,
	})
	if err != nil {
		return ExitFailure, errors.Wrap(err, "failed to start tunnel")
	}
	o.tunnel = t

	return o.loop(ctx), nil
}

// startServers starts the asset server and the result collector in parallel
// and returns once both are listening.
func (o *Orchestrator) startServers(ctx context.Context) (*assets.Server, *collector.Server, error) {
	var assetSrv *assets.Server
	var collectorSrv *collector.Server

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		port, err := o.ports.Allocate(gctx)
		if err != nil {
			return errors.Wrap(err, "failed to allocate asset port")
		}
		assetSrv, err = assets.Start(ctx, o.cfg.Directory, port)
		return err
	})
	g.Go(func() error {
		port := *o.cfg.CollectorPort
		if port == 0 {
			var err error
			if port, err = o.ports.Allocate(gctx); err != nil {
				return errors.Wrap(err, "failed to allocate collector port")
			}
		}
		var err error
		collectorSrv, err = collector.Start(ctx, port, o.submitResult)
		return err
	})
	if err := g.Wait(); err != nil {
		if assetSrv != nil {
			assetSrv.Close()
		}
		if collectorSrv != nil {
			collectorSrv.Close()
		}
		return nil, nil, err
	}
	return assetSrv, collectorSrv, nil
}

// loop is the control loop. It returns the exit code once shutdown is done.
func (o *Orchestrator) loop(ctx context.Context) int {
	ready := o.tunnel.Ready()
	done := o.tunnel.Done()

	for {
		select {
		case <-ready:
			ready = nil
			logging.Info(ctx, "Tunnel is up; launching browsers")
			o.launchAll(ctx)

		case <-done:
			// Readiness happens before the stream ends, but select may
			// pick either when both are pending.
			wasReady := ready == nil || isClosed(ready)
			if wasReady {
				fmt.Fprintln(o.stderr, "ERROR: tunnel exited unexpectedly, see --verbose output for more info")
			} else {
				fmt.Fprintln(o.stderr, "ERROR: tunnel failed to start, see --verbose output for more info")
			}
			return o.shutdown(ctx, ExitFailure)

		case ev := <-o.events:
			if code, finished := o.handleEvent(ctx, ev); finished {
				return code
			}

		case sig := <-o.signals:
			logging.Infof(ctx, "Caught %v signal; shutting down", sig)
			return o.shutdown(ctx, ExitSuccess)

		case <-ctx.Done():
			fmt.Fprintf(o.stderr, "ERROR: run aborted: %v\n", ctx.Err())
			return o.shutdown(ctx, ExitFailure)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev interface{}) (code int, finished bool) {
	switch ev := ev.(type) {
	case launchDone:
		return o.onLaunchDone(ctx, ev)
	case resultReceived:
		return o.onResult(ctx, ev)
	case terminateDone:
		return o.onTerminateDone(ctx, ev)
	default:
		panic(fmt.Sprintf("unknown event %T", ev))
	}
}

// send delivers ev to the control loop unless shutdown has begun.
func (o *Orchestrator) send(ev interface{}) {
	select {
	case o.events <- ev:
	case <-o.quit:
	}
}

// submitResult is called by the collector. It returns once the control loop
// has taken the result.
func (o *Orchestrator) submitResult(id string, res *tap.Result) {
	o.send(resultReceived{id: id, result: res})
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
