// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.chromium.org/farmrun/internal/collector"
	"go.chromium.org/farmrun/internal/config"
	"go.chromium.org/farmrun/internal/farm"
	"go.chromium.org/farmrun/internal/logging"
	"go.chromium.org/farmrun/internal/logging/loggingtest"
	"go.chromium.org/farmrun/internal/portalloc"
	"go.chromium.org/farmrun/internal/tap"
	"go.chromium.org/farmrun/internal/tunnel"
	"go.chromium.org/farmrun/testutil"
)

const testTimeout = 10 * time.Second

// fakeFarm is an in-memory farm.Client.
type fakeFarm struct {
	// launched receives the run ID of every creation request on entry.
	launched chan string

	// hold blocks creation of the named browsers until the channel is
	// closed.
	hold          map[string]chan struct{}
	failCreate    map[string]bool
	failTerminate bool

	mu         sync.Mutex
	nextHandle int
	urls       []string
	terminated []string
}

var _ farm.Client = &fakeFarm{}

func newFakeFarm() *fakeFarm {
	return &fakeFarm{
		launched:   make(chan string, 64),
		hold:       make(map[string]chan struct{}),
		failCreate: make(map[string]bool),
	}
}

func (f *fakeFarm) CreateWorker(ctx context.Context, params map[string]interface{}) (string, error) {
	id, _ := params["name"].(string)
	browser, _ := params["browser"].(string)
	f.mu.Lock()
	f.urls = append(f.urls, fmt.Sprint(params["url"]))
	f.mu.Unlock()
	f.launched <- id

	if ch, ok := f.hold[browser]; ok {
		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.failCreate[browser] {
		return "", errors.New("quota exceeded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	return fmt.Sprintf("worker%d", f.nextHandle), nil
}

func (f *fakeFarm) TerminateWorker(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failTerminate {
		return errors.New("internal error")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, handle)
	return nil
}

func (f *fakeFarm) Terminated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminated...)
}

func (f *fakeFarm) lastURL(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urls) == 0 {
		t.Fatal("No worker was created")
	}
	return f.urls[len(f.urls)-1]
}

// fakeTunnel is a Tunnel whose lifecycle is driven by the test.
type fakeTunnel struct {
	opts  *tunnel.Options
	ready chan struct{}
	done  chan struct{}

	readyOnce sync.Once
	doneOnce  sync.Once

	mu    sync.Mutex
	kills int
}

func newFakeTunnel(opts *tunnel.Options) *fakeTunnel {
	return &fakeTunnel{opts: opts, ready: make(chan struct{}), done: make(chan struct{})}
}

func (t *fakeTunnel) Ready() <-chan struct{} { return t.ready }
func (t *fakeTunnel) Done() <-chan struct{}  { return t.done }

func (t *fakeTunnel) Kill() error {
	t.mu.Lock()
	t.kills++
	t.mu.Unlock()
	t.Exit()
	return nil
}

// MarkReady simulates the readiness line.
func (t *fakeTunnel) MarkReady() { t.readyOnce.Do(func() { close(t.ready) }) }

// Exit simulates the end of the tunnel's output.
func (t *fakeTunnel) Exit() { t.doneOnce.Do(func() { close(t.done) }) }

func (t *fakeTunnel) Kills() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kills
}

type outcome struct {
	code int
	err  error
}

// harness runs an Orchestrator against fakes.
type harness struct {
	t      *testing.T
	cfg    *config.Config
	farm   *fakeFarm
	logger *loggingtest.Logger
	sigs   chan os.Signal
	stdout bytes.Buffer
	stderr bytes.Buffer

	// onTunnelStart, if set, runs before the fake tunnel is created.
	onTunnelStart func(opts *tunnel.Options)
	tunnels       chan *fakeTunnel

	cancel context.CancelFunc
	done   chan outcome
}

func browser(name string) config.BrowserSpec {
	return config.BrowserSpec{Browser: name, Version: "1.0", OS: "linux"}
}

func newHarness(t *testing.T, browsers ...config.BrowserSpec) *harness {
	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, map[string]string{
		"test/page.html": "<html><body>test</body></html>",
	}); err != nil {
		t.Fatal(err)
	}
	collectorPort := 0
	return &harness{
		t: t,
		cfg: &config.Config{
			Key:           "secretkey",
			TestFile:      "test/page.html",
			Directory:     dir,
			Browsers:      browsers,
			CollectorPort: &collectorPort,
			Build:         "build1",
		},
		farm:    newFakeFarm(),
		sigs:    make(chan os.Signal, 2),
		tunnels: make(chan *fakeTunnel, 1),
		done:    make(chan outcome, 1),
	}
}

// start runs the orchestrator in the background.
func (h *harness) start() {
	l := loggingtest.NewLogger(h.t, logging.LevelDebug)
	h.logger = l
	ctx, cancel := context.WithCancel(logging.AttachLogger(context.Background(), l))
	h.cancel = cancel
	h.t.Cleanup(cancel)

	o := New(&Options{
		Config:  h.cfg,
		Farm:    h.farm,
		Ports:   portalloc.New(47000),
		Signals: h.sigs,
		StartTunnel: func(ctx context.Context, opts *tunnel.Options) (Tunnel, error) {
			if h.onTunnelStart != nil {
				h.onTunnelStart(opts)
			}
			ft := newFakeTunnel(opts)
			h.tunnels <- ft
			return ft, nil
		},
		Stdout: &h.stdout,
		Stderr: &h.stderr,
	})
	go func() {
		code, err := o.Run(ctx)
		h.done <- outcome{code, err}
	}()
}

func (h *harness) tunnel() *fakeTunnel {
	h.t.Helper()
	select {
	case ft := <-h.tunnels:
		return ft
	case <-time.After(testTimeout):
		h.t.Fatal("Tunnel was not started")
		return nil
	}
}

// launched waits for n creation requests and returns their run IDs.
func (h *harness) launched(n int) []string {
	h.t.Helper()
	var ids []string
	for len(ids) < n {
		select {
		case id := <-h.farm.launched:
			ids = append(ids, id)
		case <-time.After(testTimeout):
			h.t.Fatalf("Got %d launches; want %d", len(ids), n)
		}
	}
	return ids
}

// waitLog waits until a log message containing substr has been emitted.
func (h *harness) waitLog(substr string) {
	h.t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !strings.Contains(h.logger.String(), substr) {
		if time.Now().After(deadline) {
			h.t.Fatalf("Log %q not seen; logs:\n%s", substr, h.logger.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// wait waits for Run to return.
func (h *harness) wait() outcome {
	h.t.Helper()
	select {
	case out := <-h.done:
		return out
	case <-time.After(testTimeout):
		h.t.Fatal("Run did not finish")
		return outcome{}
	}
}

// postResult submits a result to the collector as a browser would.
func (h *harness) postResult(ft *fakeTunnel, id string, res *tap.Result) {
	h.t.Helper()
	body, err := json.Marshal(&collector.Submission{ID: id, Result: res})
	if err != nil {
		h.t.Fatal(err)
	}
	url := fmt.Sprintf("http://localhost:%d/result", ft.opts.Ports.CollectorPort)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		h.t.Fatal("Posting result: ", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		h.t.Fatalf("Posting result: status %d", resp.StatusCode)
	}
}
