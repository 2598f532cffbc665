// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tunnel runs and supervises the tunnel subprocess that lets remote
// browsers reach local servers.
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/acarl005/stripansi"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"go.chromium.org/farmrun/internal/logging"
	"go.chromium.org/farmrun/shutil"
)

// ReadyPrefix is printed at the start of a line by the tunnel once it is
// established.
const ReadyPrefix = "You can now access your local server(s) in our remote browser"

const (
	// DefaultKillGracePeriod is how long Kill waits after SIGTERM before
	// sending SIGKILL.
	DefaultKillGracePeriod = 5 * time.Second

	// maxLineSize is the longest prefix of a tunnel output line that is
	// inspected. The rest of a longer line is skipped.
	maxLineSize = 1 << 20
)

// State is the lifecycle state of a tunnel subprocess.
type State int

const (
	// Starting means the tunnel has been spawned but has not announced
	// readiness yet.
	Starting State = iota
	// Ready means the tunnel printed ReadyPrefix.
	Ready
	// Failed means the tunnel's output ended before it became ready.
	Failed
	// Terminated means Kill was called.
	Terminated
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PortPair holds the local ports exposed through the tunnel.
type PortPair struct {
	AssetPort     int
	CollectorPort int
}

// ForwardingSpec returns the tunnel's forwarding argument for p.
func (p PortPair) ForwardingSpec() string {
	return fmt.Sprintf("localhost,%d,0,localhost,%d,0", p.AssetPort, p.CollectorPort)
}

// IsReady reports whether line is the tunnel's readiness announcement. Only
// an exact match at the very start of the line counts.
func IsReady(line string) bool {
	return strings.HasPrefix(line, ReadyPrefix)
}

// Options configures Start.
type Options struct {
	// Command is the tunnel executable followed by its leading arguments.
	Command []string
	// Key is the tunnel credential passed after Command.
	Key string
	// Ports are forwarded through the tunnel.
	Ports PortPair

	// Verbose copies raw tunnel output to Stdout and Stderr.
	Verbose bool
	// Stdout and Stderr default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Clock and KillGracePeriod control Kill. Defaults are the real clock and
	// DefaultKillGracePeriod.
	Clock           clock.Clock
	KillGracePeriod time.Duration
}

// Supervisor owns one running tunnel subprocess.
type Supervisor struct {
	cmd   *exec.Cmd
	clk   clock.Clock
	grace time.Duration

	ready  chan struct{} // closed on readiness
	done   chan struct{} // closed when the output stream ends
	exited chan struct{} // closed once the process has been reaped

	// kill sends signals to process groups.
	kill func(pid int, sig syscall.Signal) error

	mu      sync.Mutex
	state   State
	killed  bool
	waitErr error
}

// Start spawns the tunnel and starts watching its output. Logs are sent to
// ctx; ctx does not bound the lifetime of the subprocess, call Kill for that.
func Start(ctx context.Context, opts *Options) (*Supervisor, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("empty tunnel command")
	}
	args := append(append([]string(nil), opts.Command...), opts.Key, opts.Ports.ForwardingSpec())

	cmd := exec.Command(args[0], args[1:]...)
	// Run in a separate process group so that terminal signals reach us
	// only, and Kill can take down the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create tunnel stdout pipe")
	}
	var out io.Reader = stdout
	if opts.Verbose {
		vout, verr := opts.Stdout, opts.Stderr
		if vout == nil {
			vout = os.Stdout
		}
		if verr == nil {
			verr = os.Stderr
		}
		out = io.TeeReader(stdout, vout)
		cmd.Stderr = verr
	}

	logging.Debug(ctx, "Starting tunnel: ", shutil.CommandLine(args, opts.Key))
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start tunnel %s", args[0])
	}

	s := &Supervisor{
		cmd:    cmd,
		kill:   unix.Kill,
		clk:    opts.Clock,
		grace:  opts.KillGracePeriod,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	if s.clk == nil {
		s.clk = clock.NewClock()
	}
	if s.grace <= 0 {
		s.grace = DefaultKillGracePeriod
	}

	go s.watch(ctx, out)
	return s, nil
}

// Ready returns a channel closed once the tunnel has announced readiness.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// Done returns a channel closed when the tunnel's output stream has ended,
// whether it failed, exited on its own or was killed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the process ID of the tunnel.
func (s *Supervisor) Pid() int {
	return s.cmd.Process.Pid
}

// watch consumes the tunnel's output line by line, then reaps the process.
func (s *Supervisor) watch(ctx context.Context, out io.Reader) {
	r := bufio.NewReader(out)
	for {
		line, err := readLine(r)
		if err != nil {
			if err != io.EOF {
				logging.Debug(ctx, "Stopped reading tunnel output: ", err)
			}
			break
		}
		logging.Debug(ctx, "tunnel: ", stripansi.Strip(line))
		if IsReady(line) {
			s.markReady(ctx)
		}
	}

	s.mu.Lock()
	if s.state == Starting {
		s.state = Failed
	}
	s.mu.Unlock()
	close(s.done)

	err := s.cmd.Wait()
	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()
	close(s.exited)
}

// readLine reads the next line from r without its terminator. Lines longer
// than maxLineSize are truncated.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		if room := maxLineSize - len(line); room > 0 {
			line = append(line, frag[:min(len(frag), room)]...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(line) > 0 {
			err = nil
		}
		return strings.TrimRight(string(line), "\r\n"), err
	}
}

func (s *Supervisor) markReady(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Starting {
		return
	}
	s.state = Ready
	close(s.ready)
	logging.Debug(ctx, "Tunnel started successfully")
}

// Kill terminates the tunnel and everything it spawned, and waits for the
// tunnel process to be reaped. SIGTERM is tried first; SIGKILL follows after
// the grace period. Calling Kill more than once is safe; later calls only wait.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	first := !s.killed
	s.killed = true
	if s.state == Starting || s.state == Ready {
		s.state = Terminated
	}
	s.mu.Unlock()

	if first {
		s.signalTree(unix.SIGTERM)
		select {
		case <-s.exited:
		case <-s.clk.After(s.grace):
			s.signalTree(unix.SIGKILL)
		}
	}
	<-s.exited

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// signalTree sends sig to the tunnel's descendants and its process group.
// Nothing is sent once the tunnel has been reaped, as its PID may have been
// reused.
func (s *Supervisor) signalTree(sig syscall.Signal) {
	select {
	case <-s.exited:
		return
	default:
	}

	pid := s.cmd.Process.Pid
	if p, err := process.NewProcess(int32(pid)); err == nil {
		for _, c := range descendants(p) {
			c.SendSignal(sig)
		}
	}
	// The group leader may be a zombie by now; errors are expected then.
	s.kill(-pid, sig)
}

// descendants returns all processes below p, deepest first.
func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var all []*process.Process
	for _, c := range children {
		all = append(all, descendants(c)...)
		all = append(all, c)
	}
	return all
}
