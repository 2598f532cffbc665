// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"os"
	"os/signal"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// SIGWINCH is ignored by default, so sending it to ourselves is harmless
// once nothing intercepts it any more.

func TestNotifyOnceStopsAfterFirstSignal(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	sc := notifyOnce(done, unix.SIGWINCH)

	// other sees every SIGWINCH and tells us when one has been handled.
	other := make(chan os.Signal, 2)
	signal.Notify(other, unix.SIGWINCH)
	defer signal.Stop(other)

	if err := unix.Kill(os.Getpid(), unix.SIGWINCH); err != nil {
		t.Fatal(err)
	}
	select {
	case sig := <-sc:
		if sig != unix.SIGWINCH {
			t.Errorf("Got signal %v; want %v", sig, unix.SIGWINCH)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("First signal was not delivered")
	}
	<-other

	if err := unix.Kill(os.Getpid(), unix.SIGWINCH); err != nil {
		t.Fatal(err)
	}
	select {
	case <-other:
	case <-time.After(10 * time.Second):
		t.Fatal("Second signal was not seen")
	}
	select {
	case sig := <-sc:
		t.Errorf("Second signal %v was delivered; want interception stopped", sig)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifyOnceDone(t *testing.T) {
	done := make(chan struct{})
	sc := notifyOnce(done, unix.SIGWINCH)
	close(done)

	// Give the forwarder a moment to unregister.
	time.Sleep(100 * time.Millisecond)

	other := make(chan os.Signal, 1)
	signal.Notify(other, unix.SIGWINCH)
	defer signal.Stop(other)
	if err := unix.Kill(os.Getpid(), unix.SIGWINCH); err != nil {
		t.Fatal(err)
	}
	<-other

	select {
	case sig := <-sc:
		t.Errorf("Signal %v delivered after done", sig)
	case <-time.After(100 * time.Millisecond):
	}
}
