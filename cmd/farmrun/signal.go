// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"os"
	"os/signal"
)

// notifyOnce delivers the first of sigs to the returned channel and then
// stops intercepting them, so that a repeated signal gets the default action
// and kills a shutdown that hangs. Interception also stops once done is
// closed.
func notifyOnce(done <-chan struct{}, sigs ...os.Signal) <-chan os.Signal {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, sigs...)

	out := make(chan os.Signal, 1)
	go func() {
		defer signal.Stop(sc)
		select {
		case sig := <-sc:
			signal.Stop(sc)
			out <- sig
		case <-done:
		}
	}()
	return out
}
