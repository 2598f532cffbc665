// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package portalloc finds free local TCP ports by bind-probing.
package portalloc

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
)

// DefaultBase is the first candidate port tried by New allocators.
const DefaultBase = 45032

// ListenFunc matches net.Listen and is used to probe candidate ports.
type ListenFunc func(network, address string) (net.Listener, error)

// Allocator hands out local ports that were free at the time of the call.
// Candidates come from a counter shared by all calls, so concurrent callers
// never probe, and therefore never return, the same port.
type Allocator struct {
	next   atomic.Int64
	listen ListenFunc
}

// New returns an Allocator whose first candidate is base.
func New(base int) *Allocator {
	return NewWithListener(base, net.Listen)
}

// NewWithListener is like New but probes ports with listen.
func NewWithListener(base int, listen ListenFunc) *Allocator {
	a := &Allocator{listen: listen}
	a.next.Store(int64(base))
	return a
}

// Allocate binds the next candidate port, closes it again and returns it. A
// candidate that cannot be bound is skipped. There is no limit on the number
// of candidates tried; only ctx being done stops the search.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		port := int(a.next.Add(1) - 1)
		ls, err := a.listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		if err := ls.Close(); err != nil {
			continue
		}
		return port, nil
	}
}
