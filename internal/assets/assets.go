// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package assets serves the test page and its files to remote browsers.
package assets

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/pkg/errors"

	"go.chromium.org/farmrun/internal/logging"
)

// Server is a static file server rooted at a local directory.
type Server struct {
	srv  *http.Server
	ls   net.Listener
	done chan struct{}
}

// Start starts serving dir on port. Requests are logged to ctx at debug
// level together with their response status.
func Start(ctx context.Context, dir string, port int) (*Server, error) {
	if fi, err := os.Stat(dir); err != nil {
		return nil, errors.Wrap(err, "bad asset directory")
	} else if !fi.IsDir() {
		return nil, errors.Errorf("asset directory %s is not a directory", dir)
	}

	ls, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on asset port %d", port)
	}

	s := &Server{
		srv:  &http.Server{Handler: newHandler(ctx, dir)},
		ls:   ls,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.srv.Serve(ls)
	}()
	return s, nil
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.ls.Addr().(*net.TCPAddr).Port
}

// Close stops the server immediately.
func (s *Server) Close() error {
	err := s.srv.Close()
	<-s.done
	return err
}

func newHandler(ctx context.Context, dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Test pages must be fetched fresh by every launched browser.
		w.Header().Set("Cache-Control", "no-cache")
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		files.ServeHTTP(sw, r)
		logging.Debugf(ctx, "[%d]: %s", sw.status, r.URL.RequestURI())
	})
}

// statusWriter records the status code written to an http.ResponseWriter.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
