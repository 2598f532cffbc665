// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package collector implements the HTTP endpoint remote browsers submit their
// test results to.
package collector

import (
	"context"
	_ "embed" // for clientScript
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"

	"go.chromium.org/farmrun/internal/logging"
	"go.chromium.org/farmrun/internal/tap"
)

// maxSubmissionSize limits the size of a result submission body.
const maxSubmissionSize = 16 << 20

//go:embed client.js
var clientScript []byte

// ResultFunc receives a result submitted for the run identified by id. It is
// called synchronously from the HTTP handler, so the submitting browser only
// gets its response once the result has been handed over.
type ResultFunc func(id string, result *tap.Result)

// Submission is the JSON body of a result submission.
type Submission struct {
	ID     string      `json:"id"`
	Result *tap.Result `json:"result"`
}

// Server is a running result collector. It keeps no state about runs.
type Server struct {
	srv  *http.Server
	ls   net.Listener
	done chan struct{}
}

// Start starts a collector listening on port. 0 picks any free port.
func Start(ctx context.Context, port int, onResult ResultFunc) (*Server, error) {
	ls, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on collector port %d", port)
	}
	s := &Server{
		srv:  &http.Server{Handler: NewHandler(ctx, onResult)},
		ls:   ls,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.srv.Serve(ls)
	}()
	return s, nil
}

// Port returns the TCP port the collector listens on.
func (s *Server) Port() int {
	return s.ls.Addr().(*net.TCPAddr).Port
}

// Close stops the collector immediately.
func (s *Server) Close() error {
	err := s.srv.Close()
	<-s.done
	return err
}

// NewHandler returns the collector's HTTP handler. Test pages are served from
// a different port than the collector, so cross-origin requests are allowed.
func NewHandler(ctx context.Context, onResult ResultFunc) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/result", func(w http.ResponseWriter, req *http.Request) {
		handleResult(ctx, w, req, onResult)
	}).Methods(http.MethodPost)
	r.HandleFunc("/client.js", handleClientScript).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func handleResult(ctx context.Context, w http.ResponseWriter, req *http.Request, onResult ResultFunc) {
	var sub Submission
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxSubmissionSize))
	if err := dec.Decode(&sub); err != nil {
		logging.Infof(ctx, "Rejected malformed result submission from %s: %v", req.RemoteAddr, err)
		http.Error(w, "malformed submission: "+err.Error(), http.StatusBadRequest)
		return
	}
	if sub.ID == "" || sub.Result == nil {
		http.Error(w, "submission needs both id and result", http.StatusBadRequest)
		return
	}
	logging.Debugf(ctx, "Received result for %s from %s", sub.ID, req.RemoteAddr)
	onResult(sub.ID, sub.Result)
	w.WriteHeader(http.StatusAccepted)
}

func handleClientScript(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(clientScript)
}
