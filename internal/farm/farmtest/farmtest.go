// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package farmtest provides a fake browser farm API server.
package farmtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"go.chromium.org/farmrun/internal/farm"
)

// Credentials accepted by a Server.
const (
	Username = "farmuser"
	Password = "farmpass"
)

// Server is a fake farm API server.
type Server struct {
	*httptest.Server
	failCreate    bool
	failTerminate bool
	browsers      []farm.Browser

	mu         sync.Mutex
	nextID     int
	workers    map[string]map[string]interface{}
	terminated []string
}

type options struct {
	failCreate    bool
	failTerminate bool
	browsers      []farm.Browser
}

// Option is an option accepted by NewServer.
type Option func(o *options)

// FailCreate makes every worker creation request fail.
func FailCreate() Option {
	return func(o *options) { o.failCreate = true }
}

// FailTerminate makes every worker termination request fail.
func FailTerminate() Option {
	return func(o *options) { o.failTerminate = true }
}

// Browsers sets the browser list returned by the server.
func Browsers(bs []farm.Browser) Option {
	return func(o *options) { o.browsers = bs }
}

// NewServer starts a fake farm server.
func NewServer(opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		failCreate:    o.failCreate,
		failTerminate: o.failTerminate,
		browsers:      o.browsers,
		nextID:        1000,
		workers:       make(map[string]map[string]interface{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/worker", s.handleCreate)
	mux.HandleFunc("/worker/", s.handleTerminate)
	mux.HandleFunc("/browsers", s.handleBrowsers)
	s.Server = httptest.NewServer(requireAuth(mux))
	return s
}

// Workers returns the parameters of live workers keyed by handle.
func (s *Server) Workers() map[string]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := make(map[string]map[string]interface{}, len(s.workers))
	for k, v := range s.workers {
		ws[k] = v
	}
	return ws
}

// Terminated returns handles of terminated workers in termination order.
func (s *Server) Terminated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.terminated...)
}

func requireAuth(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != Username || p != Password {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.failCreate {
		http.Error(w, `{"message": "quota exceeded"}`, http.StatusForbidden)
		return
	}
	var params map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.workers[strconv.Itoa(id)] = params
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]int{"id": id})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.failTerminate {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/worker/")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[id]; !ok {
		http.Error(w, `{"message": "worker not found"}`, http.StatusNotFound)
		return
	}
	delete(s.workers, id)
	s.terminated = append(s.terminated, id)
	json.NewEncoder(w).Encode(map[string]float64{"time": 1.5})
}

func (s *Server) handleBrowsers(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.browsers)
}
