// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package farm talks to the remote browser farm's REST API.
package farm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Client creates and terminates remote browser workers.
type Client interface {
	// CreateWorker starts a browser described by params and returns an
	// opaque handle identifying the worker.
	CreateWorker(ctx context.Context, params map[string]interface{}) (handle string, err error)
	// TerminateWorker stops the worker identified by handle.
	TerminateWorker(ctx context.Context, handle string) error
}

// Browser is a browser/OS combination offered by the farm.
type Browser struct {
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	Device         string `json:"device"`
}

// RESTClient is a Client for a farm speaking the v4 worker API.
type RESTClient struct {
	base     string
	username string
	password string
	cl       *http.Client
}

var _ Client = &RESTClient{}

// NewRESTClient returns a client for the API rooted at baseURL, e.g.
// "https://api.browserstack.com/4". If cl is nil, http.DefaultClient is used.
func NewRESTClient(baseURL, username, password string, cl *http.Client) *RESTClient {
	if cl == nil {
		cl = http.DefaultClient
	}
	return &RESTClient{
		base:     strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		cl:       cl,
	}
}

// CreateWorker starts a new worker.
func (c *RESTClient) CreateWorker(ctx context.Context, params map[string]interface{}) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode worker parameters")
	}
	var res struct {
		ID json.RawMessage `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/worker", body, &res); err != nil {
		return "", errors.Wrap(err, "failed to create worker")
	}
	// IDs are numbers in practice; keep them opaque.
	handle := strings.Trim(string(res.ID), `"`)
	if handle == "" || handle == "null" {
		return "", errors.New("failed to create worker: response has no worker id")
	}
	return handle, nil
}

// TerminateWorker stops a worker.
func (c *RESTClient) TerminateWorker(ctx context.Context, handle string) error {
	if err := c.do(ctx, http.MethodDelete, "/worker/"+url.PathEscape(handle), nil, nil); err != nil {
		return errors.Wrapf(err, "failed to terminate worker %s", handle)
	}
	return nil
}

// Browsers lists the browsers the farm can launch.
func (c *RESTClient) Browsers(ctx context.Context) ([]Browser, error) {
	var bs []Browser
	if err := c.do(ctx, http.MethodGet, "/browsers?flat=true", nil, &bs); err != nil {
		return nil, errors.Wrap(err, "failed to list browsers")
	}
	return bs, nil
}

// do sends a request and decodes a JSON response into out unless it is nil.
func (c *RESTClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.cl.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if res.StatusCode/100 != 2 {
		return errors.Errorf("%s %s returned %d: %s", method, path, res.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrap(err, fmt.Sprintf("malformed response to %s %s", method, path))
	}
	return nil
}
