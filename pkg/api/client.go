/*
 * Copyright 2021-2022 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rabbitstack/kguard/pkg/util/version"
)

// Client issues requests to the API server.
type Client struct {
	addr    string
	timeout time.Duration
	c       *http.Client
}

// NewClient builds the client for the server listening on the transport.
func NewClient(transport string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = time.Second * 10
	}
	t := &http.Transport{DialContext: (&net.Dialer{}).DialContext}
	addr := transport
	if strings.HasPrefix(transport, pipePrefix) {
		t = &http.Transport{DialContext: DialPipe(transport)}
		addr = strings.TrimPrefix(transport, pipePrefix)
	}
	return &Client{addr: addr, timeout: timeout, c: &http.Client{Transport: t, Timeout: timeout}}
}

// Get performs the GET request against the uri and returns the response body.
func (c *Client) Get(uri string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.addr+"/"+strings.TrimPrefix(uri, "/"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.ProductToken())
	resp, err := c.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Vars fetches the runtime metrics.
func (c *Client) Vars() (map[string]json.RawMessage, error) {
	b, err := c.Get("/debug/vars")
	if err != nil {
		return nil, err
	}
	vars := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &vars); err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		return nil, errors.New("no metrics published")
	}
	return vars, nil
}

// Status fetches the status document into v.
func (c *Client) Status(v any) error {
	b, err := c.Get("/status")
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
