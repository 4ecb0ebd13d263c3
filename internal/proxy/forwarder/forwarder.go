// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: July 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package forwarder is the upstream-forwarding collaborator named in
// spec.md §6: it strips the inbound Host header, joins the request's path
// and query onto the configured upstream, and relays the response.
package forwarder

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Forwarder is the external interface the pipeline depends on.
type Forwarder interface {
	Forward(ctx context.Context, method, pathAndQuery string, headers http.Header, body []byte) (status int, respHeaders http.Header, respBody []byte, err error)
}

// HTTPForwarder relays over net/http to a single configured upstream.
type HTTPForwarder struct {
	upstream *url.URL
	client   *http.Client
}

// New builds an HTTPForwarder targeting upstream (e.g. "http://localhost:9000").
func New(upstream string) (*HTTPForwarder, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	return &HTTPForwarder{
		upstream: u,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Forward issues the outbound request and relays status/headers/body.
func (f *HTTPForwarder) Forward(ctx context.Context, method, pathAndQuery string, headers http.Header, body []byte) (int, http.Header, []byte, error) {
	target := *f.upstream
	target.Path, target.RawPath = splitPath(pathAndQuery)
	target.RawQuery = splitQuery(pathAndQuery)

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}

	for name, values := range headers {
		if strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}

	return resp.StatusCode, resp.Header, respBody, nil
}

func splitPath(pathAndQuery string) (string, string) {
	if idx := strings.IndexByte(pathAndQuery, '?'); idx >= 0 {
		return pathAndQuery[:idx], ""
	}
	return pathAndQuery, ""
}

func splitQuery(pathAndQuery string) string {
	if idx := strings.IndexByte(pathAndQuery, '?'); idx >= 0 {
		return pathAndQuery[idx+1:]
	}
	return ""
}
