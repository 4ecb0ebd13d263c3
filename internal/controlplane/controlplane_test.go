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

package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"devproxy/internal/proxy/latency"
	"devproxy/internal/proxy/mock"
	"devproxy/internal/proxy/modifier"
	"devproxy/internal/proxy/pipeline"
	"devproxy/internal/proxy/ratelimit"
	"devproxy/internal/proxy/recorder"
)

func newTestServer() (*Server, *recorder.Recorder) {
	rec := recorder.New(true)
	s := &Server{
		Recorder:    rec,
		RateLimiter: ratelimit.New(),
		Mock:        mock.New(),
		Latency:     latency.New(),
		Modifier:    modifier.New(),
		Pipeline:    &pipeline.Pipeline{Recorder: rec, Log: zerolog.Nop()},
		Log:         zerolog.Nop(),
	}
	return s, rec
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestControlPlane_MockRuleCRUDRoundTrip exercises add, get, toggle, and
// delete through the HTTP surface, then checks get returns 404.
func TestControlPlane_MockRuleCRUDRoundTrip(t *testing.T) {
	s, _ := newTestServer()
	router := s.Router()

	addBody := map[string]any{
		"name": "health", "enabled": true, "priority": 1,
		"match":  map[string]any{"url_pattern": "/health", "url_match_type": "exact"},
		"action": map[string]any{"status": 200, "body": "ok"},
	}
	w := doJSON(t, router, http.MethodPost, "/api/mocks/", addBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 adding rule, got %d: %s", w.Code, w.Body.String())
	}
	var added map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &added); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	id := added["id"]
	if id == "" {
		t.Fatalf("expected an id in add response")
	}

	w = doJSON(t, router, http.MethodGet, "/api/mocks/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 getting rule, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/mocks/"+id+"/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 toggling rule, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/mocks/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 deleting rule, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/mocks/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

// TestControlPlane_MockRuleAddRejectsMalformedBody verifies malformed JSON
// yields 400, distinguishing it from the unknown-id 404 case above.
func TestControlPlane_MockRuleAddRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer()
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/mocks/", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", w.Code)
	}
}

// TestControlPlane_FilterSearchAcrossRecordings is E5.
func TestControlPlane_FilterSearchAcrossRecordings(t *testing.T) {
	s, rec := newTestServer()
	router := s.Router()

	for _, u := range []string{"/a", "/b", "/a?q=1"} {
		id, _, _ := rec.RecordRequest("GET", u, nil, nil)
		rec.UpdateResponse(id, recorder.RecordedResponse{Status: 200}, 1)
	}

	w := doJSON(t, router, http.MethodGet, "/api/recordings?search=a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []recorder.RecordedRequest
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode recordings: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 matching recordings, got %d: %+v", len(out), out)
	}
	if out[0].URL != "/a?q=1" {
		t.Fatalf("expected newest-first ordering, got %+v", out)
	}
}

// TestControlPlane_MockPriorityResolvesHighestFirst is E6.
func TestControlPlane_MockPriorityResolvesHighestFirst(t *testing.T) {
	s, _ := newTestServer()
	router := s.Router()

	doJSON(t, router, http.MethodPost, "/api/mocks/", map[string]any{
		"name": "low", "enabled": true, "priority": 1,
		"match":  map[string]any{"url_pattern": "/z", "url_match_type": "exact"},
		"action": map[string]any{"status": 200, "body": "low"},
	})
	doJSON(t, router, http.MethodPost, "/api/mocks/", map[string]any{
		"name": "high", "enabled": true, "priority": 5,
		"match":  map[string]any{"url_pattern": "/z", "url_match_type": "exact"},
		"action": map[string]any{"status": 200, "body": "high"},
	})

	rule, ok := s.Mock.FindMatchingRule("GET", "/z")
	if !ok || rule.Action.Body != "high" {
		t.Fatalf("expected the priority-5 rule to win, got %+v", rule)
	}
}

// TestControlPlane_ClearRecordingsEmptiesTheStore verifies the DELETE
// /api/recordings route.
func TestControlPlane_ClearRecordingsEmptiesTheStore(t *testing.T) {
	s, rec := newTestServer()
	router := s.Router()

	id, _, _ := rec.RecordRequest("GET", "/a", nil, nil)
	rec.UpdateResponse(id, recorder.RecordedResponse{Status: 200}, 1)

	w := doJSON(t, router, http.MethodDelete, "/api/recordings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(rec.GetAll()) != 0 {
		t.Fatalf("expected recordings cleared")
	}
}
