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

package recorder

import (
	"testing"
)

// TestRecorder_DisabledNeverRecords verifies a disabled Recorder returns no
// id and the pipeline can treat that as "skip update".
func TestRecorder_DisabledNeverRecords(t *testing.T) {
	r := New(false)
	id, _, recording := r.RecordRequest("GET", "/x", nil, nil)
	if recording || id != "" {
		t.Fatalf("expected disabled recorder to skip recording")
	}
	if len(r.GetAll()) != 0 {
		t.Fatalf("expected no records")
	}
}

// TestRecorder_RecordThenUpdateCompletesTheTransaction verifies a record
// starts in-flight (nil Response/DurationMs) and is completed by
// UpdateResponse.
func TestRecorder_RecordThenUpdateCompletesTheTransaction(t *testing.T) {
	r := New(true)
	id, _, recording := r.RecordRequest("POST", "/api/users", map[string]string{"X-Test": "1"}, []byte(`{"a":1}`))
	if !recording || id == "" {
		t.Fatalf("expected an id to be issued")
	}

	rec, ok := r.GetByID(id)
	if !ok {
		t.Fatalf("expected the in-flight record to be retrievable")
	}
	if rec.Response != nil || rec.DurationMs != nil {
		t.Fatalf("expected in-flight record to have no response yet")
	}

	r.UpdateResponse(id, RecordedResponse{Status: 201, Headers: map[string]string{"Content-Type": "application/json"}, Body: []byte(`{"id":1}`)}, 42)

	rec, _ = r.GetByID(id)
	if rec.Response == nil || rec.Response.Status != 201 || rec.DurationMs == nil || *rec.DurationMs != 42 {
		t.Fatalf("expected completed record, got %+v", rec)
	}
}

// TestRecorder_UpdateResponseUnknownIDIsNoop verifies updating an unknown id
// does not panic or insert a record.
func TestRecorder_UpdateResponseUnknownIDIsNoop(t *testing.T) {
	r := New(true)
	r.UpdateResponse("missing", RecordedResponse{Status: 200}, 1)
	if len(r.GetAll()) != 0 {
		t.Fatalf("expected no record to be created")
	}
}

func seedCompleted(r *Recorder, method, url string, status int, duration int64) string {
	id, _, _ := r.RecordRequest(method, url, nil, nil)
	r.UpdateResponse(id, RecordedResponse{Status: status}, duration)
	return id
}

// TestRecorder_GetFilteredByMethodAndStatus verifies AND-across-fields
// filtering.
func TestRecorder_GetFilteredByMethodAndStatus(t *testing.T) {
	r := New(true)
	seedCompleted(r, "GET", "/a", 200, 10)
	seedCompleted(r, "POST", "/a", 500, 20)
	seedCompleted(r, "GET", "/b", 500, 30)

	status500 := 500
	out := r.GetFiltered(FilterOptions{Method: "GET", Status: &status500})
	if len(out) != 1 || out[0].URL != "/b" {
		t.Fatalf("expected exactly the GET+500 record, got %+v", out)
	}
}

// TestRecorder_GetStatsBucketsAndAverages verifies status-class histograms
// and average-duration computation, and that MinDurationMs normalises to 0
// when there are no samples.
func TestRecorder_GetStatsBucketsAndAverages(t *testing.T) {
	r := New(true)
	if s := r.GetStats(); s.MinDurationMs != 0 {
		t.Fatalf("expected MinDurationMs 0 on empty recorder, got %d", s.MinDurationMs)
	}

	seedCompleted(r, "GET", "/a", 200, 10)
	seedCompleted(r, "GET", "/a", 404, 20)
	seedCompleted(r, "GET", "/a", 503, 30)

	s := r.GetStats()
	if s.TotalRequests != 3 || s.Status2xx != 1 || s.Status4xx != 1 || s.Status5xx != 1 {
		t.Fatalf("expected one record per class, got %+v", s)
	}
	if s.MinDurationMs != 10 || s.MaxDurationMs != 30 || s.AvgDurationMs != 20 {
		t.Fatalf("expected min=10 max=30 avg=20, got %+v", s)
	}
}

// TestRecorder_AnalyticsTopEndpointsSortedByCount verifies endpoint
// extraction strips query strings and top_endpoints sorts by count
// descending.
func TestRecorder_AnalyticsTopEndpointsSortedByCount(t *testing.T) {
	r := New(true)
	seedCompleted(r, "GET", "/a?x=1", 200, 10)
	seedCompleted(r, "GET", "/a?x=2", 200, 10)
	seedCompleted(r, "GET", "/b", 200, 10)

	a := r.GetAnalytics()
	if len(a.TopEndpoints) != 2 {
		t.Fatalf("expected endpoints collapsed by query-stripped path, got %+v", a.TopEndpoints)
	}
	if a.TopEndpoints[0].Endpoint != "/a" || a.TopEndpoints[0].Count != 2 {
		t.Fatalf("expected /a to be the top endpoint with count 2, got %+v", a.TopEndpoints[0])
	}
}

// TestRecorder_ClearEmptiesEverything verifies Clear drops all records.
func TestRecorder_ClearEmptiesEverything(t *testing.T) {
	r := New(true)
	seedCompleted(r, "GET", "/a", 200, 10)
	r.Clear()
	if len(r.GetAll()) != 0 {
		t.Fatalf("expected no records after Clear")
	}
}
