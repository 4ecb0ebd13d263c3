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

// Package recorder is the in-memory transaction log: every intercepted
// request is appended as it begins and completed once its response is
// known, then served back through filtered queries, stats, and analytics.
package recorder

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordedResponse is the response half of a completed transaction.
type RecordedResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body,omitempty"`
}

// RecordedRequest is one captured transaction. Response and DurationMs are
// populated together on completion; a record may exist with both nil
// (in-flight) or both set (complete). Never mutated after completion except
// by Clear.
type RecordedRequest struct {
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Method     string             `json:"method"`
	URL        string             `json:"url"`
	Headers    map[string]string  `json:"headers"`
	Body       []byte             `json:"body,omitempty"`
	Response   *RecordedResponse  `json:"response,omitempty"`
	DurationMs *int64             `json:"duration_ms,omitempty"`
}

// FilterOptions narrows GetFiltered; zero-value fields are not applied.
type FilterOptions struct {
	Search      string
	Method      string
	Status      *int
	MinDuration *int64
	MaxDuration *int64
	FromTime    *time.Time
	ToTime      *time.Time
}

func (f FilterOptions) isEmpty() bool {
	return f.Search == "" && f.Method == "" && f.Status == nil &&
		f.MinDuration == nil && f.MaxDuration == nil &&
		f.FromTime == nil && f.ToTime == nil
}

// Stats summarises response classes and duration across completed records.
type Stats struct {
	TotalRequests int64 `json:"total_requests"`
	Status2xx     int64 `json:"status_2xx"`
	Status3xx     int64 `json:"status_3xx"`
	Status4xx     int64 `json:"status_4xx"`
	Status5xx     int64 `json:"status_5xx"`
	MinDurationMs int64 `json:"min_duration_ms"`
	MaxDurationMs int64 `json:"max_duration_ms"`
	AvgDurationMs int64 `json:"avg_duration_ms"`
}

// EndpointStats aggregates one endpoint (URL with query string stripped).
type EndpointStats struct {
	Endpoint      string `json:"endpoint"`
	Count         int64  `json:"count"`
	AvgDurationMs int64  `json:"avg_duration_ms"`
	ErrorCount    int64  `json:"error_count"`
	TotalDuration int64  `json:"total_duration_ms"`
}

// TimelinePoint is one record surfaced within the last hour of analytics.
type TimelinePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Status    int       `json:"status,omitempty"`
}

// Analytics bundles method/status histograms, top endpoints, and a timeline.
type Analytics struct {
	MethodCounts map[string]int64 `json:"method_counts"`
	StatusCounts map[string]int64 `json:"status_counts"`
	TopEndpoints []EndpointStats  `json:"top_endpoints"`
	Timeline     []TimelinePoint  `json:"timeline"`
}

// Recorder owns the RecordedRequest map. Enabled gates record_request —
// when disabled, callers receive no id and the pipeline skips the update
// step entirely.
type Recorder struct {
	mu      sync.RWMutex
	records map[string]*RecordedRequest
	enabled bool
}

// New constructs a Recorder; enabled mirrors the CLI recording flag.
func New(enabled bool) *Recorder {
	return &Recorder{records: make(map[string]*RecordedRequest), enabled: enabled}
}

// RecordRequest opens an in-flight record and returns its id and start
// instant. Returns ("", zero time, false) when recording is disabled.
func (r *Recorder) RecordRequest(method, url string, headers map[string]string, body []byte) (string, time.Time, bool) {
	if !r.enabled {
		return "", time.Time{}, false
	}

	id := uuid.NewString()
	rec := &RecordedRequest{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Method:    method,
		URL:       url,
		Headers:   headers,
		Body:      body,
	}

	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()

	return id, rec.Timestamp, true
}

// UpdateResponse overwrites response and duration; a no-op if id is absent.
func (r *Recorder) UpdateResponse(id string, resp RecordedResponse, durationMs int64) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.Response = &resp
	rec.DurationMs = &durationMs
}

// GetByID returns a clone of the record, if present.
func (r *Recorder) GetByID(id string) (RecordedRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return RecordedRequest{}, false
	}
	return *rec, true
}

// GetAll returns every record sorted by timestamp descending (newest first).
func (r *Recorder) GetAll() []RecordedRequest {
	r.mu.RLock()
	out := make([]RecordedRequest, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// GetFiltered applies FilterOptions (AND across fields) before sorting.
func (r *Recorder) GetFiltered(f FilterOptions) []RecordedRequest {
	if f.isEmpty() {
		return r.GetAll()
	}

	all := r.GetAll()
	out := make([]RecordedRequest, 0, len(all))
	for _, rec := range all {
		if matchesFilters(rec, f) {
			out = append(out, rec)
		}
	}
	return out
}

func matchesFilters(rec RecordedRequest, f FilterOptions) bool {
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		hay := strings.ToLower(rec.URL) + " " + strings.ToLower(rec.Method) + " " +
			strings.ToLower(string(rec.Body))
		if rec.Response != nil {
			hay += " " + strings.ToLower(string(rec.Response.Body))
		}
		if !strings.Contains(hay, needle) {
			return false
		}
	}

	if f.Method != "" && rec.Method != f.Method {
		return false
	}

	if f.Status != nil {
		if rec.Response == nil || rec.Response.Status != *f.Status {
			return false
		}
	}

	if f.MinDuration != nil {
		if rec.DurationMs == nil || *rec.DurationMs < *f.MinDuration {
			return false
		}
	}

	if f.MaxDuration != nil {
		if rec.DurationMs == nil || *rec.DurationMs > *f.MaxDuration {
			return false
		}
	}

	if f.FromTime != nil && rec.Timestamp.Before(*f.FromTime) {
		return false
	}

	if f.ToTime != nil && rec.Timestamp.After(*f.ToTime) {
		return false
	}

	return true
}

// Clear empties the record map.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*RecordedRequest)
}

// GetStats computes response-class counts and duration stats across
// completed records. MinDurationMs is normalised to 0 when no samples exist.
func (r *Recorder) GetStats() Stats {
	all := r.GetAll()

	var s Stats
	var minDur int64 = -1
	var total int64

	for _, rec := range all {
		s.TotalRequests++
		if rec.Response == nil {
			continue
		}
		switch {
		case rec.Response.Status >= 200 && rec.Response.Status < 300:
			s.Status2xx++
		case rec.Response.Status >= 300 && rec.Response.Status < 400:
			s.Status3xx++
		case rec.Response.Status >= 400 && rec.Response.Status < 500:
			s.Status4xx++
		case rec.Response.Status >= 500:
			s.Status5xx++
		}

		if rec.DurationMs == nil {
			continue
		}
		d := *rec.DurationMs
		if minDur == -1 || d < minDur {
			minDur = d
		}
		if d > s.MaxDurationMs {
			s.MaxDurationMs = d
		}
		total += d
	}

	if minDur == -1 {
		minDur = 0
	}
	s.MinDurationMs = minDur

	completedWithDuration := s.Status2xx + s.Status3xx + s.Status4xx + s.Status5xx
	if completedWithDuration > 0 {
		s.AvgDurationMs = total / completedWithDuration
	}

	return s
}

func extractEndpoint(url string) string {
	if idx := strings.IndexByte(url, '?'); idx >= 0 {
		return url[:idx]
	}
	return url
}

// GetAnalytics computes method/status histograms, the top-10 endpoints by
// count, and a timeline of records from the last hour.
func (r *Recorder) GetAnalytics() Analytics {
	all := r.GetAll()

	methodCounts := make(map[string]int64)
	statusCounts := make(map[string]int64)
	endpointAgg := make(map[string]*EndpointStats)

	cutoff := time.Now().UTC().Add(-time.Hour)
	var timeline []TimelinePoint

	for _, rec := range all {
		methodCounts[rec.Method]++

		endpoint := extractEndpoint(rec.URL)
		agg, ok := endpointAgg[endpoint]
		if !ok {
			agg = &EndpointStats{Endpoint: endpoint}
			endpointAgg[endpoint] = agg
		}
		agg.Count++

		if rec.Response != nil {
			statusCounts[statusBucket(rec.Response.Status)]++
			if rec.Response.Status >= 400 {
				agg.ErrorCount++
			}
		}
		if rec.DurationMs != nil {
			agg.TotalDuration += *rec.DurationMs
		}

		if rec.Timestamp.After(cutoff) {
			point := TimelinePoint{Timestamp: rec.Timestamp, Method: rec.Method, URL: rec.URL}
			if rec.Response != nil {
				point.Status = rec.Response.Status
			}
			timeline = append(timeline, point)
		}
	}

	endpoints := make([]EndpointStats, 0, len(endpointAgg))
	for _, agg := range endpointAgg {
		if agg.Count > 0 {
			agg.AvgDurationMs = agg.TotalDuration / agg.Count
		}
		endpoints = append(endpoints, *agg)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Count > endpoints[j].Count })
	if len(endpoints) > 10 {
		endpoints = endpoints[:10]
	}

	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Timestamp.Before(timeline[j].Timestamp) })

	return Analytics{
		MethodCounts: methodCounts,
		StatusCounts: statusCounts,
		TopEndpoints: endpoints,
		Timeline:     timeline,
	}
}

func statusBucket(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}
