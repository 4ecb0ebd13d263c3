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

// Package pipeline implements the InterceptPipeline: the strict ten-step,
// per-request evaluation order defined in spec.md §4.8. Rule-store reads
// snapshot under lock and release it before any sleep or upstream call, so
// no lock is ever held across a suspension point.
package pipeline

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"devproxy/internal/clientip"
	"devproxy/internal/proxy/audit"
	"devproxy/internal/proxy/forwarder"
	"devproxy/internal/proxy/latency"
	"devproxy/internal/proxy/mock"
	"devproxy/internal/proxy/modifier"
	"devproxy/internal/proxy/ratelimit"
	"devproxy/internal/proxy/recorder"
	"devproxy/internal/telemetry"
)

// Pipeline wires the four rule engines, the recorder, and the forwarder
// collaborator into one data-plane http.Handler.
type Pipeline struct {
	Recorder    *recorder.Recorder
	RateLimiter *ratelimit.RateLimiter
	Mock        *mock.Engine
	Latency     *latency.Injector
	Modifier    *modifier.Modifier
	Forwarder   forwarder.Forwarder
	// Audit, when set, receives a best-effort, asynchronous publish of
	// every record once its response is closed. Never awaited on the
	// request path.
	Audit       *audit.Publisher
	Log         zerolog.Logger
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[name] = values[len(values)-1] // last-write-wins on collision
	}
	return out
}

func writeHeaders(w http.ResponseWriter, headers map[string]string) {
	for name, value := range headers {
		w.Header().Set(name, value)
	}
}

func (p *Pipeline) publishAudit(id string) {
	if p.Audit == nil || id == "" {
		return
	}
	rec, ok := p.Recorder.GetByID(id)
	if !ok {
		return
	}
	go p.Audit.PublishCompleted(context.Background(), rec)
}

// ServeHTTP implements the ten-step pipeline.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	method := r.Method
	url := r.URL.RequestURI()
	clientIP := clientip.Resolve(r)
	headerMap := flattenHeaders(r.Header)

	body, _ := io.ReadAll(r.Body)
	r.Body.Close()

	id, _, recording := p.Recorder.RecordRequest(method, url, headerMap, body)
	if recording {
		telemetry.RecordingsOpen.Inc()
		defer telemetry.RecordingsOpen.Dec()
	}

	// Step 3: request-side latency.
	if ms, applied := p.Latency.ApplyDelay(method, url, "request"); applied {
		telemetry.LatencyInjectedMs.Observe(float64(ms))
		p.Log.Debug().Str("url", url).Int64("delay_ms", ms).Msg("request-side latency injected")
	}

	// Step 4: rate-limit check.
	if result, matched := p.RateLimiter.Check(method, url, clientIP, r.Header.Get); matched && result.Denied {
		p.denyRateLimit(w, id, start, result)
		return
	}

	// Step 5: mock lookup.
	if rule, hit := p.Mock.FindMatchingRule(method, url); hit {
		p.serveMock(w, id, start, rule, method, url)
		return
	}

	// Step 6: forward to upstream.
	status, respHeaders, respBody, err := p.Forwarder.Forward(r.Context(), method, url, r.Header, body)
	if err != nil {
		telemetry.UpstreamErrors.Inc()
		p.Log.Error().Err(err).Str("url", url).Msg("upstream forward failed")
		p.serveBadGateway(w, id, start)
		return
	}

	// Step 7: response modification.
	newStatus, newBody := p.Modifier.Apply(method, url, status, respHeaders, respBody)
	respHeaders.Set("Content-Length", strconv.Itoa(len(newBody)))
	respHeaders.Del("Transfer-Encoding")

	// Step 8: response-side latency.
	if ms, applied := p.Latency.ApplyDelay(method, url, "response"); applied {
		telemetry.LatencyInjectedMs.Observe(float64(ms))
	}

	telemetry.RequestsTotal.WithLabelValues("forwarded").Inc()

	// Step 9: close the recording.
	elapsed := time.Since(start).Milliseconds()
	p.Recorder.UpdateResponse(id, recorder.RecordedResponse{
		Status:  newStatus,
		Headers: flattenHeaders(respHeaders),
		Body:    newBody,
	}, elapsed)
	p.publishAudit(id)

	// Step 10: return to client.
	writeHeaders(w, flattenHeaders(respHeaders))
	w.WriteHeader(newStatus)
	_, _ = w.Write(newBody)
}

func (p *Pipeline) denyRateLimit(w http.ResponseWriter, id string, start time.Time, result ratelimit.Result) {
	if result.Rule.Action.Deny.DelayMs != nil && *result.Rule.Action.Deny.DelayMs > 0 {
		time.Sleep(time.Duration(*result.Rule.Action.Deny.DelayMs) * time.Millisecond)
	}

	headers := make(map[string]string)
	for k, v := range result.Rule.Action.Deny.Headers {
		headers[k] = v
	}
	headers["X-RateLimit-Limit"] = strconv.FormatInt(result.Decision.Limit, 10)
	headers["X-RateLimit-Remaining"] = strconv.FormatInt(result.Decision.Remaining, 10)
	headers["X-RateLimit-Reset"] = strconv.FormatInt(result.Decision.ResetInSeconds, 10)
	if result.Decision.RetryAfter != nil {
		headers["Retry-After"] = strconv.FormatInt(*result.Decision.RetryAfter, 10)
	}

	body := []byte(result.Rule.Action.Deny.Body)
	status := result.Rule.Action.Deny.Status

	telemetry.RateLimitDenials.WithLabelValues(result.Rule.ID).Inc()
	telemetry.RequestsTotal.WithLabelValues("rate_limited").Inc()

	elapsed := time.Since(start).Milliseconds()
	p.Recorder.UpdateResponse(id, recorder.RecordedResponse{Status: status, Headers: headers, Body: body}, elapsed)
	p.publishAudit(id)

	writeHeaders(w, headers)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (p *Pipeline) serveMock(w http.ResponseWriter, id string, start time.Time, rule mock.Rule, method, url string) {
	if rule.Action.DelayMs != nil && *rule.Action.DelayMs > 0 {
		time.Sleep(time.Duration(*rule.Action.DelayMs) * time.Millisecond)
	}

	headers := make(map[string]string, len(rule.Action.Headers))
	hasContentType := false
	for k, v := range rule.Action.Headers {
		headers[k] = v
		if equalFoldContentType(k) {
			hasContentType = true
		}
	}
	if !hasContentType {
		headers["Content-Type"] = "application/json"
	}

	body := []byte(rule.Action.Body)

	telemetry.RequestsTotal.WithLabelValues("mocked").Inc()

	elapsed := time.Since(start).Milliseconds()
	p.Recorder.UpdateResponse(id, recorder.RecordedResponse{Status: rule.Action.Status, Headers: headers, Body: body}, elapsed)
	p.publishAudit(id)

	if ms, applied := p.Latency.ApplyDelay(method, url, "response"); applied {
		telemetry.LatencyInjectedMs.Observe(float64(ms))
	}

	writeHeaders(w, headers)
	w.WriteHeader(rule.Action.Status)
	_, _ = w.Write(body)
}

func (p *Pipeline) serveBadGateway(w http.ResponseWriter, id string, start time.Time) {
	body := []byte("Bad Gateway")
	headers := map[string]string{"Content-Type": "text/plain"}

	telemetry.RequestsTotal.WithLabelValues("bad_gateway").Inc()

	elapsed := time.Since(start).Milliseconds()
	p.Recorder.UpdateResponse(id, recorder.RecordedResponse{Status: http.StatusBadGateway, Headers: headers, Body: body}, elapsed)
	p.publishAudit(id)

	writeHeaders(w, headers)
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write(body)
}

func equalFoldContentType(key string) bool {
	return http.CanonicalHeaderKey(key) == "Content-Type"
}

// Replay re-issues a previously recorded transaction through fwd (or the
// pipeline's own forwarder when fwd is nil) and returns the resulting
// RecordedRequest. Supplements spec.md §6's replay route.
func (p *Pipeline) Replay(ctx context.Context, rec recorder.RecordedRequest, fwd forwarder.Forwarder) (recorder.RecordedRequest, error) {
	if fwd == nil {
		fwd = p.Forwarder
	}

	headers := make(http.Header, len(rec.Headers))
	for k, v := range rec.Headers {
		headers.Set(k, v)
	}

	start := time.Now()
	status, respHeaders, respBody, err := fwd.Forward(ctx, rec.Method, rec.URL, headers, rec.Body)
	if err != nil {
		return recorder.RecordedRequest{}, err
	}
	elapsed := time.Since(start).Milliseconds()

	id, ts, _ := p.Recorder.RecordRequest(rec.Method, rec.URL, rec.Headers, rec.Body)
	p.Recorder.UpdateResponse(id, recorder.RecordedResponse{
		Status:  status,
		Headers: flattenHeaders(respHeaders),
		Body:    respBody,
	}, elapsed)

	newRec, _ := p.Recorder.GetByID(id)
	newRec.Timestamp = ts
	return newRec, nil
}
