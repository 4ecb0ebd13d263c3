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

// Package controlplane exposes the HTTP surface of spec.md §6: CRUD on the
// four rule stores, recordings query/replay/clear, and stats/analytics.
// Every response is JSON; CORS allows any origin per spec.
package controlplane

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"devproxy/internal/proxy/forwarder"
	"devproxy/internal/proxy/latency"
	"devproxy/internal/proxy/mock"
	"devproxy/internal/proxy/modifier"
	"devproxy/internal/proxy/pipeline"
	"devproxy/internal/proxy/ratelimit"
	"devproxy/internal/proxy/recorder"
	"devproxy/internal/proxy/replay"
	"devproxy/internal/proxy/rulestore"
)

// Server wires the control-plane HTTP surface to the shared engines.
type Server struct {
	Recorder        *recorder.Recorder
	RateLimiter     *ratelimit.RateLimiter
	Mock            *mock.Engine
	Latency         *latency.Injector
	Modifier        *modifier.Modifier
	Pipeline        *pipeline.Pipeline
	Deduper         *replay.Deduper
	DefaultUpstream string
	Log             zerolog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Router builds the full chi router for the control-plane listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{AllowedOrigins: []string{"*"}}).Handler)

	r.Get("/api/recordings", s.handleListRecordings)
	r.Get("/api/recordings/{id}", s.handleGetRecording)
	r.Post("/api/recordings/{id}/replay", s.handleReplay)
	r.Delete("/api/recordings", s.handleClearRecordings)

	r.Get("/api/stats", s.handleStats)
	r.Get("/api/analytics", s.handleAnalytics)

	mountRuleRoutes(r, "/api/mocks", s.Mock.Rules())
	mountRuleRoutes(r, "/api/modifiers", s.Modifier.Rules())
	mountRuleRoutes(r, "/api/rate-limits", s.RateLimiter.Rules())
	mountRuleRoutes(r, "/api/latency-rules", s.Latency.Rules())

	r.Post("/api/rate-limits/{id}/reset", s.handleResetBucket)
	r.Get("/api/rate-limits/stats", s.handleRateLimitStats)
	r.Get("/api/latency-stats", s.handleLatencyStats)
	r.Post("/api/latency-stats/reset", s.handleLatencyStatsReset)

	return r
}

func mountRuleRoutes[A any](r chi.Router, prefix string, store *rulestore.Store[A]) {
	r.Route(prefix, func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, store.List())
		})
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var rule rulestore.Rule[A]
			if err := json.NewDecoder(req.Body).Decode(&rule); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
				return
			}
			id := store.Add(rule)
			writeJSON(w, http.StatusOK, map[string]string{"id": id})
		})
		r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
			store.Clear()
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		})
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			rule, ok := store.Get(id)
			if !ok {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			writeJSON(w, http.StatusOK, rule)
		})
		r.Put("/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			var rule rulestore.Rule[A]
			if err := json.NewDecoder(req.Body).Decode(&rule); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
				return
			}
			rule.ID = id
			if !store.Update(rule) {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		})
		r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if !store.Delete(id) {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		})
		r.Post("/{id}/toggle", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if !store.Toggle(id) {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		})
	})
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filters recorder.FilterOptions
	filters.Search = q.Get("search")
	filters.Method = q.Get("method")
	if v := q.Get("status"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Status = &n
		}
	}
	if v := q.Get("minDuration"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filters.MinDuration = &n
		}
	}
	if v := q.Get("maxDuration"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filters.MaxDuration = &n
		}
	}
	if v := q.Get("fromTime"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.FromTime = &t
		}
	}
	if v := q.Get("toTime"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.ToTime = &t
		}
	}

	writeJSON(w, http.StatusOK, s.Recorder.GetFiltered(filters))
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.Recorder.GetByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClearRecordings(w http.ResponseWriter, r *http.Request) {
	s.Recorder.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Recorder.GetStats())
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Recorder.GetAnalytics())
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.Recorder.GetByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	explicitUpstream := r.URL.Query().Get("upstream")
	targetUpstream := explicitUpstream
	if targetUpstream == "" {
		targetUpstream = s.DefaultUpstream
	}

	if s.Deduper != nil {
		if should, err := s.Deduper.ShouldReplay(r.Context(), id, targetUpstream); err == nil && !should {
			writeJSON(w, http.StatusOK, map[string]any{"duplicate": true, "recording_id": id})
			return
		}
	}

	var fwd forwarder.Forwarder
	if explicitUpstream != "" {
		f, err := forwarder.New(explicitUpstream)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid upstream: "+err.Error())
			return
		}
		fwd = f
	}

	newRec, err := s.Pipeline.Replay(r.Context(), rec, fwd)
	if err != nil {
		writeError(w, http.StatusBadGateway, "replay failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newRec)
}

func (s *Server) handleResetBucket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.RateLimiter.ResetBucket(id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.RateLimiter.Stats())
}

func (s *Server) handleLatencyStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Latency.GetStats())
}

func (s *Server) handleLatencyStatsReset(w http.ResponseWriter, r *http.Request) {
	s.Latency.ResetStats()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
