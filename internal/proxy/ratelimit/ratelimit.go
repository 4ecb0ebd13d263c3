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

// Package ratelimit implements the sliding-window, burst-aware rate
// limiter: a RuleStore of limit rules plus a per-scope bucket table.
// Admission for a single bucket key is linearisable — the
// evict-count-admit-append sequence runs under that bucket's own lock, so
// two concurrent checks can never both admit past the limit.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"devproxy/internal/proxy/match"
	"devproxy/internal/proxy/rulestore"
)

// KeyType selects how a bucket's scope is derived from the request.
type KeyType struct {
	Type    string `json:"type"` // global | ip_address | header | custom
	Name    string `json:"name,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// DenyResponse is what the pipeline emits when a check denies.
type DenyResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
	DelayMs *int64            `json:"delay_ms,omitempty"`
}

// Action is the rate-limit rule's payload.
type Action struct {
	KeyType       KeyType      `json:"key_type"`
	MaxRequests   int64        `json:"max_requests"`
	WindowSeconds int64        `json:"window_seconds"`
	BurstSize     int64        `json:"burst_size"`
	Deny          DenyResponse `json:"deny"`
}

// Rule is a rate-limit rule carrier.
type Rule = rulestore.Rule[Action]

// Decision is the outcome of a bucket check.
type Decision struct {
	Limit          int64
	Remaining      int64
	ResetInSeconds int64
	RetryAfter     *int64
}

// Result bundles the matched rule with its decision.
type Result struct {
	Rule     Rule
	Decision Decision
	Denied   bool
}

type bucket struct {
	mu        sync.Mutex
	stamps    []time.Time
	burstUsed int64
}

// RateLimiter owns the rule store and the bucket table.
type RateLimiter struct {
	rules   *rulestore.Store[Action]
	buckets sync.Map // string -> *bucket
}

// New constructs an empty RateLimiter.
func New() *RateLimiter {
	return &RateLimiter{rules: rulestore.New[Action]()}
}

// Rules exposes the underlying store for control-plane CRUD.
func (rl *RateLimiter) Rules() *rulestore.Store[Action] {
	return rl.rules
}

func bucketKey(ruleID string, kt KeyType, clientIP string, headerValue func(string) string) string {
	switch kt.Type {
	case "ip_address":
		return ruleID + ":ip:" + clientIP
	case "header":
		v := headerValue(kt.Name)
		if v == "" {
			v = "unknown"
		}
		return ruleID + ":header:" + kt.Name + ":" + v
	case "custom":
		return ruleID + ":custom:" + kt.Pattern
	default:
		return ruleID + ":global"
	}
}

// Check evaluates the highest-priority enabled matching rule against the
// request and performs bucket admission. matched is false when no rule
// applies, in which case the pipeline proceeds unthrottled.
func (rl *RateLimiter) Check(method, url, clientIP string, headerValue func(string) string) (Result, bool) {
	var chosen *Rule
	for _, r := range rl.rules.List() {
		if !r.Enabled {
			continue
		}
		if !match.Matches(r.Match, method, url, nil) {
			continue
		}
		rc := r
		chosen = &rc
		break // List() is priority-descending; first match wins
	}
	if chosen == nil {
		return Result{}, false
	}

	key := bucketKey(chosen.ID, chosen.Action.KeyType, clientIP, headerValue)
	bv, _ := rl.buckets.LoadOrStore(key, &bucket{})
	b := bv.(*bucket)

	maxReq := chosen.Action.MaxRequests
	burstSize := chosen.Action.BurstSize
	window := time.Duration(chosen.Action.WindowSeconds) * time.Second

	b.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-window)

	kept := make([]time.Time, 0, len(b.stamps))
	for _, t := range b.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.stamps = kept

	n := int64(len(b.stamps))
	if n < maxReq {
		b.burstUsed = 0
	}

	admit := false
	if n < maxReq {
		admit = true
	} else if b.burstUsed < burstSize {
		admit = true
		b.burstUsed++
	}

	var oldest time.Time
	if len(b.stamps) > 0 {
		oldest = b.stamps[0]
	}

	if admit {
		b.stamps = append(b.stamps, now)
	}
	b.mu.Unlock()

	remaining := maxReq - n
	if remaining < 0 {
		remaining = 0
	}

	var resetIn int64
	if !oldest.IsZero() {
		resetIn = chosen.Action.WindowSeconds - int64(now.Sub(oldest).Seconds())
		if resetIn < 0 {
			resetIn = 0
		}
	} else {
		resetIn = chosen.Action.WindowSeconds
	}

	decision := Decision{Limit: maxReq, Remaining: remaining, ResetInSeconds: resetIn}
	if admit {
		return Result{Rule: *chosen, Decision: decision, Denied: false}, true
	}
	decision.RetryAfter = &resetIn
	return Result{Rule: *chosen, Decision: decision, Denied: true}, true
}

// ResetBucket evicts every bucket belonging to ruleID.
func (rl *RateLimiter) ResetBucket(ruleID string) {
	prefix := ruleID + ":"
	rl.buckets.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			rl.buckets.Delete(k)
		}
		return true
	})
}

// BucketStats reports the bucket table size and the number of buckets
// currently holding at least one timestamp.
type BucketStats struct {
	TotalBuckets int64 `json:"total_buckets"`
	ActiveLimits int64 `json:"active_limits"`
}

// Stats returns the current BucketStats snapshot.
func (rl *RateLimiter) Stats() BucketStats {
	var s BucketStats
	rl.buckets.Range(func(_, v any) bool {
		s.TotalBuckets++
		b := v.(*bucket)
		b.mu.Lock()
		if len(b.stamps) > 0 {
			s.ActiveLimits++
		}
		b.mu.Unlock()
		return true
	})
	return s
}
