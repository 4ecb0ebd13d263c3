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

package ratelimit

import (
	"sync"
	"testing"

	"devproxy/internal/proxy/rulestore"
)

func newGlobalRule(max, burst, windowSeconds int64) Rule {
	return Rule{
		Name:    "limit",
		Enabled: true,
		Match:   rulestore.MatchPredicate{URLPattern: "/limited", URLMatchType: rulestore.MatchExact},
		Action: Action{
			KeyType:       KeyType{Type: "global"},
			MaxRequests:   max,
			WindowSeconds: windowSeconds,
			BurstSize:     burst,
			Deny:          DenyResponse{Status: 429, Body: "rate limited"},
		},
	}
}

func noHeader(string) string { return "" }

// TestRateLimiter_AdmitsUpToMaxThenDenies verifies the window admits exactly
// max_requests before denying.
func TestRateLimiter_AdmitsUpToMaxThenDenies(t *testing.T) {
	rl := New()
	rl.Rules().Add(newGlobalRule(3, 0, 60))

	for i := 0; i < 3; i++ {
		res, matched := rl.Check("GET", "/limited", "1.2.3.4", noHeader)
		if !matched || res.Denied {
			t.Fatalf("request %d: expected admission, got matched=%v denied=%v", i, matched, res.Denied)
		}
	}
	res, matched := rl.Check("GET", "/limited", "1.2.3.4", noHeader)
	if !matched || !res.Denied {
		t.Fatalf("expected 4th request to be denied, got matched=%v denied=%v", matched, res.Denied)
	}
}

// TestRateLimiter_BurstAllowsExtraThenExhausts verifies burst_size admits a
// fixed number of requests beyond max_requests, then denies.
func TestRateLimiter_BurstAllowsExtraThenExhausts(t *testing.T) {
	rl := New()
	rl.Rules().Add(newGlobalRule(2, 2, 60))

	for i := 0; i < 4; i++ {
		res, _ := rl.Check("GET", "/limited", "1.2.3.4", noHeader)
		if res.Denied {
			t.Fatalf("request %d: expected burst to admit, got denied", i)
		}
	}
	res, _ := rl.Check("GET", "/limited", "1.2.3.4", noHeader)
	if !res.Denied {
		t.Fatalf("expected burst to be exhausted by the 5th request")
	}
}

// TestRateLimiter_NoMatchingRulePassesThrough verifies an unmatched URL
// returns matched=false so the pipeline proceeds unthrottled.
func TestRateLimiter_NoMatchingRulePassesThrough(t *testing.T) {
	rl := New()
	rl.Rules().Add(newGlobalRule(1, 0, 60))
	_, matched := rl.Check("GET", "/unrelated", "1.2.3.4", noHeader)
	if matched {
		t.Fatalf("expected no rule to match /unrelated")
	}
}

// TestRateLimiter_IPKeyedBucketsAreIndependent verifies ip_address key type
// gives each client its own bucket.
func TestRateLimiter_IPKeyedBucketsAreIndependent(t *testing.T) {
	rl := New()
	rule := newGlobalRule(1, 0, 60)
	rule.Action.KeyType = KeyType{Type: "ip_address"}
	rl.Rules().Add(rule)

	res1, _ := rl.Check("GET", "/limited", "1.1.1.1", noHeader)
	if res1.Denied {
		t.Fatalf("expected first client's first request to admit")
	}
	res2, _ := rl.Check("GET", "/limited", "2.2.2.2", noHeader)
	if res2.Denied {
		t.Fatalf("expected second client's first request to admit independently")
	}
	res3, _ := rl.Check("GET", "/limited", "1.1.1.1", noHeader)
	if !res3.Denied {
		t.Fatalf("expected first client's second request to be denied")
	}
}

// TestRateLimiter_ResetBucketClearsState verifies ResetBucket lets a
// previously-denied client through again.
func TestRateLimiter_ResetBucketClearsState(t *testing.T) {
	rl := New()
	id := rl.Rules().Add(newGlobalRule(1, 0, 60))

	rl.Check("GET", "/limited", "1.2.3.4", noHeader)
	res, _ := rl.Check("GET", "/limited", "1.2.3.4", noHeader)
	if !res.Denied {
		t.Fatalf("expected second request to be denied before reset")
	}

	rl.ResetBucket(id)

	res, _ = rl.Check("GET", "/limited", "1.2.3.4", noHeader)
	if res.Denied {
		t.Fatalf("expected request to admit after ResetBucket")
	}
}

// TestRateLimiter_CheckIsSafeForConcurrentUse exercises the per-bucket lock
// under concurrent access on a single rule and client, asserting the admit
// count never exceeds max_requests + burst_size.
func TestRateLimiter_CheckIsSafeForConcurrentUse(t *testing.T) {
	rl := New()
	rl.Rules().Add(newGlobalRule(5, 3, 60))

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, matched := rl.Check("GET", "/limited", "1.2.3.4", noHeader)
			if matched && !res.Denied {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted > 8 {
		t.Fatalf("expected at most 8 admissions (max+burst), got %d", admitted)
	}
}

// TestRateLimiter_StatsReportsActiveLimits verifies Stats counts only
// buckets that still hold at least one timestamp.
func TestRateLimiter_StatsReportsActiveLimits(t *testing.T) {
	rl := New()
	rl.Rules().Add(newGlobalRule(5, 0, 60))

	rl.Check("GET", "/limited", "1.2.3.4", noHeader)
	stats := rl.Stats()
	if stats.TotalBuckets != 1 || stats.ActiveLimits != 1 {
		t.Fatalf("expected one active bucket, got %+v", stats)
	}
}
