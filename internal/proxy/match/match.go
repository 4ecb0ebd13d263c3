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

// Package match implements the single predicate-evaluation rule shared by
// the mock, modifier, rate-limit and latency engines.
package match

import (
	"regexp"
	"strings"
	"sync"

	"devproxy/internal/proxy/rulestore"
)

// regex cache: predicates are evaluated on every request, compiling the
// same pattern per-call would be wasteful. Compile errors are cached too
// (as a nil *regexp.Regexp) so a bad pattern is only attempted once.
var (
	regexCacheMu sync.RWMutex
	regexCache   = make(map[string]*regexp.Regexp)
)

func compile(pattern string) *regexp.Regexp {
	regexCacheMu.RLock()
	re, ok := regexCache[pattern]
	regexCacheMu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}

	regexCacheMu.Lock()
	regexCache[pattern] = re
	regexCacheMu.Unlock()
	return re
}

// Matches evaluates a predicate against an inbound request. status is nil
// when evaluated before a response exists (request-side engines); when
// non-nil and the predicate carries StatusCodes, the status must appear in
// that list for the predicate to pass.
func Matches(m rulestore.MatchPredicate, method, url string, status *int) bool {
	if m.Method != nil && *m.Method != method {
		return false
	}

	if len(m.StatusCodes) > 0 {
		if status == nil {
			return false
		}
		found := false
		for _, sc := range m.StatusCodes {
			if sc == *status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	switch m.URLMatchType {
	case rulestore.MatchExact:
		return url == m.URLPattern
	case rulestore.MatchContains:
		return strings.Contains(url, m.URLPattern)
	case rulestore.MatchStartsWith:
		return strings.HasPrefix(url, m.URLPattern)
	case rulestore.MatchEndsWith:
		return strings.HasSuffix(url, m.URLPattern)
	case rulestore.MatchRegex:
		re := compile(m.URLPattern)
		if re == nil {
			return false
		}
		return re.MatchString(url)
	default:
		return false
	}
}
