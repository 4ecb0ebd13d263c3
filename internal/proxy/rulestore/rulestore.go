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

// Package rulestore holds the generic, concurrency-safe rule carrier shared
// by the mock, modifier, rate-limit and latency engines. Every engine
// parameterises Store[A] with its own action type rather than duplicating
// the add/update/delete/toggle/list bookkeeping four times.
package rulestore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MatchType enumerates the five URL comparison strategies a predicate can use.
type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "starts_with"
	MatchEndsWith   MatchType = "ends_with"
	MatchRegex      MatchType = "regex"
)

// MatchPredicate is the shape shared by all four rule engines: an optional
// method equality check plus a URL match, and an optional status-code
// allowlist consulted only by the modifier engine.
type MatchPredicate struct {
	Method       *string  `json:"method,omitempty"`
	URLPattern   string   `json:"url_pattern"`
	URLMatchType MatchType `json:"url_match_type"`
	StatusCodes  []int    `json:"status_codes,omitempty"`
}

// Rule is the generic carrier: {id, name, enabled, priority, match,
// created_at} plus an action payload specific to the owning engine.
type Rule[A any] struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Enabled   bool           `json:"enabled"`
	Priority  int            `json:"priority"`
	Match     MatchPredicate `json:"match"`
	Action    A              `json:"action"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is a readers-writer-locked map of Rule[A] keyed by id. All mutating
// operations clone on read/write so that callers never retain a pointer
// into the map across a lock release.
type Store[A any] struct {
	mu    sync.RWMutex
	rules map[string]*Rule[A]
}

// New returns an empty store.
func New[A any]() *Store[A] {
	return &Store[A]{rules: make(map[string]*Rule[A])}
}

// Add assigns a fresh id and created_at, then inserts the rule.
func (s *Store[A]) Add(rule Rule[A]) string {
	rule.ID = uuid.NewString()
	rule.CreatedAt = time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = &rule
	return rule.ID
}

// Update replaces the rule at rule.ID, preserving the original created_at.
// Returns false when the id is unknown.
func (s *Store[A]) Update(rule Rule[A]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[rule.ID]
	if !ok {
		return false
	}
	rule.CreatedAt = existing.CreatedAt
	s.rules[rule.ID] = &rule
	return true
}

// Delete removes the rule, returning whether it existed.
func (s *Store[A]) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)
	return true
}

// Get returns a clone of the rule and whether it was found.
func (s *Store[A]) Get(id string) (Rule[A], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return Rule[A]{}, false
	}
	return *r, true
}

// List returns a snapshot of all rules sorted by priority descending. Ties
// are broken by created_at ascending (earlier rule wins), the documented
// tie-break for spec.md §9's open question on equal-priority ordering.
func (s *Store[A]) List() []Rule[A] {
	s.mu.RLock()
	out := make([]Rule[A], 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, *r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Toggle flips Enabled, returning whether the id existed.
func (s *Store[A]) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return false
	}
	r.Enabled = !r.Enabled
	return true
}

// Clear removes every rule.
func (s *Store[A]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string]*Rule[A])
}

// Len reports the current rule count.
func (s *Store[A]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
