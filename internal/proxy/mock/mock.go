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

// Package mock implements the synthetic-response engine: a RuleStore of
// full canned responses, matched highest-priority-first.
package mock

import (
	"devproxy/internal/proxy/match"
	"devproxy/internal/proxy/rulestore"
)

// Action is a full synthetic response plus an optional pre-response delay.
type Action struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
	DelayMs *int64            `json:"delay_ms,omitempty"`
}

// Rule is a mock rule carrier.
type Rule = rulestore.Rule[Action]

// Engine owns the mock RuleStore.
type Engine struct {
	rules *rulestore.Store[Action]
}

// New constructs an empty Engine.
func New() *Engine {
	return &Engine{rules: rulestore.New[Action]()}
}

// Rules exposes the underlying store for control-plane CRUD.
func (e *Engine) Rules() *rulestore.Store[Action] {
	return e.rules
}

// FindMatchingRule returns the highest-priority enabled rule whose
// predicate matches, if any.
func (e *Engine) FindMatchingRule(method, url string) (Rule, bool) {
	for _, r := range e.rules.List() {
		if r.Enabled && match.Matches(r.Match, method, url, nil) {
			return r, true
		}
	}
	return Rule{}, false
}
