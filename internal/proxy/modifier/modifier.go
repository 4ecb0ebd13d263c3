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

// Package modifier rewrites forwarded responses: body replacement, header
// add/remove, status override, injected delay, and JSON path set. JSON
// path-set deliberately never creates missing intermediate keys — it uses
// gjson to confirm every intermediate segment already exists as an object
// before handing the write to sjson.
package modifier

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"devproxy/internal/proxy/match"
	"devproxy/internal/proxy/rulestore"
	"devproxy/internal/telemetry"
)

// Modification is a tagged sum type; each variant only reads its own fields.
type Modification struct {
	Type        string `json:"type"`
	Pattern     string `json:"pattern,omitempty"`
	Replacement string `json:"replacement,omitempty"`
	UseRegex    bool   `json:"use_regex,omitempty"`
	Name        string `json:"name,omitempty"`
	Value       string `json:"value,omitempty"`
	Status      int    `json:"status,omitempty"`
	DelayMs     int64  `json:"delay_ms,omitempty"`
	Path        string `json:"path,omitempty"`
	JSONValue   any    `json:"json_value,omitempty"`
}

// Action is an ordered list of modifications applied in sequence.
type Action struct {
	Modifications []Modification `json:"modifications"`
}

// Rule is a modifier rule carrier.
type Rule = rulestore.Rule[Action]

// Modifier owns the modifier RuleStore.
type Modifier struct {
	rules *rulestore.Store[Action]

	bodyRegexMu sync.RWMutex
	bodyRegex   map[string]*regexp.Regexp
}

// New constructs an empty Modifier.
func New() *Modifier {
	return &Modifier{
		rules:     rulestore.New[Action](),
		bodyRegex: make(map[string]*regexp.Regexp),
	}
}

// Rules exposes the underlying store for control-plane CRUD.
func (m *Modifier) Rules() *rulestore.Store[Action] {
	return m.rules
}

func (m *Modifier) compileBodyRegex(pattern string) *regexp.Regexp {
	m.bodyRegexMu.RLock()
	re, ok := m.bodyRegex[pattern]
	m.bodyRegexMu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	m.bodyRegexMu.Lock()
	m.bodyRegex[pattern] = re
	m.bodyRegexMu.Unlock()
	return re
}

// matchingRules collects enabled rules whose predicate matches, already
// sorted priority-descending (ties by created_at) by the store.
func (m *Modifier) matchingRules(method, url string, status int) []Rule {
	var out []Rule
	for _, r := range m.rules.List() {
		if r.Enabled && match.Matches(r.Match, method, url, &status) {
			out = append(out, r)
		}
	}
	return out
}

// Apply mutates status/headers/body in place across every matching rule's
// modifications, in priority order, and returns the final status. Callers
// must overwrite Content-Length and drop Transfer-Encoding afterward.
func (m *Modifier) Apply(method, url string, status int, headers http.Header, body []byte) (int, []byte) {
	finalStatus := status
	currentBody := body

	for _, rule := range m.matchingRules(method, url, finalStatus) {
		for _, mod := range rule.Action.Modifications {
			finalStatus, currentBody = m.applyOne(mod, finalStatus, headers, currentBody)
		}
		telemetry.ModifierApplications.WithLabelValues(rule.ID).Inc()
	}

	return finalStatus, currentBody
}

func (m *Modifier) applyOne(mod Modification, status int, headers http.Header, body []byte) (int, []byte) {
	switch mod.Type {
	case "replace_body":
		return status, m.replaceBody(mod, body)
	case "add_header":
		headers.Set(mod.Name, mod.Value)
		return status, body
	case "remove_header":
		headers.Del(mod.Name)
		return status, body
	case "change_status":
		return mod.Status, body
	case "inject_delay":
		if mod.DelayMs > 0 {
			time.Sleep(time.Duration(mod.DelayMs) * time.Millisecond)
		}
		return status, body
	case "modify_json":
		return status, m.modifyJSON(mod, body)
	default:
		return status, body
	}
}

func (m *Modifier) replaceBody(mod Modification, body []byte) []byte {
	if !utf8.Valid(body) {
		return body
	}
	text := string(body)

	if mod.UseRegex {
		re := m.compileBodyRegex(mod.Pattern)
		if re == nil {
			return body
		}
		return []byte(re.ReplaceAllString(text, mod.Replacement))
	}
	return []byte(strings.ReplaceAll(text, mod.Pattern, mod.Replacement))
}

func (m *Modifier) modifyJSON(mod Modification, body []byte) []byte {
	if !gjson.ValidBytes(body) {
		return body
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return body
	}

	segments := strings.Split(mod.Path, ".")
	if len(segments) > 1 {
		parentPath := strings.Join(segments[:len(segments)-1], ".")
		parent := root.Get(parentPath)
		if !parent.Exists() || !parent.IsObject() {
			return body
		}
	}

	out, err := sjson.SetBytes(body, mod.Path, mod.JSONValue)
	if err != nil {
		return body
	}
	return out
}
