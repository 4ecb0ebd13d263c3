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

// Package latency implements delay-injection rules: fixed, uniform random,
// clamped normal, and probabilistic spike delays, applied before or after
// the upstream call.
package latency

import (
	"math/rand"
	"sync"
	"time"

	"devproxy/internal/proxy/match"
	"devproxy/internal/proxy/rulestore"
)

// DelayConfig is a tagged sum type of the four supported delay shapes.
type DelayConfig struct {
	Type              string  `json:"type"` // fixed | random | normal | spike
	DelayMs           int64   `json:"delay_ms,omitempty"`
	MinMs             int64   `json:"min_ms,omitempty"`
	MaxMs             int64   `json:"max_ms,omitempty"`
	MeanMs            int64   `json:"mean_ms,omitempty"`
	StdDevMs          int64   `json:"std_dev_ms,omitempty"`
	BaseDelayMs       int64   `json:"base_delay_ms,omitempty"`
	SpikeDelayMs      int64   `json:"spike_delay_ms,omitempty"`
	SpikeProbability  float64 `json:"spike_probability,omitempty"`
}

// calculateDelay draws one delay value in milliseconds per spec.md §4.6.
func (d DelayConfig) calculateDelay() int64 {
	switch d.Type {
	case "fixed":
		return d.DelayMs
	case "random":
		if d.MaxMs <= d.MinMs {
			return d.MinMs
		}
		return d.MinMs + rand.Int63n(d.MaxMs-d.MinMs+1)
	case "normal":
		if d.StdDevMs <= 0 {
			return d.MeanMs
		}
		value := float64(d.MeanMs) + float64(d.StdDevMs)*rand.NormFloat64()
		if value < 0 {
			value = 0
		}
		return int64(value)
	case "spike":
		if rand.Float64() < d.SpikeProbability {
			return d.SpikeDelayMs
		}
		return d.BaseDelayMs
	default:
		return 0
	}
}

// Action is a latency rule's payload: which side of the transaction it
// applies to, and the delay shape to draw from.
type Action struct {
	ApplyTo string      `json:"apply_to"` // request | response | both
	Delay   DelayConfig `json:"delay"`
}

// Rule is a latency rule carrier.
type Rule = rulestore.Rule[Action]

// RuleStats tracks per-rule injection counters.
type RuleStats struct {
	RuleID        string `json:"rule_id"`
	RuleName      string `json:"rule_name"`
	Hits          int64  `json:"hits"`
	TotalDelayMs  int64  `json:"total_delay_ms"`
	AvgDelayMs    int64  `json:"avg_delay_ms"`
}

// Stats bundles global injection counters with the per-rule breakdown.
type Stats struct {
	TotalInjections int64                 `json:"total_injections"`
	TotalDelayMs    int64                  `json:"total_delay_ms"`
	MinDelayMs      int64                  `json:"min_delay_ms"`
	MaxDelayMs      int64                  `json:"max_delay_ms"`
	AvgDelayMs      int64                  `json:"avg_delay_ms"`
	ByRule          map[string]*RuleStats  `json:"by_rule"`
}

// Injector owns the latency RuleStore and its stats.
type Injector struct {
	rules *rulestore.Store[Action]

	statsMu sync.Mutex
	stats   Stats
}

// New constructs an empty Injector.
func New() *Injector {
	return &Injector{
		rules: rulestore.New[Action](),
		stats: Stats{ByRule: make(map[string]*RuleStats)},
	}
}

// Rules exposes the underlying store for control-plane CRUD.
func (inj *Injector) Rules() *rulestore.Store[Action] {
	return inj.rules
}

func appliesTo(ruleApply, current string) bool {
	if ruleApply == "both" {
		return true
	}
	return ruleApply == current
}

func (inj *Injector) findMatchingRule(method, url, applyTo string) (Rule, bool) {
	for _, r := range inj.rules.List() {
		if r.Enabled && match.Matches(r.Match, method, url, nil) && appliesTo(r.Action.ApplyTo, applyTo) {
			return r, true
		}
	}
	return Rule{}, false
}

// ApplyDelay finds the matching rule for applyTo ("request" or "response"),
// draws a delay, sleeps for it if positive, records stats, and returns the
// applied delay. Returns (0, false) when nothing matched or the draw was 0.
func (inj *Injector) ApplyDelay(method, url, applyTo string) (int64, bool) {
	rule, ok := inj.findMatchingRule(method, url, applyTo)
	if !ok {
		return 0, false
	}

	delayMs := rule.Action.Delay.calculateDelay()
	if delayMs <= 0 {
		return 0, false
	}

	time.Sleep(time.Duration(delayMs) * time.Millisecond)
	inj.recordDelay(rule.ID, rule.Name, delayMs)
	return delayMs, true
}

func (inj *Injector) recordDelay(ruleID, ruleName string, delayMs int64) {
	inj.statsMu.Lock()
	defer inj.statsMu.Unlock()

	inj.stats.TotalInjections++
	inj.stats.TotalDelayMs += delayMs
	if inj.stats.TotalInjections == 1 || delayMs < inj.stats.MinDelayMs {
		inj.stats.MinDelayMs = delayMs
	}
	if delayMs > inj.stats.MaxDelayMs {
		inj.stats.MaxDelayMs = delayMs
	}
	inj.stats.AvgDelayMs = inj.stats.TotalDelayMs / inj.stats.TotalInjections

	rs, ok := inj.stats.ByRule[ruleID]
	if !ok {
		rs = &RuleStats{RuleID: ruleID, RuleName: ruleName}
		inj.stats.ByRule[ruleID] = rs
	}
	rs.Hits++
	rs.TotalDelayMs += delayMs
	rs.AvgDelayMs = rs.TotalDelayMs / rs.Hits
}

// GetStats returns a snapshot with the min-delay sentinel normalised to 0
// when no samples have been recorded yet.
func (inj *Injector) GetStats() Stats {
	inj.statsMu.Lock()
	defer inj.statsMu.Unlock()

	out := Stats{
		TotalInjections: inj.stats.TotalInjections,
		TotalDelayMs:    inj.stats.TotalDelayMs,
		MinDelayMs:      inj.stats.MinDelayMs,
		MaxDelayMs:      inj.stats.MaxDelayMs,
		AvgDelayMs:      inj.stats.AvgDelayMs,
		ByRule:          make(map[string]*RuleStats, len(inj.stats.ByRule)),
	}
	if out.TotalInjections == 0 {
		out.MinDelayMs = 0
	}
	for k, v := range inj.stats.ByRule {
		clone := *v
		out.ByRule[k] = &clone
	}
	return out
}

// ResetStats zeroes global and per-rule counters.
func (inj *Injector) ResetStats() {
	inj.statsMu.Lock()
	defer inj.statsMu.Unlock()
	inj.stats = Stats{ByRule: make(map[string]*RuleStats)}
}
