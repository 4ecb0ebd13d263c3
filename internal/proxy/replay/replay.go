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

// Package replay deduplicates /api/recordings/{id}/replay calls. It
// repurposes the rate-limiter's idempotency-marker discipline (a SETNX-style
// marker with a TTL) so re-issuing a replay for the same recording against
// the same upstream within the window is reported as a duplicate instead
// of re-hitting the upstream a second time. Only the claim is stored; the
// id of the earlier replay is not kept.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker sets a key if absent, returning true when this call newly claimed
// it (i.e. the replay should proceed) and false when it was already set
// (i.e. a duplicate replay within the TTL window).
type Marker interface {
	ClaimIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisMarker backs Marker with a real redis.Client's SETNX.
type RedisMarker struct {
	Client *redis.Client
}

// ClaimIfAbsent is a thin wrapper over SETNX.
func (m *RedisMarker) ClaimIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := m.Client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// MemoryMarker is the in-process fallback when no Redis endpoint is
// configured, mirroring the teacher's logging/no-op adapter pattern for
// environments without a real backing store wired up.
type MemoryMarker struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewMemoryMarker constructs an empty in-memory marker table.
func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{expires: make(map[string]time.Time)}
}

// ClaimIfAbsent claims the key unless an unexpired claim already exists.
func (m *MemoryMarker) ClaimIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if exp, ok := m.expires[key]; ok && exp.After(now) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

// Deduper wraps a Marker with the replay-specific key scheme and TTL.
type Deduper struct {
	Marker Marker
	TTL    time.Duration
}

// NewDeduper constructs a Deduper with a default 5-second window.
func NewDeduper(marker Marker) *Deduper {
	return &Deduper{Marker: marker, TTL: 5 * time.Second}
}

// ShouldReplay reports whether a replay of recordingID against upstream
// should actually be issued (true) or is a duplicate within the window
// (false).
func (d *Deduper) ShouldReplay(ctx context.Context, recordingID, upstream string) (bool, error) {
	key := fmt.Sprintf("devproxy:replay:%s:%s", recordingID, upstream)
	return d.Marker.ClaimIfAbsent(ctx, key, d.TTL)
}
