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

// Package snapshot is an optional background worker that periodically
// archives aggregated recorder stats/analytics into Postgres. It persists
// aggregates only, never individual recordings or rules, so it does not
// reintroduce the durable-recording-state that spec.md's Non-goals exclude.
// Disabled unless a DSN is configured, mirroring the teacher's own
// "not enabled in demo build" stance on its Postgres persister.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"devproxy/internal/proxy/recorder"
)

// schema (applied by EnsureSchema):
//
//	CREATE TABLE IF NOT EXISTS analytics_snapshots (
//	    id BIGSERIAL PRIMARY KEY,
//	    captured_at TIMESTAMPTZ NOT NULL,
//	    stats JSONB NOT NULL,
//	    analytics JSONB NOT NULL
//	);
const createTableSQL = `CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id BIGSERIAL PRIMARY KEY,
	captured_at TIMESTAMPTZ NOT NULL,
	stats JSONB NOT NULL,
	analytics JSONB NOT NULL
)`

const insertSnapshotSQL = `INSERT INTO analytics_snapshots (captured_at, stats, analytics) VALUES ($1, $2, $3)`

// Archiver periodically writes a recorder.Stats + recorder.Analytics
// snapshot to Postgres on a ticker, following the teacher's
// stopChan+WaitGroup+atomic-CAS worker shutdown discipline.
type Archiver struct {
	db       *sql.DB
	recorder *recorder.Recorder
	interval time.Duration
	log      zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewArchiver constructs an Archiver. db may be nil, in which case Start is
// a no-op (the feature is simply disabled).
func NewArchiver(db *sql.DB, rec *recorder.Recorder, interval time.Duration, log zerolog.Logger) *Archiver {
	return &Archiver{
		db:       db,
		recorder: rec,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// EnsureSchema creates the snapshot table if it does not already exist.
func (a *Archiver) EnsureSchema(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx, createTableSQL)
	return err
}

// Start launches the archive loop. No-op when db is nil.
func (a *Archiver) Start() {
	if a.db == nil {
		return
	}
	a.log.Info().Dur("interval", a.interval).Msg("starting analytics snapshot archiver")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop()
	}()
}

// Stop gracefully stops the archive loop. Safe to call even if Start was
// never called (db == nil) or Stop was already called.
func (a *Archiver) Stop() {
	if a.db == nil {
		return
	}
	if !atomic.CompareAndSwapUint32(&a.stopped, 0, 1) {
		return
	}
	close(a.stopChan)
	a.wg.Wait()
}

func (a *Archiver) loop() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.runCycle(context.Background()); err != nil {
				a.log.Warn().Err(err).Msg("analytics snapshot cycle failed")
			}
		case <-a.stopChan:
			return
		}
	}
}

func (a *Archiver) runCycle(ctx context.Context) error {
	stats := a.recorder.GetStats()
	analytics := a.recorder.GetAnalytics()

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	analyticsJSON, err := json.Marshal(analytics)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx, insertSnapshotSQL, time.Now().UTC(), statsJSON, analyticsJSON)
	return err
}
