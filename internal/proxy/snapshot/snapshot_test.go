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

package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"devproxy/internal/proxy/recorder"
)

// TestArchiver_DisabledWhenNoDBIsConfigured verifies Start/Stop/EnsureSchema
// are all safe no-ops when constructed with a nil *sql.DB, matching the
// "disabled unless a DSN is configured" contract.
func TestArchiver_DisabledWhenNoDBIsConfigured(t *testing.T) {
	a := NewArchiver(nil, recorder.New(true), time.Minute, zerolog.Nop())

	if err := a.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("expected EnsureSchema to no-op without a db, got %v", err)
	}

	a.Start()
	a.Stop()
	a.Stop() // must tolerate a second Stop call even though Start never ran the loop
}
