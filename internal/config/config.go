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

// Package config parses the CLI flags named in spec.md §6 plus the ambient
// and domain-stack additions, following the teacher's flag-based bootstrap
// style rather than introducing a config file or env-var layer.
package config

import (
	"flag"
	"time"
)

// Config holds every tunable the bootstrap collaborator consumes.
type Config struct {
	DataPlaneAddr    string
	ControlPlaneAddr string
	MetricsAddr      string
	UpstreamURL      string
	RecordingEnabled bool

	RedisAddr    string
	ReplayTTL    time.Duration
	KafkaTopic   string
	PostgresDSN  string
	SnapshotEvery time.Duration
}

// Parse builds a Config from os.Args-equivalent flags.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("devproxy", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.DataPlaneAddr, "data-plane-addr", ":8080", "address for the data-plane (proxy) listener")
	fs.StringVar(&cfg.ControlPlaneAddr, "control-plane-addr", ":8081", "address for the control-plane (API) listener")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "address for the /metrics listener")
	fs.StringVar(&cfg.UpstreamURL, "upstream", "http://localhost:9000", "default upstream origin to forward to")
	fs.BoolVar(&cfg.RecordingEnabled, "record", true, "whether to record transactions in memory")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "optional redis address for replay deduplication (empty = in-memory marker)")
	fs.DurationVar(&cfg.ReplayTTL, "replay-ttl", 5*time.Second, "dedup window for repeated replay calls on the same recording")
	fs.StringVar(&cfg.KafkaTopic, "audit-topic", "devproxy.audit", "topic name used by the best-effort audit publisher")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "optional postgres DSN for the analytics snapshot archiver (empty = disabled)")
	fs.DurationVar(&cfg.SnapshotEvery, "snapshot-interval", 5*time.Minute, "interval between analytics snapshot archiver runs")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
