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

// Package main is the devproxy bootstrap: it parses flags, wires the rule
// engines, recorder, and forwarder into an InterceptPipeline, and runs the
// data-plane, control-plane, and metrics listeners side by side until an
// OS signal asks for graceful shutdown.
//
// This file is responsible for orchestrating the whole service:
//  1. Parsing CLI flags into a config.Config.
//  2. Constructing the rule engines, recorder, forwarder, and optional
//     replay/audit/snapshot collaborators.
//  3. Starting the data-plane, control-plane, and metrics HTTP servers.
//  4. Managing graceful shutdown so in-flight requests finish cleanly.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"devproxy/internal/config"
	"devproxy/internal/controlplane"
	"devproxy/internal/proxy/audit"
	"devproxy/internal/proxy/forwarder"
	"devproxy/internal/proxy/latency"
	"devproxy/internal/proxy/mock"
	"devproxy/internal/proxy/modifier"
	"devproxy/internal/proxy/pipeline"
	"devproxy/internal/proxy/ratelimit"
	"devproxy/internal/proxy/recorder"
	"devproxy/internal/proxy/replay"
	"devproxy/internal/proxy/snapshot"
	"devproxy/internal/telemetry"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration")
	}

	// 1. Core engines: each owns its own RuleStore and side tables.
	rec := recorder.New(cfg.RecordingEnabled)
	rateLimiter := ratelimit.New()
	mockEngine := mock.New()
	latencyInjector := latency.New()
	responseModifier := modifier.New()

	fwd, err := forwarder.New(cfg.UpstreamURL)
	if err != nil {
		log.Fatal().Err(err).Str("upstream", cfg.UpstreamURL).Msg("invalid upstream URL")
	}

	// Audit publisher: best-effort, logging-only until a real producer is
	// wired in; never blocks or retries on the data-plane hot path.
	auditPublisher := &audit.Publisher{
		Producer: &audit.LoggingProducer{Log: log.With().Str("component", "audit").Logger()},
		Topic:    cfg.KafkaTopic,
		Log:      log.With().Str("component", "audit").Logger(),
	}

	pl := &pipeline.Pipeline{
		Recorder:    rec,
		RateLimiter: rateLimiter,
		Mock:        mockEngine,
		Latency:     latencyInjector,
		Modifier:    responseModifier,
		Forwarder:   fwd,
		Audit:       auditPublisher,
		Log:         log.With().Str("component", "pipeline").Logger(),
	}

	// 2. Replay dedup: Redis-backed when configured, in-memory otherwise.
	var marker replay.Marker
	if cfg.RedisAddr != "" {
		marker = &replay.RedisMarker{Client: redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})}
		log.Info().Str("redis_addr", cfg.RedisAddr).Msg("replay dedup backed by redis")
	} else {
		marker = replay.NewMemoryMarker()
		log.Info().Msg("replay dedup backed by in-memory marker table")
	}
	deduper := replay.NewDeduper(marker)
	deduper.TTL = cfg.ReplayTTL

	// 3. Optional analytics snapshot archiver.
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open postgres connection for snapshot archiver")
		}
	}
	archiver := snapshot.NewArchiver(db, rec, cfg.SnapshotEvery, log.With().Str("component", "snapshot").Logger())
	if db != nil {
		if err := archiver.EnsureSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure analytics_snapshots schema")
		}
	}
	archiver.Start()

	// 4. Control-plane server.
	cp := &controlplane.Server{
		Recorder:        rec,
		RateLimiter:     rateLimiter,
		Mock:            mockEngine,
		Latency:         latencyInjector,
		Modifier:        responseModifier,
		Pipeline:        pl,
		Deduper:         deduper,
		DefaultUpstream: cfg.UpstreamURL,
		Log:             log.With().Str("component", "controlplane").Logger(),
	}

	dataPlaneServer := &http.Server{Addr: cfg.DataPlaneAddr, Handler: pl}
	controlPlaneServer := &http.Server{Addr: cfg.ControlPlaneAddr, Handler: cp.Router()}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}

	go func() {
		log.Info().Str("addr", cfg.DataPlaneAddr).Str("upstream", cfg.UpstreamURL).Msg("data-plane listening")
		if err := dataPlaneServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("data-plane listener failed")
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.ControlPlaneAddr).Msg("control-plane listening")
		if err := controlPlaneServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("control-plane listener failed")
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics listener failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")

	archiver.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{dataPlaneServer, controlPlaneServer, metricsServer} {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("graceful shutdown failed")
		}
	}

	log.Info().Msg("shutdown complete")
}
