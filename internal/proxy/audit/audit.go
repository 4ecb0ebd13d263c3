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

// Package audit best-effort publishes completed transactions to an
// external event stream. It reuses the teacher's library-agnostic Producer
// interface rather than pinning a concrete Kafka client, since publication
// here is advisory only — the recorder remains the source of truth and
// nothing in the pipeline waits on or retries a failed publish.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"devproxy/internal/proxy/recorder"
)

// Producer is the narrow interface a publish destination must satisfy.
type Producer interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
}

// LoggingProducer is the default, zero-dependency Producer: it logs what
// would have been published instead of shipping it anywhere, matching the
// teacher's demo-build stance on unconfigured external stores.
type LoggingProducer struct {
	Log zerolog.Logger
}

// Publish logs the event at debug level and always succeeds.
func (p *LoggingProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	p.Log.Debug().Str("topic", topic).Str("key", key).Int("bytes", len(value)).Msg("audit event (logging producer)")
	return nil
}

// Event is the wire shape of one published audit record.
type Event struct {
	RecordingID string    `json:"recording_id"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Status      int       `json:"status,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher wraps a Producer with the devproxy topic and event shape.
type Publisher struct {
	Producer Producer
	Topic    string
	Log      zerolog.Logger
}

// PublishCompleted marshals and publishes a completed RecordedRequest,
// swallowing any error after logging it — publication failures never
// affect the data-plane response already sent to the client.
func (p *Publisher) PublishCompleted(ctx context.Context, rec recorder.RecordedRequest) {
	if rec.Response == nil {
		return
	}

	evt := Event{
		RecordingID: rec.ID,
		Method:      rec.Method,
		URL:         rec.URL,
		Status:      rec.Response.Status,
		Timestamp:   rec.Timestamp,
	}
	if rec.DurationMs != nil {
		evt.DurationMs = *rec.DurationMs
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		p.Log.Warn().Err(err).Str("recording_id", rec.ID).Msg("failed to marshal audit event")
		return
	}

	if err := p.Producer.Publish(ctx, p.Topic, rec.ID, payload); err != nil {
		p.Log.Warn().Err(err).Str("recording_id", rec.ID).Msg("failed to publish audit event")
	}
}
