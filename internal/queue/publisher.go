// Copyright (c) 2026 John Earle
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

// Package queue publishes forward audit events to a Redis list so
// downstream tooling (reporting, billing reconciliation) can consume the
// forward trail without touching the database.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher sends audit events to a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the specified list.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// ForwardEvent is the audit record for one completed forward.
type ForwardEvent struct {
	EventID     string    `json:"event_id"`
	RunID       string    `json:"run_id"`
	FileNumber  string    `json:"file_number,omitempty"`
	MessageID   string    `json:"message_id"`
	Recipient   string    `json:"recipient"`
	Subject     string    `json:"subject"`
	ForwardedAt time.Time `json:"forwarded_at"`
}

// PublishForward serialises the event and pushes it onto the audit list.
func (p *Publisher) PublishForward(ctx context.Context, event *ForwardEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal forward event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(body)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published forward audit event",
		"event_id", event.EventID,
		"run_id", event.RunID,
		"file_number", event.FileNumber,
		"recipient", event.Recipient,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
