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

// Package store provides the Postgres-backed persistence: named
// recipient configurations and the forward-record table that backs
// deduplication.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/royalpayne/docushuttle/internal/models"
)

// Store wraps the Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates the store and ensures the schema exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS recipient_configs (
			name                TEXT PRIMARY KEY,
			recipient           TEXT NOT NULL,
			start_date          TEXT NOT NULL,
			end_date            TEXT NOT NULL,
			subject_keyword     TEXT NOT NULL,
			prefixes            TEXT DEFAULT '',
			require_attachments BOOLEAN DEFAULT FALSE,
			skip_forwarded      BOOLEAN DEFAULT TRUE,
			delay_seconds       INTEGER DEFAULT 0,
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS forward_records (
			file_number  TEXT NOT NULL,
			recipient    TEXT NOT NULL,
			forwarded_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (file_number, recipient)
		);
		CREATE INDEX IF NOT EXISTS idx_fwd_recipient ON forward_records(recipient);
	`)
	return err
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Recipient configurations ---

// SaveConfig inserts or updates a named configuration.
func (s *Store) SaveConfig(ctx context.Context, name string, cfg *models.RecipientConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recipient_configs
			(name, recipient, start_date, end_date, subject_keyword,
			 prefixes, require_attachments, skip_forwarded, delay_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			recipient           = EXCLUDED.recipient,
			start_date          = EXCLUDED.start_date,
			end_date            = EXCLUDED.end_date,
			subject_keyword     = EXCLUDED.subject_keyword,
			prefixes            = EXCLUDED.prefixes,
			require_attachments = EXCLUDED.require_attachments,
			skip_forwarded      = EXCLUDED.skip_forwarded,
			delay_seconds       = EXCLUDED.delay_seconds,
			updated_at          = NOW()
	`, name, strings.ToLower(cfg.Recipient), cfg.StartDate, cfg.EndDate, cfg.SubjectKeyword,
		models.JoinPrefixList(cfg.Prefixes), cfg.RequireAttachments, cfg.SkipForwarded, cfg.DelaySeconds)
	return err
}

// LoadConfig returns the named configuration, or nil when absent.
func (s *Store) LoadConfig(ctx context.Context, name string) (*models.RecipientConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT recipient, start_date, end_date, subject_keyword,
		       prefixes, require_attachments, skip_forwarded, delay_seconds
		FROM recipient_configs
		WHERE name = $1
	`, name)

	var cfg models.RecipientConfig
	var prefixes string
	err := row.Scan(&cfg.Recipient, &cfg.StartDate, &cfg.EndDate, &cfg.SubjectKeyword,
		&prefixes, &cfg.RequireAttachments, &cfg.SkipForwarded, &cfg.DelaySeconds)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.Prefixes = models.ParsePrefixList(prefixes)
	return &cfg, nil
}

// ListConfigNames returns the saved configuration names.
func (s *Store) ListConfigNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name FROM recipient_configs ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DeleteConfig removes a named configuration. Returns false when the
// name was not present.
func (s *Store) DeleteConfig(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM recipient_configs WHERE name = $1
	`, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Forward records ---

// HasForwarded reports whether the file number was previously forwarded
// to the recipient.
func (s *Store) HasForwarded(ctx context.Context, fileNumber, recipient string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM forward_records
		WHERE file_number = $1 AND recipient = $2
	`, fileNumber, strings.ToLower(recipient)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordForward upserts a forward record. Re-forwarding the same file
// number refreshes the timestamp; the write never errors on duplicates.
func (s *Store) RecordForward(ctx context.Context, fileNumber, recipient string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO forward_records (file_number, recipient, forwarded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (file_number, recipient) DO UPDATE SET
			forwarded_at = EXCLUDED.forwarded_at
	`, fileNumber, strings.ToLower(recipient), at)
	return err
}
