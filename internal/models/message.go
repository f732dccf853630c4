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

// Package models defines the data structures shared across the forwarding service.
package models

import (
	"context"
	"time"
)

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// CandidateMessage is a read-only view over one Sent Items entry.
// The pipeline never mutates it; forwarding references it by ID.
type CandidateMessage struct {
	ID              string         `json:"id"`
	Subject         string         `json:"subject"`
	SentAt          time.Time      `json:"sent_at"`
	From            EmailAddress   `json:"from"`
	To              []EmailAddress `json:"to"`
	HasAttachments  bool           `json:"has_attachments"`
	AttachmentNames []string       `json:"attachment_names"`
}

// MessageSource yields Sent Items entries one at a time. Next returns
// (nil, nil) when the sequence is exhausted. A source is consumed once
// and is not restartable mid-scan.
type MessageSource interface {
	Next(ctx context.Context) (*CandidateMessage, error)
}

// ForwardRecord marks a file number as forwarded to a recipient.
// At most one record exists per (file_number, recipient) pair; re-forwarding
// refreshes ForwardedAt.
type ForwardRecord struct {
	FileNumber  string    `json:"file_number"`
	Recipient   string    `json:"recipient"`
	ForwardedAt time.Time `json:"forwarded_at"`
}
