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

package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/royalpayne/docushuttle/internal/models"
)

// graphAddress mirrors the Graph API emailAddress wrapper.
type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
}

// graphMessage represents the relevant fields from a Graph API message.
type graphMessage struct {
	ID             string         `json:"id"`
	Subject        string         `json:"subject"`
	SentDateTime   string         `json:"sentDateTime"`
	HasAttachments bool           `json:"hasAttachments"`
	From           graphAddress   `json:"from"`
	ToRecipients   []graphAddress `json:"toRecipients"`
	Attachments    []struct {
		Name string `json:"name"`
	} `json:"attachments"`
}

// messagePage holds one decoded page of the message listing.
type messagePage struct {
	messages []*models.CandidateMessage
	nextLink string
}

// parseMessagePage converts one page of the /messages listing into
// candidate messages.
func parseMessagePage(body io.Reader) (*messagePage, error) {
	var raw struct {
		Value    []graphMessage `json:"value"`
		NextLink string         `json:"@odata.nextLink"`
	}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode messages page: %w", err)
	}

	page := &messagePage{nextLink: raw.NextLink}
	for i := range raw.Value {
		msg, err := convertMessage(&raw.Value[i])
		if err != nil {
			return nil, err
		}
		page.messages = append(page.messages, msg)
	}
	return page, nil
}

func convertMessage(m *graphMessage) (*models.CandidateMessage, error) {
	sentAt, err := time.Parse(time.RFC3339, m.SentDateTime)
	if err != nil {
		return nil, fmt.Errorf("parse sentDateTime %q: %w", m.SentDateTime, err)
	}

	to := make([]models.EmailAddress, 0, len(m.ToRecipients))
	for _, r := range m.ToRecipients {
		to = append(to, models.EmailAddress{
			Address: r.EmailAddress.Address,
			Name:    r.EmailAddress.Name,
		})
	}

	var names []string
	for _, a := range m.Attachments {
		names = append(names, a.Name)
	}

	return &models.CandidateMessage{
		ID:      m.ID,
		Subject: m.Subject,
		SentAt:  sentAt,
		From: models.EmailAddress{
			Address: m.From.EmailAddress.Address,
			Name:    m.From.EmailAddress.Name,
		},
		To:              to,
		HasAttachments:  m.HasAttachments,
		AttachmentNames: names,
	}, nil
}
