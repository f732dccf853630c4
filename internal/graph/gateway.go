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

// Package graph is the mail session gateway. It reaches the configured
// mailbox's Sent Items folder through the Microsoft Graph API: paged
// enumeration with a server-side subject filter, and forwarding as a
// createForward draft that is re-addressed, re-subjected, and sent.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/royalpayne/docushuttle/internal/models"
)

const defaultPageSize = 50

// Gateway holds the session against one mailbox.
type Gateway struct {
	httpClient   *http.Client
	graphBaseURL string
	mailbox      string
}

// NewGateway creates a gateway for the given mailbox. The HTTP client is
// expected to carry OAuth2 credentials (clientcredentials token source).
func NewGateway(httpClient *http.Client, graphBaseURL, mailbox string) *Gateway {
	return &Gateway{
		httpClient:   httpClient,
		graphBaseURL: graphBaseURL,
		mailbox:      mailbox,
	}
}

// Connect probes the Sent Items folder. A successful probe means the
// credentials work and the mailbox is reachable.
func (g *Gateway) Connect(ctx context.Context) error {
	probeURL := fmt.Sprintf("%s/users/%s/mailFolders/sentitems?$select=id,totalItemCount",
		g.graphBaseURL, url.PathEscape(g.mailbox))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe sent items: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sent items probe returned HTTP %d", resp.StatusCode)
	}

	var folder struct {
		TotalItemCount int `json:"totalItemCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&folder); err != nil {
		return fmt.Errorf("decode folder: %w", err)
	}

	slog.Info("connected to sent items folder",
		"mailbox", g.mailbox,
		"total_items", folder.TotalItemCount,
	)
	return nil
}

// SentItems starts a paged enumeration of the Sent Items folder, newest
// first. subjectClause is an OData $filter expression (already sanitised
// by the filter engine); empty means no server-side narrowing. The
// clause must lead with sentDateTime bounds, since the listing orders by
// sentDateTime and Graph requires the $orderby property to lead $filter.
func (g *Gateway) SentItems(subjectClause string) models.MessageSource {
	params := url.Values{}
	if subjectClause != "" {
		params.Set("$filter", subjectClause)
	}
	params.Set("$select", "id,subject,sentDateTime,hasAttachments,from,toRecipients")
	params.Set("$expand", "attachments($select=name)")
	params.Set("$orderby", "sentDateTime desc")
	params.Set("$top", fmt.Sprintf("%d", defaultPageSize))

	listURL := fmt.Sprintf("%s/users/%s/mailFolders/sentitems/messages?%s",
		g.graphBaseURL, url.PathEscape(g.mailbox), params.Encode())

	return &MessageIter{gw: g, nextURL: listURL}
}

// MessageIter walks the paged message listing. It is consumed once.
type MessageIter struct {
	gw      *Gateway
	nextURL string
	buf     []*models.CandidateMessage
	idx     int
}

// Next returns the next Sent Items entry in the collection's order, or
// (nil, nil) once the listing is exhausted.
func (it *MessageIter) Next(ctx context.Context) (*models.CandidateMessage, error) {
	for it.idx >= len(it.buf) {
		if it.nextURL == "" {
			return nil, nil
		}
		page, err := it.gw.fetchPage(ctx, it.nextURL)
		if err != nil {
			return nil, err
		}
		it.buf = page.messages
		it.idx = 0
		it.nextURL = page.nextLink
	}

	msg := it.buf[it.idx]
	it.idx++
	return msg, nil
}

func (g *Gateway) fetchPage(ctx context.Context, pageURL string) (*messagePage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", fmt.Sprintf("odata.maxpagesize=%d", defaultPageSize))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("messages list error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("messages list returned HTTP %d", resp.StatusCode)
	}

	return parseMessagePage(resp.Body)
}

// Forward re-sends an existing message to a new recipient, optionally
// replacing the subject. Graph's one-shot /forward action cannot change
// the subject, so this runs the same three steps the desktop client
// would: create a forward draft, patch To and Subject, send.
func (g *Gateway) Forward(ctx context.Context, messageID, recipient, newSubject string) error {
	draftID, err := g.createForwardDraft(ctx, messageID)
	if err != nil {
		return fmt.Errorf("create forward draft: %w", err)
	}

	patch := map[string]interface{}{
		"toRecipients": []map[string]interface{}{
			{"emailAddress": map[string]string{"address": recipient}},
		},
	}
	if newSubject != "" {
		patch["subject"] = newSubject
	}
	if err := g.patchMessage(ctx, draftID, patch); err != nil {
		return fmt.Errorf("address forward draft: %w", err)
	}

	if err := g.sendDraft(ctx, draftID); err != nil {
		return fmt.Errorf("send forward: %w", err)
	}

	return nil
}

func (g *Gateway) createForwardDraft(ctx context.Context, messageID string) (string, error) {
	createURL := fmt.Sprintf("%s/users/%s/messages/%s/createForward",
		g.graphBaseURL, url.PathEscape(g.mailbox), url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, createURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("createForward returned HTTP %d", resp.StatusCode)
	}

	var draft struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&draft); err != nil {
		return "", fmt.Errorf("decode draft: %w", err)
	}
	if draft.ID == "" {
		return "", fmt.Errorf("createForward returned no draft id")
	}
	return draft.ID, nil
}

func (g *Gateway) patchMessage(ctx context.Context, messageID string, fields map[string]interface{}) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}

	patchURL := fmt.Sprintf("%s/users/%s/messages/%s",
		g.graphBaseURL, url.PathEscape(g.mailbox), url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, patchURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("patch returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (g *Gateway) sendDraft(ctx context.Context, messageID string) error {
	sendURL := fmt.Sprintf("%s/users/%s/messages/%s/send",
		g.graphBaseURL, url.PathEscape(g.mailbox), url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send returned HTTP %d", resp.StatusCode)
	}
	return nil
}
