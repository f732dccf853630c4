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

// Package filter narrows the Sent Items collection to candidate messages.
// The subject keyword and date range become a server-side OData clause
// (coarse pass); date range and attachment presence are re-checked
// client-side. The keyword is validated against an allow-list before it
// is embedded in any query string.
package filter

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/royalpayne/docushuttle/internal/models"
)

// Skip reasons reported by Matches.
const (
	ReasonSubject       = "subject_mismatch"
	ReasonDate          = "out_of_range"
	ReasonNoAttachments = "no_attachments"
)

// InjectionError rejects a keyword containing query syntax characters.
type InjectionError struct {
	Rune rune
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("subject keyword contains disallowed character %q", e.Rune)
}

// extraKeywordChars are the permitted non-alphanumeric keyword characters.
const extraKeywordChars = " -_.,:#/&()+"

// ValidateKeyword enforces the keyword allow-list: letters, digits, and
// a small set of punctuation. Quotes, wildcards, and anything else that
// could alter the query are rejected.
func ValidateKeyword(keyword string) error {
	for _, r := range keyword {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		if strings.ContainsRune(extraKeywordChars, r) {
			continue
		}
		return &InjectionError{Rune: r}
	}
	return nil
}

// Criteria is the compiled form of one config's filters, fixed for the
// duration of a scan.
type Criteria struct {
	keyword            string
	keywordUpper       string
	startDay           time.Time // midnight, inclusive
	endDay             time.Time // midnight, inclusive
	requireAttachments bool
	loc                *time.Location
}

// NewCriteria compiles the filter parameters of a validated config.
func NewCriteria(cfg *models.RecipientConfig, loc *time.Location) (*Criteria, error) {
	keyword := strings.TrimSpace(cfg.SubjectKeyword)
	if keyword == "" {
		return nil, &models.ValidationError{Field: "subject_keyword", Reason: "empty"}
	}
	if err := ValidateKeyword(keyword); err != nil {
		return nil, err
	}

	start, err := time.ParseInLocation(models.DateFormat, cfg.StartDate, loc)
	if err != nil {
		return nil, &models.ValidationError{Field: "start_date", Reason: fmt.Sprintf("want %s", models.DateFormat)}
	}
	end, err := time.ParseInLocation(models.DateFormat, cfg.EndDate, loc)
	if err != nil {
		return nil, &models.ValidationError{Field: "end_date", Reason: fmt.Sprintf("want %s", models.DateFormat)}
	}
	if end.Before(start) {
		return nil, &models.ValidationError{Field: "end_date", Reason: "before start_date"}
	}

	return &Criteria{
		keyword:            keyword,
		keywordUpper:       strings.ToUpper(keyword),
		startDay:           start,
		endDay:             end,
		requireAttachments: cfg.RequireAttachments,
		loc:                loc,
	}, nil
}

// Clause returns the server-side OData filter expression. The
// sentDateTime bounds must lead the clause: Graph rejects a $orderby on
// a property that does not lead $filter (InefficientFilter). Single
// quotes are doubled even though the allow-list rejects them.
func (c *Criteria) Clause() string {
	escaped := strings.ReplaceAll(c.keyword, "'", "''")
	return fmt.Sprintf("sentDateTime ge %s and sentDateTime lt %s and contains(subject,'%s')",
		c.startDay.UTC().Format(time.RFC3339),
		c.endDay.Add(24*time.Hour).UTC().Format(time.RFC3339),
		escaped)
}

// RangeDays is the number of calendar days the range spans: a one-day
// range (start == end) spans 0 days.
func (c *Criteria) RangeDays() int {
	return int(c.endDay.Sub(c.startDay) / (24 * time.Hour))
}

// Matches re-checks one message client-side. Returns the skip reason
// when the message is not a candidate.
func (c *Criteria) Matches(m *models.CandidateMessage) (bool, string) {
	if !strings.Contains(strings.ToUpper(m.Subject), c.keywordUpper) {
		return false, ReasonSubject
	}

	// Inclusive at both endpoints, compared at day granularity.
	sent := m.SentAt.In(c.loc)
	day := time.Date(sent.Year(), sent.Month(), sent.Day(), 0, 0, 0, 0, c.loc)
	if day.Before(c.startDay) || day.After(c.endDay) {
		return false, ReasonDate
	}

	if c.requireAttachments && len(m.AttachmentNames) == 0 && !m.HasAttachments {
		return false, ReasonNoAttachments
	}

	return true, ""
}

// Scan is the lazy candidate sequence: it pulls from the gateway source
// and yields only messages passing the criteria. Consumed once, not
// restartable mid-scan.
type Scan struct {
	src     models.MessageSource
	crit    *Criteria
	onSkip  func(*models.CandidateMessage, string)
	scanned int
}

// Select starts a scan over src. onSkip, if non-nil, is called for every
// message the criteria reject, with the reason.
func Select(src models.MessageSource, crit *Criteria, onSkip func(*models.CandidateMessage, string)) *Scan {
	return &Scan{src: src, crit: crit, onSkip: onSkip}
}

// Next returns the next candidate, or (nil, nil) when the source is
// exhausted.
func (s *Scan) Next(ctx context.Context) (*models.CandidateMessage, error) {
	for {
		msg, err := s.src.Next(ctx)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, nil
		}

		s.scanned++
		ok, reason := s.crit.Matches(msg)
		if !ok {
			if s.onSkip != nil {
				s.onSkip(msg, reason)
			}
			continue
		}
		return msg, nil
	}
}

// Scanned reports how many messages the scan has consumed so far,
// including non-candidates.
func (s *Scan) Scanned() int {
	return s.scanned
}
