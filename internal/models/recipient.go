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

package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DateFormat is the wire and storage format for the scan date range.
const DateFormat = "2006-01-02"

// RecipientConfig holds the parameters of one named forwarding setup.
// It is persisted by name, loaded at run start, and immutable for the
// duration of one scan.
type RecipientConfig struct {
	Recipient          string   `json:"recipient" yaml:"recipient"`
	StartDate          string   `json:"start_date" yaml:"start_date"` // inclusive, DateFormat
	EndDate            string   `json:"end_date" yaml:"end_date"`     // inclusive, DateFormat
	SubjectKeyword     string   `json:"subject_keyword" yaml:"subject_keyword"`
	Prefixes           []string `json:"prefixes" yaml:"prefixes"` // accepted file-number prefixes; empty = extraction disabled
	RequireAttachments bool     `json:"require_attachments" yaml:"require_attachments"`
	SkipForwarded      bool     `json:"skip_forwarded" yaml:"skip_forwarded"`
	DelaySeconds       int      `json:"delay_seconds" yaml:"delay_seconds"`
}

// ValidationError rejects a config before a run starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Validate checks the config fields that do not depend on the gateway
// query syntax. The subject keyword is checked separately by the filter
// package, which owns the query allow-list.
func (c *RecipientConfig) Validate() error {
	if !emailPattern.MatchString(strings.TrimSpace(c.Recipient)) {
		return &ValidationError{Field: "recipient", Reason: "not a valid email address"}
	}

	start, err := time.Parse(DateFormat, c.StartDate)
	if err != nil {
		return &ValidationError{Field: "start_date", Reason: fmt.Sprintf("want %s", DateFormat)}
	}
	end, err := time.Parse(DateFormat, c.EndDate)
	if err != nil {
		return &ValidationError{Field: "end_date", Reason: fmt.Sprintf("want %s", DateFormat)}
	}
	if end.Before(start) {
		return &ValidationError{Field: "end_date", Reason: "before start_date"}
	}

	if strings.TrimSpace(c.SubjectKeyword) == "" {
		return &ValidationError{Field: "subject_keyword", Reason: "empty"}
	}

	for _, p := range c.Prefixes {
		if !prefixPattern.MatchString(p) {
			return &ValidationError{Field: "prefixes", Reason: fmt.Sprintf("%q is not alphanumeric", p)}
		}
	}

	if c.DelaySeconds < 0 {
		return &ValidationError{Field: "delay_seconds", Reason: "negative"}
	}

	return nil
}

// ParsePrefixList splits a comma-separated prefix list, dropping blanks.
// This is the storage representation of the Prefixes field.
func ParsePrefixList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinPrefixList is the inverse of ParsePrefixList.
func JoinPrefixList(prefixes []string) string {
	return strings.Join(prefixes, ",")
}
