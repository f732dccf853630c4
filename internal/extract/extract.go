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

// Package extract derives a normalized file number from a message.
// Attachment filenames are scanned first, in listed order, then the
// subject line. A candidate qualifies only when it begins with an
// accepted prefix followed immediately by an optional dash and digits;
// the prefix itself must sit on a token boundary.
package extract

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/royalpayne/docushuttle/internal/models"
)

// Extractor matches file numbers for one fixed prefix set.
type Extractor struct {
	patterns []*regexp.Regexp
}

// New compiles an extractor. An empty prefix set disables extraction:
// Extract always reports absent.
func New(prefixes []string) *Extractor {
	e := &Extractor{}
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// Anchored at a token boundary so "1759-42" does not match
		// prefix "759".
		re := regexp.MustCompile(`(?:^|[^A-Za-z0-9])(` + regexp.QuoteMeta(p) + `-?[0-9]+)`)
		e.patterns = append(e.patterns, re)
	}
	return e
}

// Enabled reports whether any prefixes are configured.
func (e *Extractor) Enabled() bool {
	return len(e.patterns) > 0
}

// Extract returns the first qualifying file number of the message, or
// ("", false) when none matches or extraction is disabled.
func (e *Extractor) Extract(m *models.CandidateMessage) (string, bool) {
	if !e.Enabled() {
		return "", false
	}

	for _, name := range m.AttachmentNames {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if fn, ok := e.match(base); ok {
			return fn, true
		}
	}

	return e.match(m.Subject)
}

func (e *Extractor) match(s string) (string, bool) {
	for _, re := range e.patterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}
