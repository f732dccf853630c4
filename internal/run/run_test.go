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

package run

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/royalpayne/docushuttle/internal/models"
	"github.com/royalpayne/docushuttle/internal/queue"
)

// --- fakes ---

type forwardCall struct {
	messageID  string
	recipient  string
	newSubject string
}

type fakeSource struct {
	msgs []*models.CandidateMessage
	idx  int
}

func (s *fakeSource) Next(ctx context.Context) (*models.CandidateMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.idx >= len(s.msgs) {
		return nil, nil
	}
	m := s.msgs[s.idx]
	s.idx++
	return m, nil
}

// blockingSource parks in Next until the context is cancelled.
type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (*models.CandidateMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeGateway struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	clause      string
	msgs        []*models.CandidateMessage
	blocking    bool
	forwards    []forwardCall
	forwardErr  map[string]error
}

func (g *fakeGateway) Connect(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connects++
	if len(g.connectErrs) > 0 {
		err := g.connectErrs[0]
		g.connectErrs = g.connectErrs[1:]
		return err
	}
	return nil
}

func (g *fakeGateway) SentItems(subjectClause string) models.MessageSource {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clause = subjectClause
	if g.blocking {
		return blockingSource{}
	}
	return &fakeSource{msgs: g.msgs}
}

func (g *fakeGateway) Forward(_ context.Context, messageID, recipient, newSubject string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.forwardErr[messageID]; err != nil {
		return err
	}
	g.forwards = append(g.forwards, forwardCall{messageID, recipient, newSubject})
	return nil
}

func (g *fakeGateway) forwardCalls() []forwardCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]forwardCall(nil), g.forwards...)
}

type memRecords struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	hasCalls int
	records  int
}

func newMemRecords() *memRecords {
	return &memRecords{seen: make(map[string]time.Time)}
}

func recordKey(fileNumber, recipient string) string {
	return fileNumber + "|" + recipient
}

func (s *memRecords) HasForwarded(_ context.Context, fileNumber, recipient string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasCalls++
	_, ok := s.seen[recordKey(fileNumber, recipient)]
	return ok, nil
}

func (s *memRecords) RecordForward(_ context.Context, fileNumber, recipient string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records++
	s.seen[recordKey(fileNumber, recipient)] = at
	return nil
}

func (s *memRecords) recordedAt(fileNumber, recipient string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.seen[recordKey(fileNumber, recipient)]
	return at, ok
}

type memCache struct {
	mu      sync.Mutex
	seen    map[string]bool
	seenErr error
	marks   int
}

func (c *memCache) Seen(_ context.Context, recipient, trackingKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seenErr != nil {
		return false, c.seenErr
	}
	return c.seen[recipient+":"+trackingKey], nil
}

func (c *memCache) Mark(_ context.Context, recipient, trackingKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	c.seen[recipient+":"+trackingKey] = true
	c.marks++
	return nil
}

type memAudit struct {
	mu     sync.Mutex
	events []*queue.ForwardEvent
}

func (a *memAudit) PublishForward(_ context.Context, event *queue.ForwardEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// sleepRecorder captures requested delays without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// --- helpers ---

func runConfig() *models.RecipientConfig {
	return &models.RecipientConfig{
		Recipient:          "Billing@Example.com",
		StartDate:          "2026-08-01",
		EndDate:            "2026-08-06",
		SubjectKeyword:     "BILLING INVOICE",
		Prefixes:           []string{"759"},
		RequireAttachments: true,
		SkipForwarded:      true,
	}
}

func inRange() time.Time {
	return time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
}

type harness struct {
	gw      *fakeGateway
	records *memRecords
	cache   *memCache
	audit   *memAudit
	sleeps  *sleepRecorder
	mgr     *Manager
}

func newHarness(gw *fakeGateway) *harness {
	h := &harness{
		gw:      gw,
		records: newMemRecords(),
		cache:   &memCache{seen: make(map[string]bool)},
		audit:   &memAudit{},
		sleeps:  &sleepRecorder{},
	}
	orch := NewOrchestrator(OrchestratorConfig{
		Gateway: gw,
		Records: h.records,
		Cache:   h.cache,
		Audit:   h.audit,
	})
	orch.sleep = h.sleeps.sleep
	orch.now = func() time.Time { return time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC) }
	h.mgr = NewManager(orch)
	return h
}

func collect(t *testing.T, r *Run) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-r.Events():
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("run did not finish in time")
		}
	}
}

func terminal(t *testing.T, events []Event) Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	last := events[len(events)-1]
	switch last.Kind {
	case EventRunCompleted, EventRunCancelled, EventRunFailed:
		return last
	}
	t.Fatalf("last event %q is not terminal", last.Kind)
	return Event{}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// --- tests ---

func TestRun_ForwardsWithFileNumberSubject(t *testing.T) {
	gw := &fakeGateway{msgs: []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE for July",
			SentAt:          inRange(),
			AttachmentNames: []string{"759-1.pdf"},
			HasAttachments:  true,
		},
		{
			ID:      "msg-b",
			Subject: "BILLING INVOICE reminder",
			SentAt:  inRange(),
		},
	}}
	h := newHarness(gw)

	r, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collect(t, r)
	last := terminal(t, events)

	if last.Kind != EventRunCompleted {
		t.Fatalf("terminal = %q (%s), want %q", last.Kind, last.Error, EventRunCompleted)
	}
	s := last.Summary
	if s.Scanned != 2 || s.Eligible != 1 || s.Forwarded != 1 || s.Skipped != 1 || s.Failed != 0 {
		t.Errorf("summary = %+v", *s)
	}

	calls := gw.forwardCalls()
	if len(calls) != 1 {
		t.Fatalf("forward calls = %d, want 1", len(calls))
	}
	// The forwarded copy carries the file number as its subject.
	if calls[0].messageID != "msg-a" || calls[0].newSubject != "759-1" {
		t.Errorf("forward call = %+v", calls[0])
	}

	// The record keys on the file number and the lowercased recipient.
	if _, ok := h.records.recordedAt("759-1", "billing@example.com"); !ok {
		t.Error("forward record missing")
	}
	if h.cache.marks != 1 {
		t.Errorf("cache marks = %d, want 1", h.cache.marks)
	}
	if len(h.audit.events) != 1 || h.audit.events[0].FileNumber != "759-1" {
		t.Errorf("audit events = %+v", h.audit.events)
	}

	// The attachment-less message surfaces as a skip event.
	skips := countKind(events, EventCandidateSkipped)
	if skips != 1 {
		t.Errorf("skip events = %d, want 1", skips)
	}
	// The clause leads with the sentDateTime bounds so the gateway's
	// $orderby stays valid against Graph.
	if !strings.HasPrefix(gw.clause, "sentDateTime ge ") ||
		!strings.Contains(gw.clause, "contains(subject,'BILLING INVOICE')") {
		t.Errorf("subject clause = %q", gw.clause)
	}
}

func TestRun_PreviewForwardsNothing(t *testing.T) {
	gw := &fakeGateway{msgs: []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE",
			SentAt:          inRange(),
			AttachmentNames: []string{"759-1.pdf"},
			HasAttachments:  true,
		},
	}}
	h := newHarness(gw)

	r, err := h.mgr.Start(runConfig(), ModePreview)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collect(t, r)
	last := terminal(t, events)

	if last.Kind != EventRunCompleted {
		t.Fatalf("terminal = %q", last.Kind)
	}
	if last.Summary.Eligible != 1 || last.Summary.Forwarded != 0 {
		t.Errorf("summary = %+v", *last.Summary)
	}
	if got := countKind(events, EventCandidateFound); got != 1 {
		t.Errorf("candidate events = %d, want 1", got)
	}
	if len(gw.forwardCalls()) != 0 {
		t.Error("preview issued a forward")
	}
	if h.records.records != 0 {
		t.Error("preview wrote a forward record")
	}
}

func TestRun_SkipForwardedHonoursDurableRecord(t *testing.T) {
	gw := &fakeGateway{msgs: []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE",
			SentAt:          inRange(),
			AttachmentNames: []string{"759-1.pdf"},
			HasAttachments:  true,
		},
	}}
	h := newHarness(gw)
	h.records.seen[recordKey("759-1", "billing@example.com")] = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	r, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collect(t, r)
	last := terminal(t, events)

	if last.Summary.Forwarded != 0 || last.Summary.Skipped != 1 {
		t.Errorf("summary = %+v", *last.Summary)
	}
	found := false
	for _, e := range events {
		if e.Kind == EventCandidateSkipped && e.Reason == ReasonAlreadyForwarded {
			found = true
		}
	}
	if !found {
		t.Error("no already_forwarded skip event")
	}
	if len(gw.forwardCalls()) != 0 {
		t.Error("already-forwarded message was sent again")
	}
}

func TestRun_SkipForwardedOffReforwardsAndRefreshesRecord(t *testing.T) {
	gw := &fakeGateway{msgs: []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE",
			SentAt:          inRange(),
			AttachmentNames: []string{"759-1.pdf"},
			HasAttachments:  true,
		},
	}}
	h := newHarness(gw)
	earlier := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	h.records.seen[recordKey("759-1", "billing@example.com")] = earlier

	cfg := runConfig()
	cfg.SkipForwarded = false
	r, err := h.mgr.Start(cfg, ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	last := terminal(t, collect(t, r))

	if last.Summary.Forwarded != 1 {
		t.Errorf("summary = %+v", *last.Summary)
	}
	at, ok := h.records.recordedAt("759-1", "billing@example.com")
	if !ok || !at.After(earlier) {
		t.Errorf("record not refreshed: at=%v ok=%v", at, ok)
	}
}

func TestRun_CacheFastPathSkipsWithoutStoreLookup(t *testing.T) {
	gw := &fakeGateway{msgs: []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE",
			SentAt:          inRange(),
			AttachmentNames: []string{"759-1.pdf"},
			HasAttachments:  true,
		},
	}}
	h := newHarness(gw)
	h.cache.seen["billing@example.com:759-1"] = true

	r, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	last := terminal(t, collect(t, r))

	if last.Summary.Skipped != 1 || last.Summary.Forwarded != 0 {
		t.Errorf("summary = %+v", *last.Summary)
	}
	if h.records.hasCalls != 0 {
		t.Errorf("store consulted %d times despite cache hit", h.records.hasCalls)
	}
}

func TestRun_CacheErrorFallsBackToStore(t *testing.T) {
	gw := &fakeGateway{msgs: []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE",
			SentAt:          inRange(),
			AttachmentNames: []string{"759-1.pdf"},
			HasAttachments:  true,
		},
	}}
	h := newHarness(gw)
	h.cache.seenErr = errors.New("redis down")

	r, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	last := terminal(t, collect(t, r))

	if last.Kind != EventRunCompleted || last.Summary.Forwarded != 1 {
		t.Errorf("terminal = %q summary = %+v", last.Kind, *last.Summary)
	}
	if h.records.hasCalls != 1 {
		t.Errorf("store lookups = %d, want 1", h.records.hasCalls)
	}
}

func TestRun_ForwardRejectionSkipsAndContinues(t *testing.T) {
	gw := &fakeGateway{
		msgs: []*models.CandidateMessage{
			{
				ID:              "msg-a",
				Subject:         "BILLING INVOICE one",
				SentAt:          inRange(),
				AttachmentNames: []string{"759-1.pdf"},
				HasAttachments:  true,
			},
			{
				ID:              "msg-b",
				Subject:         "BILLING INVOICE two",
				SentAt:          inRange(),
				AttachmentNames: []string{"759-2.pdf"},
				HasAttachments:  true,
			},
		},
		forwardErr: map[string]error{"msg-a": errors.New("mailbox quota")},
	}
	h := newHarness(gw)

	r, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collect(t, r)
	last := terminal(t, events)

	if last.Kind != EventRunCompleted {
		t.Fatalf("terminal = %q (%s)", last.Kind, last.Error)
	}
	s := last.Summary
	if s.Forwarded != 1 || s.Failed != 1 {
		t.Errorf("summary = %+v", *s)
	}
	if _, ok := h.records.recordedAt("759-1", "billing@example.com"); ok {
		t.Error("rejected forward was recorded")
	}
	rejected := false
	for _, e := range events {
		if e.Kind == EventCandidateSkipped && e.Reason == ReasonForwardRejected {
			rejected = true
		}
	}
	if !rejected {
		t.Error("no forward_rejected skip event")
	}
}

func TestRun_NoFileNumberSkippedWhenExtractionEnabled(t *testing.T) {
	gw := &fakeGateway{msgs: []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE misc",
			SentAt:          inRange(),
			AttachmentNames: []string{"notes.txt"},
			HasAttachments:  true,
		},
	}}
	h := newHarness(gw)

	r, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collect(t, r)
	last := terminal(t, events)

	if last.Summary.Skipped != 1 || last.Summary.Forwarded != 0 {
		t.Errorf("summary = %+v", *last.Summary)
	}
	if events[0].Kind != EventProgress {
		t.Errorf("first event = %q, want progress", events[0].Kind)
	}
	found := false
	for _, e := range events {
		if e.Kind == EventCandidateSkipped && e.Reason == ReasonNoFileNumber {
			found = true
		}
	}
	if !found {
		t.Error("no no_file_number skip event")
	}
}

func TestRun_MessageIDTrackingWhenExtractionDisabled(t *testing.T) {
	gw := &fakeGateway{msgs: []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE misc",
			SentAt:          inRange(),
			AttachmentNames: []string{"notes.txt"},
			HasAttachments:  true,
		},
	}}
	h := newHarness(gw)

	cfg := runConfig()
	cfg.Prefixes = nil
	r, err := h.mgr.Start(cfg, ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	last := terminal(t, collect(t, r))

	if last.Summary.Forwarded != 1 {
		t.Errorf("summary = %+v", *last.Summary)
	}
	// Without a file number the original subject is kept and the message
	// ID stands in as the dedup key.
	calls := gw.forwardCalls()
	if len(calls) != 1 || calls[0].newSubject != "BILLING INVOICE misc" {
		t.Errorf("forward calls = %+v", calls)
	}
	if _, ok := h.records.recordedAt("msg-a", "billing@example.com"); !ok {
		t.Error("message-ID record missing")
	}
}

func TestEffectiveDelay(t *testing.T) {
	cases := []struct {
		configured time.Duration
		rangeDays  int
		want       time.Duration
	}{
		{0, 5, 0},
		{time.Second, 8, time.Second},
		{0, 9, 3 * time.Second},
		{time.Second, 10, 3 * time.Second},
		{5 * time.Second, 10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := effectiveDelay(tc.configured, tc.rangeDays); got != tc.want {
			t.Errorf("effectiveDelay(%v, %d) = %v, want %v", tc.configured, tc.rangeDays, got, tc.want)
		}
	}
}

func TestRun_DelayFloorOverWideRange(t *testing.T) {
	msgs := []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE one",
			SentAt:          inRange(),
			AttachmentNames: []string{"759-1.pdf"},
			HasAttachments:  true,
		},
		{
			ID:              "msg-b",
			Subject:         "BILLING INVOICE two",
			SentAt:          inRange(),
			AttachmentNames: []string{"759-2.pdf"},
			HasAttachments:  true,
		},
	}
	gw := &fakeGateway{msgs: msgs}
	h := newHarness(gw)

	cfg := runConfig()
	cfg.EndDate = "2026-08-11" // ten days
	cfg.DelaySeconds = 1
	r, err := h.mgr.Start(cfg, ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	last := terminal(t, collect(t, r))
	if last.Summary.Forwarded != 2 {
		t.Fatalf("summary = %+v", *last.Summary)
	}

	for _, d := range h.sleeps.recorded() {
		if d != 3*time.Second {
			t.Errorf("slept %v, want the 3s floor", d)
		}
	}
	if len(h.sleeps.recorded()) == 0 {
		t.Error("no delay applied")
	}
}

func TestRun_ConfiguredDelayKeptOverNarrowRange(t *testing.T) {
	gw := &fakeGateway{msgs: []*models.CandidateMessage{
		{
			ID:              "msg-a",
			Subject:         "BILLING INVOICE",
			SentAt:          inRange(),
			AttachmentNames: []string{"759-1.pdf"},
			HasAttachments:  true,
		},
	}}
	h := newHarness(gw)

	cfg := runConfig() // five days
	cfg.DelaySeconds = 1
	r, err := h.mgr.Start(cfg, ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	terminal(t, collect(t, r))

	delays := h.sleeps.recorded()
	if len(delays) != 1 || delays[0] != time.Second {
		t.Errorf("delays = %v, want [1s]", delays)
	}
}

func TestRun_ConnectRetriesThenFails(t *testing.T) {
	gw := &fakeGateway{connectErrs: []error{
		errors.New("boom 1"),
		errors.New("boom 2"),
		errors.New("boom 3"),
	}}
	h := newHarness(gw)

	r, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	last := terminal(t, collect(t, r))

	if last.Kind != EventRunFailed {
		t.Fatalf("terminal = %q, want %q", last.Kind, EventRunFailed)
	}
	if gw.connects != 3 {
		t.Errorf("connect attempts = %d, want 3", gw.connects)
	}
	// Backoff doubles between attempts.
	delays := h.sleeps.recorded()
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("backoff delays = %v", delays)
	}
}

func TestRun_ConnectRecoversOnRetry(t *testing.T) {
	gw := &fakeGateway{connectErrs: []error{errors.New("transient")}}
	h := newHarness(gw)

	r, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	last := terminal(t, collect(t, r))

	if last.Kind != EventRunCompleted {
		t.Errorf("terminal = %q", last.Kind)
	}
	if gw.connects != 2 {
		t.Errorf("connect attempts = %d, want 2", gw.connects)
	}
}

func TestRun_CancelDuringScan(t *testing.T) {
	gw := &fakeGateway{blocking: true}
	h := newHarness(gw)

	r, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.mgr.Cancel() {
		t.Fatal("Cancel reported no active run")
	}
	last := terminal(t, collect(t, r))

	if last.Kind != EventRunCancelled || last.State != StateCancelled {
		t.Errorf("terminal = %q/%q", last.Kind, last.State)
	}
	if h.mgr.Cancel() {
		t.Error("Cancel after the run finished reported true")
	}
}

func TestManager_SingleFlight(t *testing.T) {
	gw := &fakeGateway{blocking: true}
	h := newHarness(gw)

	first, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.mgr.Start(runConfig(), ModeForward); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Start = %v, want ErrRunActive", err)
	}

	first.Cancel()
	first.Wait()
	collect(t, first)

	second, err := h.mgr.Start(runConfig(), ModeForward)
	if err != nil {
		t.Fatalf("Start after finish: %v", err)
	}
	second.Cancel()
	terminal(t, collect(t, second))
}

func TestEmit_TerminalEventSurvivesFullBuffer(t *testing.T) {
	r := &Run{ID: "run-1", events: make(chan Event, 2)}

	// Fill the buffer without a consumer attached, then overflow it.
	r.emit(Event{Kind: EventProgress})
	r.emit(Event{Kind: EventCandidateFound})
	r.emit(Event{Kind: EventCandidateForwarded}) // dropped

	r.emitTerminal(Event{Kind: EventRunCompleted, Summary: &Summary{Forwarded: 7}})
	close(r.events)

	var kinds []EventKind
	var last Event
	for e := range r.events {
		kinds = append(kinds, e.Kind)
		last = e
	}
	if last.Kind != EventRunCompleted {
		t.Fatalf("last event = %q, want %q (got %v)", last.Kind, EventRunCompleted, kinds)
	}
	if last.Summary == nil || last.Summary.Forwarded != 7 {
		t.Errorf("terminal summary = %+v", last.Summary)
	}
}

func TestManager_StartRejectsInvalidConfig(t *testing.T) {
	h := newHarness(&fakeGateway{})

	cfg := runConfig()
	cfg.Recipient = "not-an-email"
	if _, err := h.mgr.Start(cfg, ModeForward); err == nil {
		t.Error("invalid recipient accepted")
	}

	cfg = runConfig()
	cfg.SubjectKeyword = "inject'ion"
	if _, err := h.mgr.Start(cfg, ModeForward); err == nil {
		t.Error("injection keyword accepted")
	}
}
