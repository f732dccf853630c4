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

// Package run drives the scan/filter/forward pipeline: it pulls
// candidates from the filter engine, consults the extractor and the
// dedup store, issues forwards through the mail gateway with the
// configured delay, and reports progress on an event channel. One run is
// active at a time; cancellation is cooperative at candidate boundaries.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/royalpayne/docushuttle/internal/extract"
	"github.com/royalpayne/docushuttle/internal/filter"
	"github.com/royalpayne/docushuttle/internal/models"
	"github.com/royalpayne/docushuttle/internal/queue"
)

// ErrRunActive is returned when a run is started while one is active.
var ErrRunActive = errors.New("a run is already active")

// progressEvery is the scanned-count cadence for progress events.
const progressEvery = 100

// Gateway is the narrow mail-session surface the pipeline consumes.
type Gateway interface {
	Connect(ctx context.Context) error
	SentItems(subjectClause string) models.MessageSource
	Forward(ctx context.Context, messageID, recipient, newSubject string) error
}

// RecordStore is the durable dedup store.
type RecordStore interface {
	HasForwarded(ctx context.Context, fileNumber, recipient string) (bool, error)
	RecordForward(ctx context.Context, fileNumber, recipient string, at time.Time) error
}

// SeenCache is the optional fast path in front of the record store.
type SeenCache interface {
	Seen(ctx context.Context, recipient, trackingKey string) (bool, error)
	Mark(ctx context.Context, recipient, trackingKey string) error
}

// AuditSink receives one event per completed forward.
type AuditSink interface {
	PublishForward(ctx context.Context, event *queue.ForwardEvent) error
}

// OrchestratorConfig holds the orchestrator's collaborators.
type OrchestratorConfig struct {
	Gateway Gateway
	Records RecordStore
	Cache   SeenCache // optional
	Audit   AuditSink // optional

	Location        *time.Location // day-granularity comparisons; default UTC
	ConnectAttempts int            // default 3
	ConnectBackoff  time.Duration  // default 1s, doubled per attempt
}

// Orchestrator executes runs. Safe for use behind a Manager only.
type Orchestrator struct {
	gw      Gateway
	records RecordStore
	cache   SeenCache
	audit   AuditSink

	loc             *time.Location
	connectAttempts int
	connectBackoff  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.ConnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Orchestrator{
		gw:              cfg.Gateway,
		records:         cfg.Records,
		cache:           cfg.Cache,
		audit:           cfg.Audit,
		loc:             loc,
		connectAttempts: attempts,
		connectBackoff:  backoff,
		sleep:           sleepCtx,
		now:             time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run is one pipeline invocation. Events are consumed from Events();
// the channel closes after the terminal event.
type Run struct {
	ID   string
	Mode Mode

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	summary Summary
}

// Events returns the progress event stream.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Cancel requests cooperative cancellation. The in-flight message, if
// any, is finalised before the run stops.
func (r *Run) Cancel() {
	r.cancel()
}

// Done reports whether the run has reached a terminal state.
func (r *Run) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the run reaches a terminal state.
func (r *Run) Wait() {
	<-r.done
}

// Summary returns the current counts; final after the terminal event.
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Run) setSummary(s Summary) {
	r.mu.Lock()
	r.summary = s
	r.mu.Unlock()
}

// emit delivers an event without ever blocking the worker; when the
// consumer lags behind the buffer, intermediate events are dropped.
func (r *Run) emit(e Event) {
	e.RunID = r.ID
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case r.events <- e:
	default:
		slog.Debug("progress event dropped", "run_id", r.ID, "kind", e.Kind)
	}
}

// emitTerminal delivers the terminal event, evicting the oldest buffered
// event if the consumer has fallen a full buffer behind. The terminal
// event and its summary are never dropped; a late-attaching consumer
// still sees them before the channel closes.
func (r *Run) emitTerminal(e Event) {
	e.RunID = r.ID
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for {
		select {
		case r.events <- e:
			return
		default:
		}
		select {
		case dropped := <-r.events:
			slog.Debug("progress event evicted for terminal event", "run_id", r.ID, "kind", dropped.Kind)
		default:
		}
	}
}

// Manager enforces single-flight execution of runs.
type Manager struct {
	orch *Orchestrator

	mu     sync.Mutex
	active *Run
}

// NewManager creates a manager around the orchestrator.
func NewManager(orch *Orchestrator) *Manager {
	return &Manager{orch: orch}
}

// Start validates the config and launches a run on a background worker.
// Returns ErrRunActive while a previous run has not finished.
func (m *Manager) Start(cfg *models.RecipientConfig, mode Mode) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	crit, err := filter.NewCriteria(cfg, m.orch.loc)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && !m.active.Done() {
		return nil, ErrRunActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		ID:     uuid.New().String(),
		Mode:   mode,
		events: make(chan Event, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.active = r

	go func() {
		defer cancel()
		defer close(r.done)
		m.orch.execute(ctx, r, cfg, crit)
	}()

	slog.Info("run started", "run_id", r.ID, "mode", mode, "recipient", cfg.Recipient)
	return r, nil
}

// Active returns the most recent run, which may have finished.
func (m *Manager) Active() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Cancel requests cancellation of the active run. Returns false when no
// run is active.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.Done() {
		return false
	}
	m.active.Cancel()
	return true
}

// effectiveDelay applies the automatic floor: at least 3 seconds between
// forwards when the range spans more than 8 calendar days. A larger
// configured delay always wins.
func effectiveDelay(configured time.Duration, rangeDays int) time.Duration {
	const floor = 3 * time.Second
	if rangeDays > 8 && configured < floor {
		return floor
	}
	return configured
}

// connect acquires the gateway session with bounded backoff retries.
func (o *Orchestrator) connect(ctx context.Context) error {
	backoff := o.connectBackoff
	var lastErr error
	for attempt := 1; attempt <= o.connectAttempts; attempt++ {
		if err := o.gw.Connect(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		slog.Warn("gateway connect failed",
			"attempt", attempt,
			"max_attempts", o.connectAttempts,
			"error", lastErr,
		)
		if attempt < o.connectAttempts {
			if err := o.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("connect after %d attempts: %w", o.connectAttempts, lastErr)
}

// execute runs the state machine to a terminal state and emits the
// terminal event before closing the channel.
func (o *Orchestrator) execute(ctx context.Context, r *Run, cfg *models.RecipientConfig, crit *filter.Criteria) {
	defer close(r.events)

	summary := Summary{State: StateConnecting}
	recipient := strings.ToLower(strings.TrimSpace(cfg.Recipient))

	finish := func(kind EventKind, state State, errMsg string) {
		summary.State = state
		r.setSummary(summary)
		s := summary
		r.emitTerminal(Event{Kind: kind, State: state, Error: errMsg, Summary: &s})
		slog.Info("run finished",
			"run_id", r.ID,
			"state", state,
			"scanned", s.Scanned,
			"eligible", s.Eligible,
			"forwarded", s.Forwarded,
			"skipped", s.Skipped,
			"failed", s.Failed,
		)
	}
	fail := func(err error) {
		if errors.Is(err, context.Canceled) {
			finish(EventRunCancelled, StateCancelled, "")
			return
		}
		finish(EventRunFailed, StateFailed, err.Error())
	}
	progress := func(state State) {
		summary.State = state
		r.setSummary(summary)
		s := summary
		r.emit(Event{Kind: EventProgress, State: state, Summary: &s})
	}

	progress(StateConnecting)
	if err := o.connect(ctx); err != nil {
		fail(err)
		return
	}

	workState := StateForwarding
	if r.Mode == ModePreview {
		workState = StatePreviewing
	}
	progress(StateScanning)

	ex := extract.New(cfg.Prefixes)
	delay := effectiveDelay(time.Duration(cfg.DelaySeconds)*time.Second, crit.RangeDays())
	if delay > time.Duration(cfg.DelaySeconds)*time.Second {
		slog.Info("date range spans more than 8 days, delay raised",
			"run_id", r.ID,
			"delay", delay,
		)
	}

	scan := filter.Select(o.gw.SentItems(crit.Clause()), crit, func(m *models.CandidateMessage, reason string) {
		// Only attachment misses are candidate-shaped enough to report;
		// subject and date misses are just scanned.
		if reason == filter.ReasonNoAttachments {
			summary.Skipped++
			r.emit(Event{Kind: EventCandidateSkipped, State: workState, MessageID: m.ID, Subject: m.Subject, Reason: reason})
		}
	})

	// The same tracking key must not be recorded twice within one run.
	forwardedThisRun := make(map[string]bool)
	lastProgress := 0

	for {
		if ctx.Err() != nil {
			summary.Scanned = scan.Scanned()
			finish(EventRunCancelled, StateCancelled, "")
			return
		}

		msg, err := scan.Next(ctx)
		summary.Scanned = scan.Scanned()
		if err != nil {
			fail(fmt.Errorf("scan sent items: %w", err))
			return
		}
		if msg == nil {
			break
		}

		if summary.Scanned-lastProgress >= progressEvery {
			lastProgress = summary.Scanned
			progress(workState)
		}

		fileNumber, hasNumber := ex.Extract(msg)
		if ex.Enabled() && !hasNumber {
			summary.Skipped++
			r.emit(Event{Kind: EventCandidateSkipped, State: workState, MessageID: msg.ID, Subject: msg.Subject, Reason: ReasonNoFileNumber})
			continue
		}

		// Tracking key falls back to the gateway message ID when
		// extraction is disabled, so skip-forwarded still works.
		trackingKey := fileNumber
		if !hasNumber {
			trackingKey = msg.ID
		}

		if cfg.SkipForwarded {
			seen, err := o.alreadyForwarded(ctx, recipient, trackingKey, forwardedThisRun)
			if err != nil {
				fail(fmt.Errorf("dedup lookup: %w", err))
				return
			}
			if seen {
				summary.Skipped++
				r.emit(Event{Kind: EventCandidateSkipped, State: workState, MessageID: msg.ID, Subject: msg.Subject, FileNumber: fileNumber, Reason: ReasonAlreadyForwarded})
				continue
			}
		}

		if cfg.RequireAttachments && len(msg.AttachmentNames) == 0 && !msg.HasAttachments {
			summary.Skipped++
			r.emit(Event{Kind: EventCandidateSkipped, State: workState, MessageID: msg.ID, Subject: msg.Subject, Reason: filter.ReasonNoAttachments})
			continue
		}

		summary.Eligible++
		r.emit(Event{Kind: EventCandidateFound, State: workState, MessageID: msg.ID, Subject: msg.Subject, FileNumber: fileNumber})

		if r.Mode == ModePreview {
			continue
		}

		newSubject := msg.Subject
		if hasNumber {
			newSubject = fileNumber
		}

		if ctx.Err() != nil {
			finish(EventRunCancelled, StateCancelled, "")
			return
		}

		if err := o.gw.Forward(ctx, msg.ID, cfg.Recipient, newSubject); err != nil {
			if ctx.Err() != nil {
				finish(EventRunCancelled, StateCancelled, "")
				return
			}
			summary.Failed++
			slog.Warn("forward rejected",
				"run_id", r.ID,
				"message_id", msg.ID,
				"file_number", fileNumber,
				"error", err,
			)
			r.emit(Event{Kind: EventCandidateSkipped, State: workState, MessageID: msg.ID, Subject: msg.Subject, FileNumber: fileNumber, Reason: ReasonForwardRejected})
			continue
		}

		summary.Forwarded++
		forwardedThisRun[trackingKey] = true
		now := o.now()

		if err := o.records.RecordForward(ctx, trackingKey, recipient, now); err != nil {
			// The send already happened; the record is best-effort from here.
			slog.Error("record forward failed",
				"run_id", r.ID,
				"file_number", trackingKey,
				"error", err,
			)
		}
		if o.cache != nil {
			if err := o.cache.Mark(ctx, recipient, trackingKey); err != nil {
				slog.Warn("dedup cache mark failed", "error", err)
			}
		}
		if o.audit != nil {
			if err := o.audit.PublishForward(ctx, &queue.ForwardEvent{
				RunID:       r.ID,
				FileNumber:  fileNumber,
				MessageID:   msg.ID,
				Recipient:   recipient,
				Subject:     newSubject,
				ForwardedAt: now,
			}); err != nil {
				slog.Warn("audit publish failed", "error", err)
			}
		}

		r.emit(Event{Kind: EventCandidateForwarded, State: StateForwarding, MessageID: msg.ID, Subject: newSubject, FileNumber: fileNumber})

		if delay > 0 {
			if err := o.sleep(ctx, delay); err != nil {
				finish(EventRunCancelled, StateCancelled, "")
				return
			}
		}
	}

	finish(EventRunCompleted, StateCompleted, "")
}

// alreadyForwarded checks the per-run set, then the cache fast path,
// then the durable store.
func (o *Orchestrator) alreadyForwarded(ctx context.Context, recipient, trackingKey string, thisRun map[string]bool) (bool, error) {
	if thisRun[trackingKey] {
		return true, nil
	}
	if o.cache != nil {
		seen, err := o.cache.Seen(ctx, recipient, trackingKey)
		if err != nil {
			slog.Warn("dedup cache lookup failed, falling back to store", "error", err)
		} else if seen {
			return true, nil
		}
	}
	return o.records.HasForwarded(ctx, trackingKey, recipient)
}
