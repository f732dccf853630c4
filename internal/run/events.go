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

import "time"

// State of the orchestrator state machine.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateScanning   State = "scanning"
	StatePreviewing State = "previewing"
	StateForwarding State = "forwarding"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Mode selects whether eligible candidates are displayed or forwarded.
type Mode string

const (
	ModePreview Mode = "preview"
	ModeForward Mode = "forward"
)

// EventKind identifies a progress event.
type EventKind string

const (
	EventCandidateFound     EventKind = "candidate_found"
	EventCandidateSkipped   EventKind = "candidate_skipped"
	EventCandidateForwarded EventKind = "candidate_forwarded"
	EventProgress           EventKind = "progress"
	EventRunCompleted       EventKind = "run_completed"
	EventRunFailed          EventKind = "run_failed"
	EventRunCancelled       EventKind = "run_cancelled"
)

// Skip reasons reported on candidate_skipped events, in addition to the
// filter package's reasons.
const (
	ReasonAlreadyForwarded = "already_forwarded"
	ReasonNoFileNumber     = "no_file_number"
	ReasonForwardRejected  = "forward_rejected"
)

// Summary carries the running counts of a run. Terminal events include
// the final summary.
type Summary struct {
	Scanned   int   `json:"scanned"`
	Eligible  int   `json:"eligible"`
	Forwarded int   `json:"forwarded"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
	State     State `json:"state"`
}

// Event is one progress report from the worker to the control surface.
type Event struct {
	Kind       EventKind `json:"kind"`
	RunID      string    `json:"run_id"`
	State      State     `json:"state,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	FileNumber string    `json:"file_number,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Summary    *Summary  `json:"summary,omitempty"`
	At         time.Time `json:"at"`
}
