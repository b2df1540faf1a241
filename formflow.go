// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package formflow implements the lifecycle of one mounted clinical capture
// form: loading its field widgets from the persistence collaborator,
// applying user edits, debounced draft autosave, validation gated
// submission and the reference/cardinality checks that protect the record
// graph.
//
// The lifecycle is an explicit finite state machine. States form a closed
// enum and the legal transitions are a data table; events that are not
// legal in the current state are ignored. All transitions are serialized,
// the engine processes one event at a time, while I/O runs in background
// tasks that report back through completion events. Completion events are
// tagged with the engine epoch so a late result from an abandoned load or
// save is discarded instead of corrupting the current instance.
package formflow

import (
	"errors"
	"time"

	"github.com/clindata-io/formflow/schema"
	"github.com/clindata-io/formflow/state"
)

// Status is the symbolic lifecycle state of a form instance.
type Status string

const (
	// Loading fetches form metadata, field widgets and any existing draft.
	Loading Status = "loading"
	// Idle is the editable resting state; entering it arms the autosave timer.
	Idle Status = "idle"
	// Invalid is Idle with surfaced validation errors after a rejected submit.
	Invalid Status = "invalid"
	// Submitting runs the pre-submission checks and creates the record.
	Submitting Status = "submitting"
	// Submitted is entered on a successful create and immediately clears.
	Submitted Status = "submitted"
	// Saving persists the current values as a draft.
	Saving Status = "saving"
	// Empty runs the full reset and immediately returns to Idle.
	Empty Status = "empty"
	// Failure holds a user facing error with retry/cancel/reload options.
	Failure Status = "failure"
	// Errored means the form metadata could not be loaded. Only a
	// Reload leaves this state.
	Errored Status = "error"
)

// ErrNotRunning is returned when an engine method is used before Start.
var ErrNotRunning = errors.New("engine is not running")

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("engine is already running")

// FailureInfo describes a recoverable failure shown to the user.
type FailureInfo struct {
	Title   string
	Content string
	Err     error
}

type eventKind int

const (
	eventDone eventKind = iota
	eventFailed
	eventFatal
	eventSubmit
	eventClear
	eventReload
	eventUpdate
	eventFill
	eventSaveTick
	eventRetry
	eventCancel
)

// event is one unit of work for the machine. Completion events produced by
// background tasks carry the epoch they were spawned under.
type event struct {
	kind    eventKind
	epoch   uint64
	partial map[string]any
	loaded  *loadResult
	draftID string
	when    time.Time
	failure *FailureInfo
	err     error
}

// loadResult is the payload of a completed initializeForm task.
type loadResult struct {
	form     *schema.Form
	rootForm *schema.Form
	isRoot   bool
	widgets  []schema.FieldDefinition
	required []string
	mutex    []string
	values   map[string]any
	draft    *state.DraftRef
}

// transition is one row of the machine's transition table. Rows are matched
// in order; a row with a guard only matches when the guard holds, so a
// guarded row followed by an unguarded one expresses an either/or choice.
type transition struct {
	from  Status
	on    eventKind
	to    Status
	guard func(*Engine) bool
}

var transitionTable = []transition{
	{from: Loading, on: eventDone, to: Idle},
	{from: Loading, on: eventFatal, to: Errored},

	{from: Idle, on: eventSubmit, to: Submitting, guard: (*Engine).formValid},
	{from: Idle, on: eventSubmit, to: Invalid},
	{from: Idle, on: eventClear, to: Empty},
	{from: Idle, on: eventReload, to: Loading},
	{from: Idle, on: eventSaveTick, to: Saving, guard: (*Engine).canSave},
	{from: Idle, on: eventFailed, to: Failure},

	{from: Invalid, on: eventSubmit, to: Submitting, guard: (*Engine).formValid},
	{from: Invalid, on: eventClear, to: Empty},
	{from: Invalid, on: eventReload, to: Loading},
	{from: Invalid, on: eventFailed, to: Failure},

	{from: Submitting, on: eventDone, to: Submitted},
	{from: Submitting, on: eventFailed, to: Failure},

	{from: Saving, on: eventDone, to: Idle},
	{from: Saving, on: eventFailed, to: Failure},

	{from: Failure, on: eventCancel, to: Idle},
	{from: Failure, on: eventRetry, to: Submitting},
	{from: Failure, on: eventReload, to: Loading},

	{from: Errored, on: eventReload, to: Loading},
}

// lookup finds the first matching transition for the current status whose
// guard, if any, holds.
func (e *Engine) lookup(on eventKind) (Status, bool) {
	for _, t := range transitionTable {
		if t.from != e.status || t.on != on {
			continue
		}
		if t.guard != nil && !t.guard(e) {
			continue
		}

		return t.to, true
	}

	return "", false
}
