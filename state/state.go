// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package state holds the mutable record of one active form instance: the
// loaded field widgets, the current field values, the required and mutually
// exclusive name sets, draft metadata and the current validation errors.
//
// The state is only reachable through a closed set of named actions applied
// by Reduce. Every action is a pure old-state to new-state function; maps
// and slices are copied on write so earlier snapshots stay valid. The store
// performs no I/O and never observes other subsystems.
package state

import (
	"time"

	"github.com/clindata-io/formflow/schema"
	"github.com/clindata-io/formflow/validate"
)

// DraftRef ties the form instance to its persisted draft.
type DraftRef struct {
	ID         string
	LastUpdate time.Time
}

// State is an immutable snapshot of one form instance.
type State struct {
	FieldWidgets     []schema.FieldDefinition
	FieldValues      map[string]any
	RequiredFields   []string
	MutexFields      []string
	Draft            *DraftRef
	ValidationErrors []validate.Error
}

// New returns the initial empty state.
func New() State {
	return State{FieldValues: map[string]any{}}
}

// Value returns the current value of a field. Fields never touched are
// absent; emptied fields keep their typed falsy value.
func (s State) Value(name string) (any, bool) {
	v, ok := s.FieldValues[name]
	return v, ok
}

// Action is one named state transition.
type Action interface {
	apply(State) State
}

// Reduce applies an action, returning the new state.
func Reduce(s State, a Action) State {
	return a.apply(s)
}

func cloneValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// initialValues seeds field values from widget defaults.
func initialValues(widgets []schema.FieldDefinition) map[string]any {
	values := map[string]any{}
	for _, w := range widgets {
		if w.Default != "" {
			values[w.Name] = w.Default
		}
	}

	return values
}

type updateFieldValues struct{ partial map[string]any }

// UpdateFieldValues merges the partial value map into the current values.
func UpdateFieldValues(partial map[string]any) Action {
	return updateFieldValues{partial: partial}
}

func (a updateFieldValues) apply(s State) State {
	values := cloneValues(s.FieldValues)
	for k, v := range a.partial {
		values[k] = v
	}
	s.FieldValues = values

	return s
}

type fillForm struct{ values map[string]any }

// FillForm replaces the current values wholesale, used when loading a
// draft, a template or an existing record row.
func FillForm(values map[string]any) Action {
	return fillForm{values: values}
}

func (a fillForm) apply(s State) State {
	s.FieldValues = cloneValues(a.values)

	return s
}

type clearForm struct{}

// ClearForm resets values, draft metadata and validation errors to their
// initial state while preserving the loaded widgets and name sets.
func ClearForm() Action {
	return clearForm{}
}

func (a clearForm) apply(s State) State {
	s.FieldValues = initialValues(s.FieldWidgets)
	s.Draft = nil
	s.ValidationErrors = nil

	return s
}

type updateDraftID struct{ id string }

// UpdateDraftID records the persisted draft id; an empty id clears the
// draft reference.
func UpdateDraftID(id string) Action {
	return updateDraftID{id: id}
}

func (a updateDraftID) apply(s State) State {
	if a.id == "" {
		s.Draft = nil
		return s
	}

	draft := DraftRef{ID: a.id}
	if s.Draft != nil {
		draft.LastUpdate = s.Draft.LastUpdate
	}
	s.Draft = &draft

	return s
}

type updateDraftDate struct{ when time.Time }

// UpdateDraftDate records the time of the last draft save.
func UpdateDraftDate(when time.Time) Action {
	return updateDraftDate{when: when}
}

func (a updateDraftDate) apply(s State) State {
	draft := DraftRef{LastUpdate: a.when}
	if s.Draft != nil {
		draft.ID = s.Draft.ID
	}
	s.Draft = &draft

	return s
}

type clearDraftDate struct{}

// ClearDraftDate zeroes the draft save timestamp, keeping the id.
func ClearDraftDate() Action {
	return clearDraftDate{}
}

func (a clearDraftDate) apply(s State) State {
	if s.Draft == nil {
		return s
	}

	s.Draft = &DraftRef{ID: s.Draft.ID}

	return s
}

type updateWidgets struct{ widgets []schema.FieldDefinition }

// UpdateWidgets replaces the loaded field widget list.
func UpdateWidgets(widgets []schema.FieldDefinition) Action {
	return updateWidgets{widgets: widgets}
}

func (a updateWidgets) apply(s State) State {
	s.FieldWidgets = append([]schema.FieldDefinition(nil), a.widgets...)

	return s
}

type updateRequiredFields struct{ names []string }

// UpdateRequiredFields replaces the required field name set.
func UpdateRequiredFields(names []string) Action {
	return updateRequiredFields{names: names}
}

func (a updateRequiredFields) apply(s State) State {
	s.RequiredFields = append([]string(nil), a.names...)

	return s
}

type updateExclusiveFields struct{ names []string }

// UpdateExclusiveFields replaces the mutually exclusive field name set.
func UpdateExclusiveFields(names []string) Action {
	return updateExclusiveFields{names: names}
}

func (a updateExclusiveFields) apply(s State) State {
	s.MutexFields = append([]string(nil), a.names...)

	return s
}

type updateValidationErrors struct{ errs []validate.Error }

// UpdateValidationErrors replaces the validation error list.
func UpdateValidationErrors(errs []validate.Error) Action {
	return updateValidationErrors{errs: errs}
}

func (a updateValidationErrors) apply(s State) State {
	s.ValidationErrors = append([]validate.Error(nil), a.errs...)

	return s
}
