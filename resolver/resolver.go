// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package resolver enforces the reference and cardinality model ahead of a
// submission. A non-root form's fields may carry foreign keys to other
// forms; the resolver groups the filled keys into one bundle per referenced
// form and checks, against the persistence collaborator, that the record
// does not already exist and that no configured cardinality limit would be
// exceeded.
//
// The checks are read-then-decide with no transactional guarantee:
// concurrent submissions from separate sessions can both pass and both
// write. Server side constraints are the only way to close that gap.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clindata-io/formflow/conditions"
	"github.com/clindata-io/formflow/persist"
	"github.com/clindata-io/formflow/schema"
)

// ErrAlreadyExists rejects a submission whose identifier composition is
// already present under the record root.
var ErrAlreadyExists = errors.New("record already exists")

// ErrCardinalityExceeded rejects a submission that would exceed a configured
// cardinality limit.
var ErrCardinalityExceeded = errors.New("cardinality limit reached")

// Bundle groups the filled foreign key values pointing at one referenced
// form. Keys map the referencing field names to their entered values.
type Bundle struct {
	FormID string
	Keys   map[string]string
}

// Bundles groups the filled foreign key fields by the form they reference.
// A referenced form is bundled only when every one of its referencing
// fields is filled; partially filled bundles are dropped.
func Bundles(widgets []schema.FieldDefinition, values map[string]any) []Bundle {
	keysByForm := map[string]map[string]string{}
	complete := map[string]bool{}
	var order []string

	for _, fd := range widgets {
		if fd.RefForm == "" {
			continue
		}

		if _, ok := keysByForm[fd.RefForm]; !ok {
			keysByForm[fd.RefForm] = map[string]string{}
			complete[fd.RefForm] = true
			order = append(order, fd.RefForm)
		}

		v := values[fd.Name]
		if conditions.IsFalsy(v) {
			complete[fd.RefForm] = false
			continue
		}

		keysByForm[fd.RefForm][fd.Name] = fmt.Sprint(v)
	}

	var bundles []Bundle
	for _, formID := range order {
		if complete[formID] {
			bundles = append(bundles, Bundle{FormID: formID, Keys: keysByForm[formID]})
		}
	}

	return bundles
}

// Resolver performs the pre-submission checks.
type Resolver struct {
	store persist.Store
	log   *zap.Logger
}

// New creates a resolver over the persistence collaborator.
func New(store persist.Store, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}

	return &Resolver{store: store, log: log}
}

// CheckSubmit validates that a new record for form may be created under the
// given identity with the current values. Root forms undergo the existence
// check only; non-root forms are additionally checked against the form's
// child cardinality and each reference bundle's configured cardinality.
func (r *Resolver) CheckSubmit(ctx context.Context, form *schema.Form, isRoot bool, identity string, values map[string]any) error {
	selfKeys := map[string]string{}
	for _, fd := range form.IDFieldDefs() {
		if v := values[fd.Name]; !conditions.IsFalsy(v) {
			selfKeys[fd.Name] = fmt.Sprint(v)
		}
	}

	bundles := Bundles(form.Fields, values)

	query := persist.CountQuery{
		FormID:   form.FormID,
		Identity: identity,
		SelfKeys: selfKeys,
	}
	for _, b := range bundles {
		query.References = append(query.References, persist.ReferenceKey{FormID: b.FormID, Keys: b.Keys})
	}

	counts, err := r.store.Counts(ctx, query)
	if err != nil {
		return fmt.Errorf("existence and cardinality lookup failed: %w", err)
	}

	if len(selfKeys) > 0 && counts.Self > 0 {
		return fmt.Errorf("%s %v: %w", form.FormID, selfKeys, ErrAlreadyExists)
	}

	if isRoot {
		return nil
	}

	if form.Cardinality != nil && counts.Children >= *form.Cardinality {
		return fmt.Errorf("%s allows %d records per root, found %d: %w",
			form.FormID, *form.Cardinality, counts.Children, ErrCardinalityExceeded)
	}

	for _, b := range bundles {
		limit, ok := form.ReferenceCardinality[b.FormID]
		if !ok {
			continue
		}

		if counts.References[b.FormID] >= limit {
			return fmt.Errorf("reference to %s allows %d records, found %d: %w",
				b.FormID, limit, counts.References[b.FormID], ErrCardinalityExceeded)
		}
	}

	return nil
}
