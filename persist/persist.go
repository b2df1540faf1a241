// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package persist defines the persistence collaborator the form engine
// talks to: form schema lookup, draft and template snapshots, finalized
// submissions and the count queries behind existence and cardinality
// checks.
//
// Two implementations are provided. MemoryStore keeps everything in process
// and is intended for demos and tests. SQLStore persists through a
// database/sql handle and is exercised with the modernc.org/sqlite driver.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/clindata-io/formflow/schema"
)

// ErrNotFound is returned when a draft, template or submission id does not
// resolve to a stored record.
var ErrNotFound = errors.New("not found")

// Draft is an auto-saved, mutable snapshot of in-progress field values,
// scoped to one (form, identity) pair. At most one draft exists per pair.
type Draft struct {
	ID         string    `json:"id"`
	FormID     string    `json:"formID"`
	Identity   string    `json:"identity"`
	Data       string    `json:"data"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Template is an explicitly saved, reusable field value snapshot that is
// not tied to any patient identity.
type Template struct {
	ID        string    `json:"id"`
	FormID    string    `json:"formID"`
	Name      string    `json:"name"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

// KV is one submitted field value.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Submission is a finalized, immutable record of field values.
type Submission struct {
	ID        string    `json:"id"`
	FormID    string    `json:"formID"`
	Identity  string    `json:"identity"`
	Fields    []KV      `json:"fields"`
	CreatedAt time.Time `json:"createdAt"`
}

// FieldValue returns the value of the named submitted field.
func (s *Submission) FieldValue(key string) (string, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}

	return "", false
}

// IDFieldInfo describes how a form composes record identity: its own
// identifier fields and the foreign key fields branching to other forms.
type IDFieldInfo struct {
	FormID       string
	BranchFields []string
	IDFields     []schema.FieldDefinition
}

// ReferenceKey identifies one reference bundle: the referenced form and the
// foreign key values as entered on the referencing form.
type ReferenceKey struct {
	FormID string
	Keys   map[string]string
}

// CountQuery drives the existence and cardinality checks ahead of a
// submission. All counts are scoped to the record identity.
type CountQuery struct {
	FormID     string
	Identity   string
	SelfKeys   map[string]string
	References []ReferenceKey
}

// Counts carries the results of a CountQuery. Self counts submissions
// matching the record's own key composition, Children counts all instances
// of the form under the identity, References counts referencing records per
// referenced form.
type Counts struct {
	Self       int
	Children   int
	References map[string]int
}

// Store is the persistence collaborator contract.
type Store interface {
	// GetRootForm returns the root form anchoring a record for the study.
	GetRootForm(ctx context.Context, study string) (*schema.Form, error)

	// GetForm returns a form definition by id.
	GetForm(ctx context.Context, formID string) (*schema.Form, error)

	// GetFormFields returns the ordered field definitions of a form for a
	// study context.
	GetFormFields(ctx context.Context, formID string, study string) ([]schema.FieldDefinition, error)

	// GetFormIDFields returns the identifier composition of a form.
	GetFormIDFields(ctx context.Context, formID string) (*IDFieldInfo, error)

	// FindDraft returns the draft for a (form, identity) pair, or nil.
	FindDraft(ctx context.Context, formID string, identity string) (*Draft, error)

	// UpsertDraft creates or overwrites the draft for a (form, identity)
	// pair and returns its id.
	UpsertDraft(ctx context.Context, formID string, identity string, data string) (string, error)

	// DeleteDraft removes a draft by id.
	DeleteDraft(ctx context.Context, id string) error

	// CreateTemplate stores a named reusable snapshot and returns its id.
	CreateTemplate(ctx context.Context, formID string, name string, data string) (string, error)

	// FindTemplates returns all templates for a form.
	FindTemplates(ctx context.Context, formID string) ([]Template, error)

	// GetTemplate returns a template by id.
	GetTemplate(ctx context.Context, id string) (*Template, error)

	// DeleteTemplate removes a template by id.
	DeleteTemplate(ctx context.Context, id string) error

	// CreateSubmission stores a finalized record and returns its id.
	CreateSubmission(ctx context.Context, formID string, identity string, fields []KV) (string, error)

	// DeleteSubmission removes a submission by id.
	DeleteSubmission(ctx context.Context, id string) error

	// LinkUserToSubmission associates the submitting user with a record.
	LinkUserToSubmission(ctx context.Context, submissionID string, userID string) error

	// FindSubmissions returns the submissions of a form for an identity.
	FindSubmissions(ctx context.Context, formID string, identity string) ([]Submission, error)

	// Counts answers the existence and cardinality query.
	Counts(ctx context.Context, q CountQuery) (*Counts, error)
}
