// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clindata-io/formflow/schema"
)

// MemoryStore implements Store using in-memory maps.
// Intended for demos and testing, no database required.
type MemoryStore struct {
	mu          sync.RWMutex
	forms       map[string]*schema.Form
	rootFormID  string
	drafts      map[string]*Draft
	templates   map[string]*Template
	submissions map[string]*Submission
	userLinks   map[string][]string
	now         func() time.Time
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		forms:       map[string]*schema.Form{},
		drafts:      map[string]*Draft{},
		templates:   map[string]*Template{},
		submissions: map[string]*Submission{},
		userLinks:   map[string][]string{},
		now:         time.Now,
	}
}

// RegisterForm makes a compiled form definition available for lookup. When
// root is true the form becomes the record root.
func (s *MemoryStore) RegisterForm(form *schema.Form, root bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forms[form.FormID] = form
	if root {
		s.rootFormID = form.FormID
	}
}

func (s *MemoryStore) GetRootForm(_ context.Context, study string) (*schema.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	form, ok := s.forms[s.rootFormID]
	if !ok {
		return nil, fmt.Errorf("no root form registered")
	}
	if !form.AppliesTo(study) {
		return nil, fmt.Errorf("root form %s does not apply to study %q", form.FormID, study)
	}

	return form, nil
}

func (s *MemoryStore) GetForm(_ context.Context, formID string) (*schema.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	form, ok := s.forms[formID]
	if !ok {
		return nil, fmt.Errorf("form %s: %w", formID, ErrNotFound)
	}

	return form, nil
}

func (s *MemoryStore) GetFormFields(ctx context.Context, formID string, study string) ([]schema.FieldDefinition, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !form.AppliesTo(study) {
		return nil, fmt.Errorf("form %s does not apply to study %q", formID, study)
	}

	return form.Fields, nil
}

func (s *MemoryStore) GetFormIDFields(ctx context.Context, formID string) (*IDFieldInfo, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}

	info := &IDFieldInfo{FormID: form.FormID, IDFields: form.IDFieldDefs()}
	for _, fd := range form.Fields {
		if fd.RefForm != "" {
			info.BranchFields = append(info.BranchFields, fd.Name)
		}
	}

	return info, nil
}

func (s *MemoryStore) FindDraft(_ context.Context, formID string, identity string) (*Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.drafts {
		if d.FormID == formID && d.Identity == identity {
			copied := *d
			return &copied, nil
		}
	}

	return nil, nil
}

func (s *MemoryStore) UpsertDraft(_ context.Context, formID string, identity string, data string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.drafts {
		if d.FormID == formID && d.Identity == identity {
			d.Data = data
			d.LastUpdate = s.now()
			return d.ID, nil
		}
	}

	id := uuid.New().String()
	s.drafts[id] = &Draft{ID: id, FormID: formID, Identity: identity, Data: data, LastUpdate: s.now()}

	return id, nil
}

func (s *MemoryStore) DeleteDraft(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drafts[id]; !ok {
		return fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	delete(s.drafts, id)

	return nil
}

func (s *MemoryStore) CreateTemplate(_ context.Context, formID string, name string, data string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.templates[id] = &Template{ID: id, FormID: formID, Name: name, Data: data, CreatedAt: s.now()}

	return id, nil
}

func (s *MemoryStore) FindTemplates(_ context.Context, formID string) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Template
	for _, t := range s.templates {
		if t.FormID == formID {
			out = append(out, *t)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	copied := *t

	return &copied, nil
}

func (s *MemoryStore) DeleteTemplate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	delete(s.templates, id)

	return nil
}

func (s *MemoryStore) CreateSubmission(_ context.Context, formID string, identity string, fields []KV) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.submissions[id] = &Submission{
		ID:        id,
		FormID:    formID,
		Identity:  identity,
		Fields:    append([]KV(nil), fields...),
		CreatedAt: s.now(),
	}

	return id, nil
}

func (s *MemoryStore) DeleteSubmission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.submissions[id]; !ok {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	delete(s.submissions, id)

	return nil
}

func (s *MemoryStore) LinkUserToSubmission(_ context.Context, submissionID string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.submissions[submissionID]; !ok {
		return fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
	}
	s.userLinks[submissionID] = append(s.userLinks[submissionID], userID)

	return nil
}

// LinkedUsers returns the users linked to a submission, for tests and demos.
func (s *MemoryStore) LinkedUsers(submissionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.userLinks[submissionID]...)
}

func (s *MemoryStore) FindSubmissions(_ context.Context, formID string, identity string) ([]Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Submission
	for _, sub := range s.submissions {
		if sub.FormID == formID && (identity == "" || sub.Identity == identity) {
			out = append(out, *sub)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (s *MemoryStore) Counts(_ context.Context, q CountQuery) (*Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := &Counts{References: map[string]int{}}

	for _, sub := range s.submissions {
		if sub.FormID != q.FormID || sub.Identity != q.Identity {
			continue
		}

		counts.Children++

		if len(q.SelfKeys) > 0 && matchesKeys(sub, q.SelfKeys) {
			counts.Self++
		}

		for _, ref := range q.References {
			if matchesKeys(sub, ref.Keys) {
				counts.References[ref.FormID]++
			}
		}
	}

	return counts, nil
}

func matchesKeys(sub *Submission, keys map[string]string) bool {
	for k, v := range keys {
		val, ok := sub.FieldValue(k)
		if !ok || val != v {
			return false
		}
	}

	return len(keys) > 0
}
