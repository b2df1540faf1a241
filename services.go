// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package formflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/clindata-io/formflow/conditions"
	"github.com/clindata-io/formflow/persist"
	"github.com/clindata-io/formflow/resolver"
	"github.com/clindata-io/formflow/schema"
	"github.com/clindata-io/formflow/state"
)

// initializeForm is the Loading entry task: resolve the root form, fetch
// the field widgets for the root (when the mounted form is not the root)
// and for the mounted form, then look up an existing draft. The widget and
// draft fetches tolerate partial failure: a failed fetch is logged and its
// fields are simply absent.
func (e *Engine) initializeForm(ctx context.Context, epoch uint64) {
	root, err := e.store.GetRootForm(ctx, e.study)
	if err != nil {
		e.dispatch(event{kind: eventFatal, epoch: epoch, err: fmt.Errorf("resolving root form: %w", err)})
		return
	}

	form, err := e.store.GetForm(ctx, e.formID)
	if err != nil {
		e.dispatch(event{kind: eventFatal, epoch: epoch, err: fmt.Errorf("loading form %s: %w", e.formID, err)})
		return
	}

	res := &loadResult{
		form:     form,
		rootForm: root,
		isRoot:   form.FormID == root.FormID,
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		rootIDs []schema.FieldDefinition
		fields  []schema.FieldDefinition
		draft   *persist.Draft
	)

	wg.Add(1)
	go func() {
		defer wg.Done()

		fetched, err := e.store.GetFormFields(ctx, form.FormID, e.study)
		if err != nil {
			e.log.Warn("field widget fetch failed, continuing without",
				zap.String("form", form.FormID), zap.Error(err))
			return
		}

		mu.Lock()
		fields = fetched
		mu.Unlock()
	}()

	if !res.isRoot {
		wg.Add(1)
		go func() {
			defer wg.Done()

			info, err := e.store.GetFormIDFields(ctx, root.FormID)
			if err != nil {
				e.log.Warn("root identifier fetch failed, continuing without",
					zap.String("form", root.FormID), zap.Error(err))
				return
			}

			mu.Lock()
			rootIDs = info.IDFields
			mu.Unlock()
		}()
	}

	if e.identity != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			found, err := e.store.FindDraft(ctx, form.FormID, e.identity)
			if err != nil {
				e.log.Warn("draft lookup failed, starting blank",
					zap.String("form", form.FormID), zap.Error(err))
				return
			}

			mu.Lock()
			draft = found
			mu.Unlock()
		}()
	}

	wg.Wait()

	res.widgets = mergeWidgets(rootIDs, fields, e.exclusions)
	res.required = intersect(form.Required(e.study), res.widgets)
	res.mutex = form.Mutex(e.study)

	if draft != nil {
		values := map[string]any{}
		if err := json.Unmarshal([]byte(draft.Data), &values); err != nil {
			e.log.Warn("draft data is unreadable, starting blank", zap.String("draft", draft.ID), zap.Error(err))
		} else {
			res.values = values
			res.draft = &state.DraftRef{ID: draft.ID, LastUpdate: draft.LastUpdate}
		}
	}

	e.dispatch(event{kind: eventDone, epoch: epoch, loaded: res})
}

// saveDraft is the Saving entry task: upsert the snapshot by the
// (form, identity) key.
func (e *Engine) saveDraft(ctx context.Context, epoch uint64, values map[string]any) {
	data, err := json.Marshal(values)
	if err != nil {
		e.dispatch(event{kind: eventFailed, epoch: epoch, failure: &FailureInfo{
			Title: "Saving draft failed", Content: err.Error(), Err: err,
		}})
		return
	}

	id, err := e.store.UpsertDraft(ctx, e.formID, e.identity, string(data))
	if err != nil {
		e.dispatch(event{kind: eventFailed, epoch: epoch, failure: &FailureInfo{
			Title: "Saving draft failed", Content: err.Error(), Err: err,
		}})
		return
	}

	e.dispatch(event{kind: eventDone, epoch: epoch, draftID: id, when: e.now()})
}

// submission is the immutable snapshot a Submitting task works on.
type submission struct {
	form    *schema.Form
	isRoot  bool
	widgets []schema.FieldDefinition
	values  map[string]any
	draft   *state.DraftRef
}

// submitContext snapshots everything the submit task needs. Called with the
// engine lock held.
func (e *Engine) submitContext() submission {
	return submission{
		form:    e.form,
		isRoot:  e.isRoot,
		widgets: e.st.FieldWidgets,
		values:  e.st.FieldValues,
		draft:   e.st.Draft,
	}
}

// submitForm is the Submitting entry task: run the existence and
// cardinality checks, create the submission from all non-empty values, then
// concurrently delete the superseded draft and link the user. The two
// post-create operations are independent; their failures are logged and
// never roll back the submission.
func (e *Engine) submitForm(ctx context.Context, epoch uint64, sub submission) {
	if err := e.check.CheckSubmit(ctx, sub.form, sub.isRoot, e.identity, sub.values); err != nil {
		title := "Submission failed"
		if errors.Is(err, resolver.ErrAlreadyExists) || errors.Is(err, resolver.ErrCardinalityExceeded) {
			title = "Submission rejected"
		}

		e.dispatch(event{kind: eventFailed, epoch: epoch, failure: &FailureInfo{
			Title: title, Content: err.Error(), Err: err,
		}})
		return
	}

	var fields []persist.KV
	for _, w := range sub.widgets {
		v, ok := sub.values[w.Name]
		if !ok || isFalsyValue(v) {
			continue
		}
		fields = append(fields, persist.KV{Key: w.Name, Value: stringifyValue(v)})
	}

	id, err := e.store.CreateSubmission(ctx, sub.form.FormID, e.identity, fields)
	if err != nil {
		e.dispatch(event{kind: eventFailed, epoch: epoch, failure: &FailureInfo{
			Title: "Submission failed", Content: err.Error(), Err: err,
		}})
		return
	}

	var wg sync.WaitGroup

	if sub.draft != nil && sub.draft.ID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := e.store.DeleteDraft(ctx, sub.draft.ID); err != nil {
				e.log.Warn("deleting superseded draft failed", zap.String("draft", sub.draft.ID), zap.Error(err))
			}
		}()
	}

	if e.userID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := e.store.LinkUserToSubmission(ctx, id, e.userID); err != nil {
				e.log.Warn("linking user to submission failed",
					zap.String("submission", id), zap.String("user", e.userID), zap.Error(err))
			}
		}()
	}

	wg.Wait()

	e.log.Info("submission created", zap.String("form", sub.form.FormID), zap.String("submission", id))
	e.dispatch(event{kind: eventDone, epoch: epoch})
}

// SaveTemplate snapshots the current values as a named reusable template.
// Available while the form is editable; write failures surface in Failure.
func (e *Engine) SaveTemplate(name string) error {
	e.mu.Lock()

	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	if e.status != Idle && e.status != Invalid {
		e.mu.Unlock()
		return fmt.Errorf("cannot save a template while %s", e.status)
	}

	values := e.st.FieldValues
	epoch := e.epoch
	ctx := e.ctx
	e.mu.Unlock()

	go func() {
		data, err := json.Marshal(values)
		if err == nil {
			_, err = e.store.CreateTemplate(ctx, e.formID, name, string(data))
		}
		if err != nil {
			e.dispatch(event{kind: eventFailed, epoch: epoch, failure: &FailureInfo{
				Title: "Saving template failed", Content: err.Error(), Err: err,
			}})
			return
		}

		e.log.Info("template saved", zap.String("form", e.formID), zap.String("name", name))
	}()

	return nil
}

// ApplyTemplate loads a stored template and fills the form with its values.
func (e *Engine) ApplyTemplate(id string) error {
	e.mu.Lock()

	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}

	epoch := e.epoch
	ctx := e.ctx
	e.mu.Unlock()

	go func() {
		tmpl, err := e.store.GetTemplate(ctx, id)
		if err != nil {
			e.dispatch(event{kind: eventFailed, epoch: epoch, failure: &FailureInfo{
				Title: "Loading template failed", Content: err.Error(), Err: err,
			}})
			return
		}

		values := map[string]any{}
		if err := json.Unmarshal([]byte(tmpl.Data), &values); err != nil {
			e.dispatch(event{kind: eventFailed, epoch: epoch, failure: &FailureInfo{
				Title: "Loading template failed", Content: err.Error(), Err: err,
			}})
			return
		}

		e.dispatch(event{kind: eventFill, epoch: epoch, partial: values})
	}()

	return nil
}

// Templates lists the stored templates for the mounted form.
func (e *Engine) Templates(ctx context.Context) ([]persist.Template, error) {
	return e.store.FindTemplates(ctx, e.formID)
}

// DeleteTemplate removes a stored template.
func (e *Engine) DeleteTemplate(ctx context.Context, id string) error {
	return e.store.DeleteTemplate(ctx, id)
}

// Submissions lists the finalized records of the mounted form for the
// engine's identity.
func (e *Engine) Submissions(ctx context.Context) ([]persist.Submission, error) {
	return e.store.FindSubmissions(ctx, e.formID, e.identity)
}

// mergeWidgets combines the root identifier widgets with the form's own
// fields, dropping duplicates by name and any excluded field.
func mergeWidgets(rootIDs []schema.FieldDefinition, fields []schema.FieldDefinition, exclusions []string) []schema.FieldDefinition {
	excluded := map[string]bool{}
	for _, name := range exclusions {
		excluded[name] = true
	}

	var widgets []schema.FieldDefinition
	seen := map[string]bool{}

	for _, fd := range append(append([]schema.FieldDefinition{}, rootIDs...), fields...) {
		if excluded[fd.Name] || seen[fd.Name] {
			continue
		}
		seen[fd.Name] = true
		widgets = append(widgets, fd)
	}

	return widgets
}

// intersect keeps the required names actually present among the widgets,
// preserving the requiredFields ⊆ fieldWidgets invariant.
func intersect(names []string, widgets []schema.FieldDefinition) []string {
	present := map[string]bool{}
	for _, w := range widgets {
		present[w.Name] = true
	}

	var out []string
	for _, n := range names {
		if present[n] {
			out = append(out, n)
		}
	}

	return out
}

func isFalsyValue(v any) bool {
	return conditions.IsFalsy(v)
}

// stringifyValue flattens a field value into the submission wire form:
// strings pass through, composites keep their JSON encoding.
func stringifyValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
