// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package formflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clindata-io/formflow/persist"
	"github.com/clindata-io/formflow/resolver"
	"github.com/clindata-io/formflow/schema"
	"github.com/clindata-io/formflow/state"
	"github.com/clindata-io/formflow/validate"
)

// DefaultSaveInterval is how long the form must sit idle before the draft
// autosave fires, and the minimum spacing between two autosaves.
const DefaultSaveInterval = 10 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithStudy sets the study context used to resolve labels and the
// required/mutex field sets.
func WithStudy(study string) Option {
	return func(e *Engine) { e.study = study }
}

// WithIdentity sets the patient/record identity the form instance is
// scoped to. The map is serialized into a canonical JSON key.
func WithIdentity(identity map[string]string) Option {
	return func(e *Engine) {
		data, _ := json.Marshal(identity)
		e.identity = string(data)
	}
}

// WithIdentityJSON sets the identity from an already serialized key.
func WithIdentityJSON(identity string) Option {
	return func(e *Engine) { e.identity = identity }
}

// WithUser sets the user linked to created submissions.
func WithUser(userID string) Option {
	return func(e *Engine) { e.userID = userID }
}

// WithLogger sets the logger; without it the engine logs nothing.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithExclusions names fields that must be filtered out of the loaded
// widget list, typically identity fields supplied out of band.
func WithExclusions(names ...string) Option {
	return func(e *Engine) { e.exclusions = names }
}

// WithSaveInterval overrides the autosave idle interval.
func WithSaveInterval(d time.Duration) Option {
	return func(e *Engine) { e.saveInterval = d }
}

// WithClock overrides the time source, used by tests to simulate the
// autosave spacing guard.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifications registers a channel receiving the machine status after
// every transition. Sends never block; with a full channel the status is
// dropped, so callers should use a buffered channel and treat it as a
// change signal rather than a complete history.
func WithNotifications(ch chan<- Status) Option {
	return func(e *Engine) { e.notifyCh = ch }
}

// Engine drives the lifecycle of one mounted form instance.
type Engine struct {
	formID       string
	study        string
	identity     string
	userID       string
	exclusions   []string
	saveInterval time.Duration
	now          func() time.Time
	log          *zap.Logger
	notifyCh     chan<- Status

	store persist.Store
	check *resolver.Resolver

	mu       sync.Mutex
	ctx      context.Context
	running  bool
	status   Status
	st       state.State
	form     *schema.Form
	rootForm *schema.Form
	isRoot   bool
	failure  *FailureInfo
	loadErr  error
	lastSave time.Time
	epoch    uint64
	timer    *time.Timer
}

// New creates an engine for one form over the persistence collaborator.
// The patient identity and study context are injected here; the engine
// never reads ambient globals.
func New(store persist.Store, formID string, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if formID == "" {
		return nil, fmt.Errorf("formID is required")
	}

	e := &Engine{
		formID:       formID,
		store:        store,
		saveInterval: DefaultSaveInterval,
		now:          time.Now,
		log:          zap.NewNop(),
		st:           state.New(),
	}

	for _, o := range opts {
		o(e)
	}

	e.check = resolver.New(store, e.log)

	return e, nil
}

// Start mounts the form: the machine enters Loading and fetches metadata,
// widgets and any existing draft. The context bounds all I/O the engine
// performs for the life of the instance.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	e.ctx = ctx
	e.running = true
	e.enter(Loading, event{})

	return nil
}

// Stop releases the autosave timer. The engine cannot be restarted.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopTimer()
	e.running = false
}

// Status returns the current symbolic machine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

// Snapshot returns a copy of the current form state.
func (e *Engine) Snapshot() state.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.st
}

// Form returns the loaded form definition, nil until loading completes.
func (e *Engine) Form() *schema.Form {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.form
}

// IsRoot reports whether the mounted form is the record root.
func (e *Engine) IsRoot() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.isRoot
}

// LastFailure returns the failure shown while the machine is in Failure.
func (e *Engine) LastFailure() *FailureInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.failure
}

// LoadError returns the fatal load error once the machine is in Errored.
func (e *Engine) LoadError() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.loadErr
}

// Update merges edited field values. Edits do not leave Idle but restart
// the autosave countdown; in Invalid they re-evaluate the surfaced errors.
func (e *Engine) Update(partial map[string]any) {
	e.dispatch(event{kind: eventUpdate, partial: partial})
}

// Submit attempts submission: when the validity guard passes the machine
// enters Submitting, otherwise Invalid with populated validation errors.
func (e *Engine) Submit() {
	e.dispatch(event{kind: eventSubmit})
}

// Clear resets the form to its initial values and drops the draft reference.
func (e *Engine) Clear() {
	e.dispatch(event{kind: eventClear})
}

// Reload re-runs the loading sequence, abandoning any in-flight tasks.
func (e *Engine) Reload() {
	e.dispatch(event{kind: eventReload})
}

// Retry re-attempts submission from Failure.
func (e *Engine) Retry() {
	e.dispatch(event{kind: eventRetry})
}

// Cancel dismisses a failure and returns to editing.
func (e *Engine) Cancel() {
	e.dispatch(event{kind: eventCancel})
}

// dispatch serializes one event through the machine. Events that are not
// legal in the current state, or that carry a stale epoch, are dropped.
func (e *Engine) dispatch(ev event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	if ev.epoch != 0 && ev.epoch != e.epoch {
		e.log.Debug("dropping stale completion event", zap.Uint64("epoch", ev.epoch), zap.Uint64("current", e.epoch))
		return
	}

	// internal transitions that never change status
	switch ev.kind {
	case eventUpdate:
		if e.status != Idle && e.status != Invalid {
			return
		}
		e.st = state.Reduce(e.st, state.UpdateFieldValues(ev.partial))
		if e.status == Idle {
			e.armTimer()
		}
		if e.status == Invalid {
			e.st = state.Reduce(e.st, state.UpdateValidationErrors(e.formErrors()))
		}
		return

	case eventFill:
		if e.status != Idle && e.status != Invalid {
			return
		}
		e.st = state.Reduce(e.st, state.FillForm(ev.partial))
		if e.status == Idle {
			e.armTimer()
		}
		return
	}

	next, ok := e.lookup(ev.kind)
	if !ok {
		return
	}

	e.applyPayload(ev)
	e.enter(next, ev)
}

// applyPayload folds a completion event's payload into the store before the
// state change becomes visible.
func (e *Engine) applyPayload(ev event) {
	switch {
	case ev.kind == eventDone && e.status == Loading && ev.loaded != nil:
		res := ev.loaded
		e.form = res.form
		e.rootForm = res.rootForm
		e.isRoot = res.isRoot
		e.st = state.Reduce(e.st, state.UpdateWidgets(res.widgets))
		e.st = state.Reduce(e.st, state.UpdateRequiredFields(res.required))
		e.st = state.Reduce(e.st, state.UpdateExclusiveFields(res.mutex))
		e.st = state.Reduce(e.st, state.ClearForm())
		if len(res.values) > 0 {
			e.st = state.Reduce(e.st, state.UpdateFieldValues(res.values))
		}
		if res.draft != nil {
			e.st = state.Reduce(e.st, state.UpdateDraftID(res.draft.ID))
			e.st = state.Reduce(e.st, state.UpdateDraftDate(res.draft.LastUpdate))
		}

	case ev.kind == eventDone && e.status == Saving:
		e.st = state.Reduce(e.st, state.UpdateDraftID(ev.draftID))
		e.st = state.Reduce(e.st, state.UpdateDraftDate(ev.when))
		e.lastSave = ev.when

	case ev.kind == eventFatal:
		e.loadErr = ev.err
	}
}

// enter performs the state change and its entry action. Auto-advancing
// states (Submitted, Empty) chain further entries in the same dispatch.
func (e *Engine) enter(next Status, ev event) {
	e.stopTimer()
	e.status = next
	e.notify()

	switch next {
	case Loading:
		e.epoch++
		e.loadErr = nil
		go e.initializeForm(e.ctx, e.epoch)

	case Idle:
		e.failure = nil
		e.armTimer()

	case Invalid:
		e.st = state.Reduce(e.st, state.UpdateValidationErrors(e.formErrors()))

	case Submitting:
		e.failure = nil
		go e.submitForm(e.ctx, e.epoch, e.submitContext())

	case Saving:
		values := e.st.FieldValues
		go e.saveDraft(e.ctx, e.epoch, values)

	case Failure:
		e.failure = ev.failure
		if e.failure == nil {
			e.failure = &FailureInfo{Title: "Operation failed", Err: ev.err}
		}

	case Submitted:
		e.enter(Empty, ev)

	case Empty:
		// full reset: values, draft reference, validation errors; a new
		// epoch orphans any still-running task of the old instance
		e.st = state.Reduce(e.st, state.ClearForm())
		e.failure = nil
		e.lastSave = time.Time{}
		e.epoch++
		e.enter(Idle, ev)

	case Errored:
		e.log.Error("form metadata load failed", zap.String("form", e.formID), zap.Error(e.loadErr))
	}
}

// formValid is the submission guard: both aggregate checks must pass.
func (e *Engine) formValid() bool {
	return len(e.formErrors()) == 0
}

func (e *Engine) formErrors() []validate.Error {
	return validate.Form(e.st.FieldWidgets, e.st.RequiredFields, e.st.MutexFields, e.st.FieldValues)
}

// canSave gates the autosave: there must be something worth persisting and
// at least the save interval must have passed since the previous autosave.
func (e *Engine) canSave() bool {
	if e.now().Sub(e.lastSave) < e.saveInterval && !e.lastSave.IsZero() {
		return false
	}

	for _, v := range e.st.FieldValues {
		if !isFalsyValue(v) {
			return true
		}
	}

	return false
}

func (e *Engine) armTimer() {
	e.stopTimer()

	epoch := e.epoch
	e.timer = time.AfterFunc(e.saveInterval, func() {
		e.dispatch(event{kind: eventSaveTick, epoch: epoch})
	})
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) notify() {
	if e.notifyCh == nil {
		return
	}

	select {
	case e.notifyCh <- e.status:
	default:
	}
}
