// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package render presents a loaded form on an interactive terminal. Field
// widgets map onto survey prompts by component, enabling conditions are
// re-evaluated against the answers collected so far, and every answer is
// pushed into the engine so validation and autosave behave exactly as they
// do for any other frontend.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	terminal "golang.org/x/term"

	formflow "github.com/clindata-io/formflow"
	"github.com/clindata-io/formflow/schema"
	"github.com/clindata-io/formflow/validate"
)

//go:generate mockgen -source render.go -destination mock_test.go -package render -typed

// surveyor abstracts the survey library for testability.
type surveyor interface {
	AskOne(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error
}

type defaultSurveyor struct{}

func (d *defaultSurveyor) AskOne(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error {
	return survey.AskOne(p, response, opts...)
}

type option func(*Renderer)

func withSurveyor(s surveyor) option {
	return func(r *Renderer) {
		r.surveyor = s
	}
}

func withIsTerminal(f func() bool) option {
	return func(r *Renderer) {
		r.isTerminal = f
	}
}

func withOutput(w io.Writer) option {
	return func(r *Renderer) {
		r.output = w
	}
}

// Renderer drives one interactive pass over a form's widgets.
type Renderer struct {
	study      string
	env        map[string]any
	surveyor   surveyor
	isTerminal func() bool
	output     io.Writer
}

// New creates a Renderer. The study selects which variant of labels and
// descriptions is shown, env provides extra template variables for label
// rendering.
func New(study string, env map[string]any, opts ...option) *Renderer {
	r := &Renderer{
		study:      study,
		env:        env,
		surveyor:   &defaultSurveyor{},
		isTerminal: isTerminal,
		output:     os.Stdout,
	}

	for _, o := range opts {
		o(r)
	}

	return r
}

// Fill walks the engine's field widgets in order, prompting for each one
// that is currently enabled, and merges every answer into the engine. The
// engine must have finished loading.
func (r *Renderer) Fill(e *formflow.Engine) error {
	if !r.isTerminal() {
		return fmt.Errorf("can only fill forms on a valid terminal")
	}

	form := e.Form()
	if form == nil {
		return fmt.Errorf("form is not loaded")
	}

	title, err := renderMarkup(form.Name, r.env)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.output, title)
	fmt.Fprintln(r.output)

	for _, fd := range e.Snapshot().FieldWidgets {
		snap := e.Snapshot()
		if !fd.Enabled(snap.FieldValues) {
			continue
		}

		current, _ := snap.Value(fd.Name)

		ans, err := r.askField(&fd, current, isOneOf(fd.Name, snap.RequiredFields...))
		if err != nil {
			return err
		}

		e.Update(map[string]any{fd.Name: ans})
	}

	return nil
}

func isOneOf(val string, valid ...string) bool {
	for _, v := range valid {
		if val == v {
			return true
		}
	}
	return false
}

// askField dispatches one widget to its component specific prompt and
// returns the collected value.
func (r *Renderer) askField(fd *schema.FieldDefinition, current any, required bool) (any, error) {
	if err := r.printLabel(fd); err != nil {
		return nil, err
	}

	switch fd.Component {
	case schema.SingleSelect:
		return r.askSelect(fd, current, required)

	case schema.MultiSelect:
		return r.askMultiSelect(fd, required)

	case schema.Textarea:
		return r.askTextarea(fd, required)

	case schema.DatePicker:
		return r.askDate(fd, "2006-01-02", "day", required)

	case schema.MonthPicker:
		return r.askDate(fd, "2006-01", "month", required)

	default:
		return r.askInput(fd, current, required)
	}
}

// printLabel renders the study resolved label and description above the
// prompt, with template and color markup applied.
func (r *Renderer) printLabel(fd *schema.FieldDefinition) error {
	desc := fd.Description.Resolve(r.study)
	if desc == "" {
		return nil
	}

	rendered, err := renderMarkup(desc, r.env)
	if err != nil {
		return err
	}

	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, rendered)
	fmt.Fprintln(r.output)

	return nil
}

func (r *Renderer) askInput(fd *schema.FieldDefinition, current any, required bool) (string, error) {
	deflt := fd.Default
	if s, ok := current.(string); ok && s != "" {
		deflt = s
	}

	var ans string
	err := r.surveyor.AskOne(&survey.Input{
		Message: fd.Label.Resolve(r.study),
		Help:    fd.Help,
		Default: deflt,
	}, &ans, survey.WithValidator(fieldValidator(fd, required)))

	return ans, err
}

func (r *Renderer) askTextarea(fd *schema.FieldDefinition, required bool) (string, error) {
	var ans string
	err := r.surveyor.AskOne(&survey.Multiline{
		Message: fd.Label.Resolve(r.study),
		Help:    fd.Help,
		Default: fd.Default,
	}, &ans, survey.WithValidator(fieldValidator(fd, required)))

	return ans, err
}

func (r *Renderer) askSelect(fd *schema.FieldDefinition, current any, required bool) (string, error) {
	deflt := fd.Default
	if s, ok := current.(string); ok && s != "" {
		deflt = s
	}
	if deflt == "" && len(fd.Options) > 0 && required {
		deflt = fd.Options[0]
	}

	var opts []survey.AskOpt
	if required {
		opts = append(opts, survey.WithValidator(survey.Required))
	}

	var ans string
	err := r.surveyor.AskOne(&survey.Select{
		Message: fd.Label.Resolve(r.study),
		Help:    fd.Help,
		Options: fd.Options,
		Default: deflt,
	}, &ans, opts...)

	return ans, err
}

func (r *Renderer) askMultiSelect(fd *schema.FieldDefinition, required bool) ([]string, error) {
	var opts []survey.AskOpt
	if required {
		opts = append(opts, survey.WithValidator(survey.MinItems(1)))
	}

	var ans []string
	err := r.surveyor.AskOne(&survey.MultiSelect{
		Message: fd.Label.Resolve(r.study),
		Help:    fd.Help,
		Options: fd.Options,
	}, &ans, opts...)

	return ans, err
}

// askDate prompts for a calendar value in the given layout and wraps the
// answer into the composite {"value": ..., "resolution": ...} wire form the
// validation and submission layers expect. An empty answer stays empty.
func (r *Renderer) askDate(fd *schema.FieldDefinition, layout string, resolution string, required bool) (string, error) {
	validator := func(ans interface{}) error {
		s, _ := ans.(string)
		if s == "" {
			if required {
				return fmt.Errorf("a value is required")
			}
			return nil
		}

		if _, err := time.Parse(layout, s); err != nil {
			return fmt.Errorf("must be in the form %s", layout)
		}

		return nil
	}

	var ans string
	err := r.surveyor.AskOne(&survey.Input{
		Message: fd.Label.Resolve(r.study),
		Help:    fd.Help,
	}, &ans, survey.WithValidator(validator))
	if err != nil || ans == "" {
		return "", err
	}

	composite, err := json.Marshal(struct {
		Value      string `json:"value"`
		Resolution string `json:"resolution"`
	}{ans, resolution})
	if err != nil {
		return "", err
	}

	return string(composite), nil
}

// fieldValidator bridges the field's validator chain into a survey
// validator so failures surface inline at the prompt.
func fieldValidator(fd *schema.FieldDefinition, required bool) survey.Validator {
	return func(ans interface{}) error {
		return validate.Field(fd, ans, required)
	}
}

func isTerminal() bool {
	return terminal.IsTerminal(int(os.Stdin.Fd())) && terminal.IsTerminal(int(os.Stdout.Fd()))
}
