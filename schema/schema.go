// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package schema holds the declarative description of a clinical capture
// form: an ordered list of typed field definitions with validation
// constraints, enabling conditions and identifier roles, plus the form
// level required and mutually exclusive field sets.
//
// Forms are defined as YAML (or JSON) documents. Labels, descriptions and
// the required/mutex sets can either be flat values or keyed by study so a
// single form definition can serve several study contexts, falling back to
// a "default" entry when the current study has no specific value.
//
// A loaded form must be compiled before use; compilation parses every
// enabling condition string into its structured form once so evaluation
// never re-parses the mini language.
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clindata-io/formflow/conditions"
)

// Component identifies the widget kind used to capture a field.
type Component string

const (
	TextInput    Component = "text-input"
	Textarea     Component = "textarea"
	SingleSelect Component = "single-select"
	MultiSelect  Component = "multi-select"
	DatePicker   Component = "date-picker"
	MonthPicker  Component = "month-picker"
)

// FieldType identifies the value type of a field.
type FieldType string

const (
	TextType     FieldType = "text"
	NumberType   FieldType = "number"
	IntegerType  FieldType = "integer"
	DateType     FieldType = "date"
	MonthType    FieldType = "month"
	MultipleType FieldType = "multiple"
)

var components = map[Component]bool{
	TextInput: true, Textarea: true, SingleSelect: true,
	MultiSelect: true, DatePicker: true, MonthPicker: true,
}

var fieldTypes = map[FieldType]bool{
	TextType: true, NumberType: true, IntegerType: true,
	DateType: true, MonthType: true, MultipleType: true,
}

// FieldDefinition describes a single form field.
type FieldDefinition struct {
	Name        string    `json:"name" yaml:"name"`
	Component   Component `json:"component" yaml:"component"`
	Type        FieldType `json:"type" yaml:"type"`
	Label       Text      `json:"label" yaml:"label"`
	Description Text      `json:"description" yaml:"description"`
	Help        string    `json:"help" yaml:"help"`
	Regex       string    `json:"regex" yaml:"regex"`
	MinValue    *float64  `json:"minValue" yaml:"minValue"`
	MaxValue    *float64  `json:"maxValue" yaml:"maxValue"`
	Options     []string  `json:"options" yaml:"options"`
	Default     string    `json:"default" yaml:"default"`

	// EnablingConditions holds the raw "<field> <op> <value>" strings;
	// Compile parses them into Conditions.
	EnablingConditions []string `json:"enablingConditions" yaml:"enablingConditions"`

	// ValidationExpression is an optional expr expression evaluated against
	// the entered value, in addition to the type derived validators.
	ValidationExpression string `json:"validation" yaml:"validation"`

	// IsID marks the field as part of the record's external identity.
	IsID bool `json:"isID" yaml:"isID"`

	// RefForm names the form whose primary identifier this field carries,
	// making it a foreign key for reference resolution.
	RefForm string `json:"references" yaml:"references"`

	Conditions []conditions.Condition `json:"-" yaml:"-"`
}

// Enabled reports whether the field's enabling conditions are all met for
// the given values. Fields without conditions are always enabled.
func (f *FieldDefinition) Enabled(values map[string]any) bool {
	return conditions.AllMet(f.Conditions, values)
}

// Form describes a complete capture form.
type Form struct {
	FormID   string   `json:"formID" yaml:"formID"`
	Name     string   `json:"name" yaml:"name"`
	Weight   int      `json:"weight" yaml:"weight"`
	Studies  []string `json:"studies" yaml:"studies"`
	IDFields []string `json:"id_fields" yaml:"id_fields"`

	RequiredFields FieldList `json:"required_fields" yaml:"required_fields"`
	MutexFields    FieldList `json:"mutex_fields" yaml:"mutex_fields"`

	// Cardinality limits how many instances of this form may attach to one
	// root record; nil means unlimited.
	Cardinality *int `json:"cardinality" yaml:"cardinality"`

	// ReferenceCardinality limits, per referenced form, how many records may
	// point at the same reference target.
	ReferenceCardinality map[string]int `json:"reference_cardinality" yaml:"reference_cardinality"`

	Fields []FieldDefinition `json:"fields" yaml:"fields"`
}

// LoadForm decodes a YAML form definition and compiles it.
func LoadForm(data []byte) (*Form, error) {
	form := &Form{}
	if err := yaml.Unmarshal(data, form); err != nil {
		return nil, fmt.Errorf("invalid form definition: %w", err)
	}

	if err := form.Compile(); err != nil {
		return nil, err
	}

	return form, nil
}

// LoadFormFile reads and compiles a YAML form definition from path.
func LoadFormFile(path string) (*Form, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return LoadForm(data)
}

// LoadFormJSON decodes a JSON form definition and compiles it.
func LoadFormJSON(data []byte) (*Form, error) {
	form := &Form{}
	if err := json.Unmarshal(data, form); err != nil {
		return nil, fmt.Errorf("invalid form definition: %w", err)
	}

	if err := form.Compile(); err != nil {
		return nil, err
	}

	return form, nil
}

// Compile validates enumerated values, checks field name uniqueness and
// parses every enabling condition string. It must be called once before the
// form is evaluated.
func (f *Form) Compile() error {
	if f.FormID == "" {
		return fmt.Errorf("form has no formID")
	}

	seen := map[string]bool{}

	for i := range f.Fields {
		fd := &f.Fields[i]

		if fd.Name == "" {
			return fmt.Errorf("form %s: field %d has no name", f.FormID, i)
		}
		if seen[fd.Name] {
			return fmt.Errorf("form %s: duplicate field %q", f.FormID, fd.Name)
		}
		seen[fd.Name] = true

		if fd.Component != "" && !components[fd.Component] {
			return fmt.Errorf("form %s: field %q has unknown component %q", f.FormID, fd.Name, fd.Component)
		}
		if fd.Type != "" && !fieldTypes[fd.Type] {
			return fmt.Errorf("form %s: field %q has unknown type %q", f.FormID, fd.Name, fd.Type)
		}

		conds, err := conditions.ParseAll(fd.EnablingConditions)
		if err != nil {
			return fmt.Errorf("form %s: field %q: %w", f.FormID, fd.Name, err)
		}
		fd.Conditions = conds
	}

	return nil
}

// Field returns the definition of the named field, or nil.
func (f *Form) Field(name string) *FieldDefinition {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i]
		}
	}

	return nil
}

// Required resolves the required field set for a study context.
func (f *Form) Required(study string) []string {
	return f.RequiredFields.Resolve(study)
}

// Mutex resolves the mutually exclusive field set for a study context.
func (f *Form) Mutex(study string) []string {
	return f.MutexFields.Resolve(study)
}

// IDFieldDefs returns the definitions of the fields composing the record's
// external identity, in field order.
func (f *Form) IDFieldDefs() []FieldDefinition {
	var defs []FieldDefinition
	for _, fd := range f.Fields {
		if fd.IsID {
			defs = append(defs, fd)
		}
	}

	return defs
}

// AppliesTo reports whether the form is used by the given study. Forms that
// declare no studies apply everywhere.
func (f *Form) AppliesTo(study string) bool {
	if len(f.Studies) == 0 {
		return true
	}

	for _, s := range f.Studies {
		if s == study {
			return true
		}
	}

	return false
}
