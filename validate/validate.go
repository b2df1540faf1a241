// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package validate builds per field validator chains from field definitions
// and implements the aggregate required and mutual-exclusion checks that
// gate form submission.
//
// Field validators run in a fixed order (required, number, integer, min,
// max, regex, date, expression) and the first failure wins. Validators
// other than the required check pass on empty values; emptiness is enforced
// only through the required rules so optional fields can stay blank.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/clindata-io/formflow/conditions"
	"github.com/clindata-io/formflow/internal/validator"
	"github.com/clindata-io/formflow/schema"
)

// Error types for aggregate validation failures.
const (
	ErrorRequired = "required"
	ErrorMutex    = "mutex"
)

// Error identifies an aggregate validation failure on one field.
type Error struct {
	Field string `json:"field"`
	Type  string `json:"type"`
}

// Validator is a single named predicate over a field value.
type Validator struct {
	Name  string
	Check func(value any) error
}

// ForField builds the ordered validator chain for a field definition. When
// required is true the chain starts with a non-empty check.
func ForField(fd *schema.FieldDefinition, required bool) []Validator {
	var chain []Validator

	if required {
		chain = append(chain, notEmpty())
	}

	switch fd.Type {
	case schema.NumberType:
		chain = append(chain, number())
	case schema.IntegerType:
		chain = append(chain, integer())
	}

	if fd.MinValue != nil {
		chain = append(chain, minValue(*fd.MinValue))
	}
	if fd.MaxValue != nil {
		chain = append(chain, maxValue(*fd.MaxValue))
	}

	if fd.Regex != "" {
		chain = append(chain, regex(fd.Regex))
	}

	switch fd.Type {
	case schema.DateType:
		chain = append(chain, date("2006-01-02", "date"))
	case schema.MonthType:
		chain = append(chain, date("2006-01", "month"))
	}

	if fd.ValidationExpression != "" {
		chain = append(chain, expression(fd.ValidationExpression))
	}

	return chain
}

// Field runs the field's validator chain against value and returns the
// first failure, or nil when the value is valid.
func Field(fd *schema.FieldDefinition, value any, required bool) error {
	for _, v := range ForField(fd, required) {
		if err := v.Check(value); err != nil {
			return err
		}
	}

	return nil
}

// RequiredFields checks that every required field is filled, skipping
// fields whose own enabling conditions are currently not met. The widgets
// list supplies those conditions.
func RequiredFields(required []string, widgets []schema.FieldDefinition, values map[string]any) []Error {
	var errs []Error

	for _, name := range required {
		if fd := findField(widgets, name); fd != nil && !fd.Enabled(values) {
			continue
		}

		if conditions.IsFalsy(values[name]) {
			errs = append(errs, Error{Field: name, Type: ErrorRequired})
		}
	}

	return errs
}

// MutexFields checks that exactly one of the mutually exclusive fields is
// filled. With an empty mutex set there is nothing to enforce. Zero filled
// fields flag the whole set; more than one flags each filled field.
func MutexFields(mutex []string, values map[string]any) []Error {
	if len(mutex) == 0 {
		return nil
	}

	var filled []string
	for _, name := range mutex {
		if !conditions.IsFalsy(values[name]) {
			filled = append(filled, name)
		}
	}

	switch len(filled) {
	case 1:
		return nil
	case 0:
		errs := make([]Error, len(mutex))
		for i, name := range mutex {
			errs[i] = Error{Field: name, Type: ErrorMutex}
		}
		return errs
	default:
		errs := make([]Error, len(filled))
		for i, name := range filled {
			errs[i] = Error{Field: name, Type: ErrorMutex}
		}
		return errs
	}
}

// Form runs both aggregate checks and returns all failures. An empty result
// means the form may be submitted.
func Form(widgets []schema.FieldDefinition, required []string, mutex []string, values map[string]any) []Error {
	errs := RequiredFields(required, widgets, values)

	return append(errs, MutexFields(mutex, values)...)
}

func findField(widgets []schema.FieldDefinition, name string) *schema.FieldDefinition {
	for i := range widgets {
		if widgets[i].Name == name {
			return &widgets[i]
		}
	}

	return nil
}

// isEmpty reports whether a value should bypass non-required validators.
func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

func notEmpty() Validator {
	return Validator{Name: "required", Check: func(value any) error {
		switch v := value.(type) {
		case []string:
			if len(v) == 0 {
				return fmt.Errorf("may not be empty")
			}
		case []any:
			if len(v) == 0 {
				return fmt.Errorf("may not be empty")
			}
		default:
			if isEmpty(value) {
				return fmt.Errorf("may not be empty")
			}
		}

		return nil
	}}
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isArrayValue(value any) bool {
	switch value.(type) {
	case []string, []any:
		return true
	default:
		return false
	}
}

func number() Validator {
	return Validator{Name: "number", Check: func(value any) error {
		if isArrayValue(value) || isEmpty(value) {
			return nil
		}

		if _, ok := asNumber(value); !ok {
			return fmt.Errorf("must be a number")
		}

		return nil
	}}
}

var integerRe = regexp.MustCompile(`^-?[0-9]+$`)

func integer() Validator {
	return Validator{Name: "integer", Check: func(value any) error {
		if isArrayValue(value) || isEmpty(value) {
			return nil
		}

		if !integerRe.MatchString(strings.TrimSpace(fmt.Sprint(value))) {
			return fmt.Errorf("must be an integer")
		}

		return nil
	}}
}

func minValue(limit float64) Validator {
	return Validator{Name: "min", Check: func(value any) error {
		if isArrayValue(value) || isEmpty(value) {
			return nil
		}

		if n, ok := asNumber(value); ok && n < limit {
			return fmt.Errorf("must be at least %v", limit)
		}

		return nil
	}}
}

func maxValue(limit float64) Validator {
	return Validator{Name: "max", Check: func(value any) error {
		if isArrayValue(value) || isEmpty(value) {
			return nil
		}

		if n, ok := asNumber(value); ok && n > limit {
			return fmt.Errorf("must be at most %v", limit)
		}

		return nil
	}}
}

func regex(pattern string) Validator {
	re, err := regexp.Compile(pattern)

	return Validator{Name: "regex", Check: func(value any) error {
		if err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}

		if isArrayValue(value) || isEmpty(value) {
			return nil
		}

		if !re.MatchString(fmt.Sprint(value)) {
			return fmt.Errorf("must match %s", pattern)
		}

		return nil
	}}
}

// date values are JSON composites like {"value": "2024-03-01", "resolution": "day"}
// where value must be a real calendar date in the given layout.
func date(layout string, kind string) Validator {
	return Validator{Name: kind, Check: func(value any) error {
		if isEmpty(value) {
			return nil
		}

		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("must be a valid %s", kind)
		}

		var composite struct {
			Value      string `json:"value"`
			Resolution string `json:"resolution"`
		}
		if err := json.Unmarshal([]byte(s), &composite); err != nil {
			return fmt.Errorf("must be a valid %s", kind)
		}

		if _, err := time.Parse(layout, composite.Value); err != nil {
			return fmt.Errorf("must be a valid %s", kind)
		}

		return nil
	}}
}

func expression(expr string) Validator {
	return Validator{Name: "expression", Check: func(value any) error {
		if isArrayValue(value) || isEmpty(value) {
			return nil
		}

		ok, err := validator.Validate(map[string]any{"value": fmt.Sprint(value)}, expr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("did not pass validation: %s", expr)
		}

		return nil
	}}
}
