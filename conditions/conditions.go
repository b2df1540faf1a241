// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package conditions implements the enabling-condition mini language used by
// form field definitions. A condition is written as a string of the form
// "<field> <operator> <value>" where value is a JSON literal, and is parsed
// once at schema compile time into a structured Condition that can be
// evaluated repeatedly against the current field values of a form.
//
// All conditions attached to a field are ANDed: the field is enabled only
// when every condition is met. A referenced field that is absent from the
// value map satisfies no operator except "notdefined".
package conditions

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Operator identifies a comparison in an enabling condition.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpLt         Operator = "lt"
	OpGt         Operator = "gt"
	OpMin        Operator = "min" // alias gte
	OpGte        Operator = "gte"
	OpMax        Operator = "max" // alias lte
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNin        Operator = "nin"
	OpAny        Operator = "any"
	OpDefined    Operator = "defined"
	OpNotDefined Operator = "notdefined"
)

var operators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpLt: true, OpGt: true,
	OpMin: true, OpGte: true, OpMax: true, OpLte: true,
	OpIn: true, OpNin: true, OpAny: true,
	OpDefined: true, OpNotDefined: true,
}

// Condition is one parsed enabling condition.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Parse parses a single "<field> <operator> <value>" condition string. The
// value part is decoded as JSON when possible, otherwise kept as a raw
// string. The defined and notdefined operators take no value.
func Parse(s string) (Condition, error) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 3)
	if len(parts) < 2 {
		return Condition{}, fmt.Errorf("invalid condition %q", s)
	}

	op := Operator(parts[1])
	if !operators[op] {
		return Condition{}, fmt.Errorf("invalid condition %q: unknown operator %q", s, parts[1])
	}

	c := Condition{Field: parts[0], Operator: op}

	switch op {
	case OpDefined, OpNotDefined:
		return c, nil
	}

	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("invalid condition %q: operator %q needs a value", s, op)
	}

	var val any
	if err := json.Unmarshal([]byte(parts[2]), &val); err != nil {
		val = parts[2]
	}
	c.Value = val

	return c, nil
}

// ParseAll parses an ordered list of condition strings.
func ParseAll(specs []string) ([]Condition, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	conds := make([]Condition, len(specs))
	for i, s := range specs {
		c, err := Parse(s)
		if err != nil {
			return nil, err
		}
		conds[i] = c
	}

	return conds, nil
}

// AllMet reports whether every condition holds for values. An empty or nil
// condition list is always met.
func AllMet(conds []Condition, values map[string]any) bool {
	for _, c := range conds {
		if !c.Met(values) {
			return false
		}
	}

	return true
}

// Met evaluates the condition against the current field values.
func (c Condition) Met(values map[string]any) bool {
	current, ok := values[c.Field]

	switch c.Operator {
	case OpDefined:
		return ok && !IsFalsy(current)
	case OpNotDefined:
		return !ok || IsFalsy(current)
	}

	if !ok {
		return false
	}

	switch c.Operator {
	case OpEq:
		return equal(current, c.Value)
	case OpNeq:
		return !equal(current, c.Value)
	case OpLt:
		return numericCompare(current, c.Value, func(a, b float64) bool { return a < b })
	case OpGt:
		return numericCompare(current, c.Value, func(a, b float64) bool { return a > b })
	case OpMin, OpGte:
		return numericCompare(current, c.Value, func(a, b float64) bool { return a >= b })
	case OpMax, OpLte:
		return numericCompare(current, c.Value, func(a, b float64) bool { return a <= b })
	case OpIn:
		if isArray(current) {
			return false
		}
		return contains(asSet(c.Value), current)
	case OpNin:
		if isArray(current) {
			return false
		}
		return !contains(asSet(c.Value), current)
	case OpAny:
		set := asSet(c.Value)
		for _, v := range asSet(current) {
			if contains(set, v) {
				return true
			}
		}
		return false
	}

	return false
}

// IsFalsy reports whether a field value counts as empty: nil, empty string,
// empty array or object, numeric zero and NaN are all falsy.
func IsFalsy(v any) bool {
	if v == nil {
		return true
	}

	switch val := v.(type) {
	case string:
		return val == ""
	case bool:
		return !val
	case float64:
		return val == 0 || math.IsNaN(val)
	case float32:
		return val == 0 || math.IsNaN(float64(val))
	case int:
		return val == 0
	case int64:
		return val == 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}

	return false
}

// equal compares a current field value against a condition value, comparing
// numerically when both sides parse as numbers and textually otherwise.
func equal(current, want any) bool {
	cf, cok := toFloat(current)
	wf, wok := toFloat(want)
	if cok && wok {
		return cf == wf
	}

	return fmt.Sprint(current) == fmt.Sprint(want)
}

func numericCompare(current, want any, cmp func(a, b float64) bool) bool {
	cf, cok := toFloat(current)
	wf, wok := toFloat(want)
	if !cok || !wok {
		return false
	}

	return cmp(cf, wf)
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isArray(v any) bool {
	switch v.(type) {
	case []string, []any:
		return true
	default:
		return false
	}
}

// asSet normalizes a condition or field value into a slice for membership
// tests, wrapping scalars into a single element slice.
func asSet(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{val}
	}
}

func contains(set []any, v any) bool {
	for _, member := range set {
		if equal(v, member) {
			return true
		}
	}

	return false
}
