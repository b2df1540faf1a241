// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package validator evaluates boolean validation expressions against a map
// environment. Expressions use the expr language and have access to the
// value being validated plus helper predicates like isInt and isFloat.
package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/expr-lang/expr"
)

func helpers() map[string]any {
	return map[string]any{
		"isInt": func(v any) bool {
			_, err := strconv.Atoi(strings.TrimSpace(fmt.Sprint(v)))
			return err == nil
		},
		"isFloat": func(v any) bool {
			_, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(v)), 64)
			return err == nil
		},
	}
}

// Validate evaluates expression against env and returns its boolean result.
// A non boolean result is an error.
func Validate(env map[string]any, expression string) (bool, error) {
	scope := helpers()
	for k, v := range env {
		scope[k] = v
	}

	program, err := expr.Compile(expression, expr.Env(scope), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("invalid validation expression %q: %w", expression, err)
	}

	res, err := expr.Run(program, scope)
	if err != nil {
		return false, fmt.Errorf("validation expression %q failed: %w", expression, err)
	}

	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("validation expression %q did not return a boolean", expression)
	}

	return b, nil
}

// SurveyValidator adapts a validation expression into a survey validator.
// The value being validated is available as "value" in the expression. When
// required is false an empty value always passes.
func SurveyValidator(expression string, required bool) survey.Validator {
	return func(val any) error {
		sv := fmt.Sprint(val)
		if sv == "" && !required {
			return nil
		}

		ok, err := Validate(map[string]any{"value": sv}, expression)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("did not pass validation: %s", expression)
		}

		return nil
	}
}
