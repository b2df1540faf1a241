// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clindata-io/formflow/schema"
)

func TestValidate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validate")
}

func f64(v float64) *float64 { return &v }

var _ = Describe("Field", func() {
	It("Should reject empty required values", func() {
		fd := &schema.FieldDefinition{Name: "a", Type: schema.TextType}

		Expect(Field(fd, "", true)).To(MatchError("may not be empty"))
		Expect(Field(fd, "  ", true)).To(MatchError("may not be empty"))
		Expect(Field(fd, []string{}, true)).To(MatchError("may not be empty"))
		Expect(Field(fd, "x", true)).To(Succeed())
		Expect(Field(fd, "", false)).To(Succeed())
	})

	It("Should reject non numeric strings for number fields", func() {
		fd := &schema.FieldDefinition{Name: "n", Type: schema.NumberType}

		Expect(Field(fd, "12.5", false)).To(Succeed())
		Expect(Field(fd, "-3", false)).To(Succeed())
		Expect(Field(fd, "abc", false)).To(MatchError("must be a number"))
		Expect(Field(fd, []string{"abc"}, false)).To(Succeed(), "arrays are exempt")
	})

	It("Should additionally reject decimals for integer fields", func() {
		fd := &schema.FieldDefinition{Name: "n", Type: schema.IntegerType}

		Expect(Field(fd, "12", false)).To(Succeed())
		Expect(Field(fd, "-12", false)).To(Succeed())
		Expect(Field(fd, "12.5", false)).To(MatchError("must be an integer"))
		Expect(Field(fd, "abc", false)).To(MatchError("must be an integer"))
	})

	It("Should enforce min and max bounds numerically", func() {
		fd := &schema.FieldDefinition{Name: "n", Type: schema.NumberType, MinValue: f64(0), MaxValue: f64(200)}

		Expect(Field(fd, "0", false)).To(Succeed())
		Expect(Field(fd, "200", false)).To(Succeed())
		Expect(Field(fd, "-1", false)).To(MatchError("must be at least 0"))
		Expect(Field(fd, "201", false)).To(MatchError("must be at most 200"))
	})

	It("Should enforce the regex pattern", func() {
		fd := &schema.FieldDefinition{Name: "id", Type: schema.TextType, Regex: `^P[0-9]{4}$`}

		Expect(Field(fd, "P1234", false)).To(Succeed())
		Expect(Field(fd, "X1234", false)).To(MatchError("must match ^P[0-9]{4}$"))
		Expect(Field(fd, []string{"X"}, false)).To(Succeed(), "arrays are exempt")
	})

	It("Should validate date composites as real calendar dates", func() {
		fd := &schema.FieldDefinition{Name: "d", Type: schema.DateType}

		Expect(Field(fd, `{"value":"2024-02-29","resolution":"day"}`, false)).To(Succeed())
		Expect(Field(fd, `{"value":"2023-02-29","resolution":"day"}`, false)).To(MatchError("must be a valid date"))
		Expect(Field(fd, `not json`, false)).To(MatchError("must be a valid date"))
		Expect(Field(fd, "", false)).To(Succeed())

		month := &schema.FieldDefinition{Name: "m", Type: schema.MonthType}
		Expect(Field(month, `{"value":"2024-02","resolution":"month"}`, false)).To(Succeed())
		Expect(Field(month, `{"value":"2024-13","resolution":"month"}`, false)).To(MatchError("must be a valid month"))
	})

	It("Should surface the first failing validator only", func() {
		fd := &schema.FieldDefinition{Name: "n", Type: schema.NumberType, MinValue: f64(10)}

		Expect(Field(fd, "", true)).To(MatchError("may not be empty"))
		Expect(Field(fd, "abc", true)).To(MatchError("must be a number"))
		Expect(Field(fd, "5", true)).To(MatchError("must be at least 10"))
	})

	It("Should evaluate custom validation expressions", func() {
		fd := &schema.FieldDefinition{Name: "code", Type: schema.TextType, ValidationExpression: `value startsWith "AB"`}

		Expect(Field(fd, "AB-1", false)).To(Succeed())
		Expect(Field(fd, "XY-1", false)).To(MatchError(ContainSubstring("did not pass validation")))
	})
})

var _ = Describe("RequiredFields", func() {
	widgets := []schema.FieldDefinition{
		{Name: "name"},
		{Name: "pack_years", EnablingConditions: []string{"smoker eq true"}},
		{Name: "smoker"},
	}

	compile := func() []schema.FieldDefinition {
		form := &schema.Form{FormID: "t", Fields: widgets}
		Expect(form.Compile()).To(Succeed())
		return form.Fields
	}

	It("Should flag empty required fields", func() {
		errs := RequiredFields([]string{"name"}, compile(), map[string]any{"name": ""})
		Expect(errs).To(Equal([]Error{{Field: "name", Type: ErrorRequired}}))

		errs = RequiredFields([]string{"name"}, compile(), map[string]any{"name": "x"})
		Expect(errs).To(BeEmpty())
	})

	It("Should exclude fields disabled by their enabling conditions", func() {
		values := map[string]any{"name": "x", "smoker": "false"}

		errs := RequiredFields([]string{"name", "pack_years"}, compile(), values)
		Expect(errs).To(BeEmpty())

		values["smoker"] = "true"
		errs = RequiredFields([]string{"name", "pack_years"}, compile(), values)
		Expect(errs).To(Equal([]Error{{Field: "pack_years", Type: ErrorRequired}}))
	})

	It("Should treat untouched fields as empty", func() {
		errs := RequiredFields([]string{"name"}, compile(), map[string]any{})
		Expect(errs).To(Equal([]Error{{Field: "name", Type: ErrorRequired}}))
	})
})

var _ = Describe("MutexFields", func() {
	mutex := []string{"discharged_home", "discharged_care"}

	It("Should pass when exactly one is filled", func() {
		Expect(MutexFields(mutex, map[string]any{"discharged_home": "yes"})).To(BeEmpty())
	})

	It("Should flag the whole set when none is filled", func() {
		errs := MutexFields(mutex, map[string]any{"discharged_home": "", "discharged_care": ""})
		Expect(errs).To(Equal([]Error{
			{Field: "discharged_home", Type: ErrorMutex},
			{Field: "discharged_care", Type: ErrorMutex},
		}))
	})

	It("Should flag the filled fields when more than one is filled", func() {
		errs := MutexFields(mutex, map[string]any{"discharged_home": "yes", "discharged_care": "yes"})
		Expect(errs).To(HaveLen(2))
	})

	It("Should not enforce anything for an empty mutex set", func() {
		Expect(MutexFields(nil, map[string]any{})).To(BeEmpty())
	})
})

var _ = Describe("Form", func() {
	It("Should combine required and mutex failures", func() {
		form := &schema.Form{FormID: "t", Fields: []schema.FieldDefinition{{Name: "name"}, {Name: "a"}, {Name: "b"}}}
		Expect(form.Compile()).To(Succeed())

		errs := Form(form.Fields, []string{"name"}, []string{"a", "b"}, map[string]any{})
		Expect(errs).To(ContainElement(Error{Field: "name", Type: ErrorRequired}))
		Expect(errs).To(ContainElement(Error{Field: "a", Type: ErrorMutex}))
		Expect(errs).To(HaveLen(3))

		errs = Form(form.Fields, []string{"name"}, []string{"a", "b"}, map[string]any{"name": "x", "a": "1"})
		Expect(errs).To(BeEmpty())
	})
})
