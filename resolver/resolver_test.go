// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/clindata-io/formflow/persist"
	"github.com/clindata-io/formflow/schema"
)

func TestResolver(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Resolver")
}

var _ = Describe("Bundles", func() {
	widgets := []schema.FieldDefinition{
		{Name: "visit_id", IsID: true},
		{Name: "admission_id", RefForm: "admission"},
		{Name: "admission_ward", RefForm: "admission"},
		{Name: "surgery_id", RefForm: "surgery"},
		{Name: "notes"},
	}

	It("Should group filled foreign keys by referenced form", func() {
		bundles := Bundles(widgets, map[string]any{
			"admission_id":   "a1",
			"admission_ward": "w3",
			"surgery_id":     "s9",
		})

		Expect(bundles).To(Equal([]Bundle{
			{FormID: "admission", Keys: map[string]string{"admission_id": "a1", "admission_ward": "w3"}},
			{FormID: "surgery", Keys: map[string]string{"surgery_id": "s9"}},
		}))
	})

	It("Should drop partially filled bundles", func() {
		bundles := Bundles(widgets, map[string]any{
			"admission_id": "a1",
			"surgery_id":   "s9",
		})

		Expect(bundles).To(Equal([]Bundle{
			{FormID: "surgery", Keys: map[string]string{"surgery_id": "s9"}},
		}))
	})

	It("Should return nothing when no foreign key is filled", func() {
		Expect(Bundles(widgets, map[string]any{"notes": "hello"})).To(BeEmpty())
	})
})

var _ = Describe("CheckSubmit", func() {
	var (
		store *persist.MemoryStore
		res   *Resolver
		visit *schema.Form
		root  *schema.Form
		ctx   context.Context
	)

	submit := func(form *schema.Form, identity string, values map[string]string) {
		var kvs []persist.KV
		for k, v := range values {
			kvs = append(kvs, persist.KV{Key: k, Value: v})
		}
		_, err := store.CreateSubmission(ctx, form.FormID, identity, kvs)
		Expect(err).ToNot(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = persist.NewMemoryStore()
		res = New(store, zap.NewNop())

		var err error
		root, err = schema.LoadForm([]byte(`
formID: patient
id_fields: [patient_id]
fields:
  - {name: patient_id, type: text, isID: true}
`))
		Expect(err).ToNot(HaveOccurred())

		visit, err = schema.LoadForm([]byte(`
formID: visit
id_fields: [visit_id]
cardinality: 2
reference_cardinality:
  admission: 1
fields:
  - {name: visit_id, type: text, isID: true}
  - {name: admission_id, type: text, references: admission}
`))
		Expect(err).ToNot(HaveOccurred())

		store.RegisterForm(root, true)
		store.RegisterForm(visit, false)
	})

	It("Should reject a record whose identifier composition already exists", func() {
		submit(visit, "p1", map[string]string{"visit_id": "v1"})

		err := res.CheckSubmit(ctx, visit, false, "p1", map[string]any{"visit_id": "v1"})
		Expect(err).To(MatchError(ErrAlreadyExists))

		Expect(res.CheckSubmit(ctx, visit, false, "p1", map[string]any{"visit_id": "v2"})).To(Succeed())
	})

	It("Should reject a third child when the limit is two", func() {
		submit(visit, "p1", map[string]string{"visit_id": "v1"})
		submit(visit, "p1", map[string]string{"visit_id": "v2"})

		err := res.CheckSubmit(ctx, visit, false, "p1", map[string]any{"visit_id": "v3"})
		Expect(err).To(MatchError(ErrCardinalityExceeded))
	})

	It("Should scope the child count to the identity", func() {
		submit(visit, "p1", map[string]string{"visit_id": "v1"})
		submit(visit, "p1", map[string]string{"visit_id": "v2"})

		Expect(res.CheckSubmit(ctx, visit, false, "p2", map[string]any{"visit_id": "v1"})).To(Succeed())
	})

	It("Should enforce per reference cardinality for complete bundles", func() {
		submit(visit, "p1", map[string]string{"visit_id": "v1", "admission_id": "a1"})

		err := res.CheckSubmit(ctx, visit, false, "p1", map[string]any{
			"visit_id":     "v2",
			"admission_id": "a1",
		})
		Expect(err).To(MatchError(ErrCardinalityExceeded))

		Expect(res.CheckSubmit(ctx, visit, false, "p1", map[string]any{
			"visit_id":     "v2",
			"admission_id": "a2",
		})).To(Succeed())
	})

	It("Should only check existence for root forms", func() {
		submit(root, "p1", map[string]string{"patient_id": "p1"})

		err := res.CheckSubmit(ctx, root, true, "p1", map[string]any{"patient_id": "p1"})
		Expect(err).To(MatchError(ErrAlreadyExists))

		Expect(res.CheckSubmit(ctx, root, true, "p2", map[string]any{"patient_id": "p2"})).To(Succeed())
	})
})
