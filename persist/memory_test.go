// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clindata-io/formflow/schema"
)

func TestPersist(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Persist")
}

func compiledForm(doc string) *schema.Form {
	form, err := schema.LoadForm([]byte(doc))
	Expect(err).ToNot(HaveOccurred())
	return form
}

var _ = Describe("MemoryStore", func() {
	var (
		store *MemoryStore
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = NewMemoryStore()
		store.RegisterForm(compiledForm(`
formID: patient
name: Patient
studies: [cohort-a]
id_fields: [patient_id]
fields:
  - {name: patient_id, type: text, isID: true}
`), true)
		store.RegisterForm(compiledForm(`
formID: visit
name: Visit
fields:
  - {name: visit_id, type: text, isID: true}
  - {name: patient_ref, type: text, references: patient}
`), false)
	})

	Describe("Forms", func() {
		It("Should resolve the root form per study", func() {
			form, err := store.GetRootForm(ctx, "cohort-a")
			Expect(err).ToNot(HaveOccurred())
			Expect(form.FormID).To(Equal("patient"))

			_, err = store.GetRootForm(ctx, "cohort-x")
			Expect(err).To(MatchError(ContainSubstring("does not apply")))
		})

		It("Should expose identifier and branch fields", func() {
			info, err := store.GetFormIDFields(ctx, "visit")
			Expect(err).ToNot(HaveOccurred())
			Expect(info.BranchFields).To(Equal([]string{"patient_ref"}))
			Expect(info.IDFields).To(HaveLen(1))
			Expect(info.IDFields[0].Name).To(Equal("visit_id"))
		})

		It("Should fail for unknown forms", func() {
			_, err := store.GetForm(ctx, "nope")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Drafts", func() {
		It("Should keep exactly one draft per form and identity", func() {
			id1, err := store.UpsertDraft(ctx, "visit", `{"patient_id":"p1"}`, `{"visit_id":"v1"}`)
			Expect(err).ToNot(HaveOccurred())

			id2, err := store.UpsertDraft(ctx, "visit", `{"patient_id":"p1"}`, `{"visit_id":"v2"}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(id2).To(Equal(id1), "same key overwrites")

			d, err := store.FindDraft(ctx, "visit", `{"patient_id":"p1"}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(d.Data).To(Equal(`{"visit_id":"v2"}`))

			other, err := store.FindDraft(ctx, "visit", `{"patient_id":"p2"}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(other).To(BeNil())
		})

		It("Should delete drafts by id", func() {
			id, err := store.UpsertDraft(ctx, "visit", "i", "d")
			Expect(err).ToNot(HaveOccurred())
			Expect(store.DeleteDraft(ctx, id)).To(Succeed())
			Expect(store.DeleteDraft(ctx, id)).To(MatchError(ErrNotFound))
		})
	})

	Describe("Templates", func() {
		It("Should create, list, fetch and delete templates", func() {
			id, err := store.CreateTemplate(ctx, "visit", "standard visit", `{"smoker":"false"}`)
			Expect(err).ToNot(HaveOccurred())

			list, err := store.FindTemplates(ctx, "visit")
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Name).To(Equal("standard visit"))

			tmpl, err := store.GetTemplate(ctx, id)
			Expect(err).ToNot(HaveOccurred())
			Expect(tmpl.Data).To(Equal(`{"smoker":"false"}`))

			Expect(store.DeleteTemplate(ctx, id)).To(Succeed())
			Expect(store.DeleteTemplate(ctx, id)).To(MatchError(ErrNotFound))
		})
	})

	Describe("Submissions", func() {
		It("Should store submissions and link users", func() {
			id, err := store.CreateSubmission(ctx, "visit", "p1", []KV{{Key: "visit_id", Value: "v1"}})
			Expect(err).ToNot(HaveOccurred())

			Expect(store.LinkUserToSubmission(ctx, id, "dr-jones")).To(Succeed())
			Expect(store.LinkedUsers(id)).To(Equal([]string{"dr-jones"}))

			subs, err := store.FindSubmissions(ctx, "visit", "p1")
			Expect(err).ToNot(HaveOccurred())
			Expect(subs).To(HaveLen(1))

			v, ok := subs[0].FieldValue("visit_id")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal("v1"))
		})
	})

	Describe("Counts", func() {
		BeforeEach(func() {
			for _, v := range []string{"v1", "v2"} {
				_, err := store.CreateSubmission(ctx, "visit", "p1", []KV{
					{Key: "visit_id", Value: v},
					{Key: "patient_ref", Value: "p1"},
				})
				Expect(err).ToNot(HaveOccurred())
			}
		})

		It("Should count identity matches, children and references", func() {
			counts, err := store.Counts(ctx, CountQuery{
				FormID:   "visit",
				Identity: "p1",
				SelfKeys: map[string]string{"visit_id": "v1"},
				References: []ReferenceKey{
					{FormID: "patient", Keys: map[string]string{"patient_ref": "p1"}},
				},
			})
			Expect(err).ToNot(HaveOccurred())

			Expect(counts.Self).To(Equal(1))
			Expect(counts.Children).To(Equal(2))
			Expect(counts.References).To(HaveKeyWithValue("patient", 2))
		})

		It("Should scope counts to the identity", func() {
			counts, err := store.Counts(ctx, CountQuery{FormID: "visit", Identity: "p2"})
			Expect(err).ToNot(HaveOccurred())
			Expect(counts.Children).To(BeZero())
		})
	})
})
