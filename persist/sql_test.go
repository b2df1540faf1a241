// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("SQLStore", func() {
	var (
		db    *sql.DB
		mock  sqlmock.Sqlmock
		store *SQLStore
		ctx   context.Context
	)

	BeforeEach(func() {
		var err error
		db, mock, err = sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		store = NewSQLStore(db, zap.NewNop())
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
		db.Close()
	})

	Describe("FindDraft", func() {
		It("Should return nil when no draft exists", func() {
			mock.ExpectQuery(`SELECT id, form_id, identity, data, last_update FROM drafts`).
				WithArgs("visit", "p1").
				WillReturnError(sql.ErrNoRows)

			d, err := store.FindDraft(ctx, "visit", "p1")
			Expect(err).ToNot(HaveOccurred())
			Expect(d).To(BeNil())
		})

		It("Should scan the stored draft", func() {
			when := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
			rows := sqlmock.NewRows([]string{"id", "form_id", "identity", "data", "last_update"}).
				AddRow("d1", "visit", "p1", `{"visit_id":"v1"}`, when)

			mock.ExpectQuery(`SELECT id, form_id, identity, data, last_update FROM drafts`).
				WithArgs("visit", "p1").
				WillReturnRows(rows)

			d, err := store.FindDraft(ctx, "visit", "p1")
			Expect(err).ToNot(HaveOccurred())
			Expect(d.ID).To(Equal("d1"))
			Expect(d.Data).To(Equal(`{"visit_id":"v1"}`))
			Expect(d.LastUpdate).To(Equal(when))
		})
	})

	Describe("UpsertDraft", func() {
		It("Should update an existing draft in place", func() {
			rows := sqlmock.NewRows([]string{"id", "form_id", "identity", "data", "last_update"}).
				AddRow("d1", "visit", "p1", `old`, time.Now())

			mock.ExpectQuery(`SELECT id, form_id, identity, data, last_update FROM drafts`).
				WithArgs("visit", "p1").
				WillReturnRows(rows)
			mock.ExpectExec(`UPDATE drafts SET data = \?, last_update = \? WHERE id = \?`).
				WithArgs("new", sqlmock.AnyArg(), "d1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			id, err := store.UpsertDraft(ctx, "visit", "p1", "new")
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(Equal("d1"))
		})

		It("Should insert a fresh draft when none exists", func() {
			mock.ExpectQuery(`SELECT id, form_id, identity, data, last_update FROM drafts`).
				WithArgs("visit", "p1").
				WillReturnError(sql.ErrNoRows)
			mock.ExpectExec(`INSERT INTO drafts`).
				WithArgs(sqlmock.AnyArg(), "visit", "p1", "new", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			id, err := store.UpsertDraft(ctx, "visit", "p1", "new")
			Expect(err).ToNot(HaveOccurred())
			Expect(id).ToNot(BeEmpty())
		})
	})

	Describe("Submissions", func() {
		It("Should insert the encoded field list", func() {
			mock.ExpectExec(`INSERT INTO submissions`).
				WithArgs(sqlmock.AnyArg(), "visit", "p1", `[{"key":"visit_id","value":"v1"}]`, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			_, err := store.CreateSubmission(ctx, "visit", "p1", []KV{{Key: "visit_id", Value: "v1"}})
			Expect(err).ToNot(HaveOccurred())
		})

		It("Should count children, self matches and references from scanned rows", func() {
			rows := sqlmock.NewRows([]string{"id", "form_id", "identity", "fields", "created_at"}).
				AddRow("s1", "visit", "p1", `[{"key":"visit_id","value":"v1"},{"key":"patient_ref","value":"p1"}]`, time.Now()).
				AddRow("s2", "visit", "p1", `[{"key":"visit_id","value":"v2"},{"key":"patient_ref","value":"p1"}]`, time.Now())

			mock.ExpectQuery(`SELECT id, form_id, identity, fields, created_at FROM submissions`).
				WithArgs("visit", "p1").
				WillReturnRows(rows)

			counts, err := store.Counts(ctx, CountQuery{
				FormID:   "visit",
				Identity: "p1",
				SelfKeys: map[string]string{"visit_id": "v2"},
				References: []ReferenceKey{
					{FormID: "patient", Keys: map[string]string{"patient_ref": "p1"}},
				},
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(counts.Self).To(Equal(1))
			Expect(counts.Children).To(Equal(2))
			Expect(counts.References).To(HaveKeyWithValue("patient", 2))
		})
	})

	Describe("deleteByID", func() {
		It("Should report missing rows as not found", func() {
			mock.ExpectExec(`DELETE FROM templates WHERE id = \?`).
				WithArgs("t1").
				WillReturnResult(sqlmock.NewResult(0, 0))

			Expect(store.DeleteTemplate(ctx, "t1")).To(MatchError(ErrNotFound))
		})
	})
})
