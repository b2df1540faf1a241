// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clindata-io/formflow/schema"
)

// SQLStore implements Store on a database/sql handle. Form definitions and
// submitted field lists are stored as JSON documents so the SQL stays
// portable; key matching for count queries happens after the scan.
type SQLStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLStore creates a store over an open database handle.
func NewSQLStore(db *sql.DB, log *zap.Logger) *SQLStore {
	if log == nil {
		log = zap.NewNop()
	}

	return &SQLStore{db: db, log: log}
}

// CreateSchema creates the backing tables when they do not exist yet.
func (s *SQLStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS forms (
			form_id    TEXT PRIMARY KEY,
			is_root    INTEGER NOT NULL DEFAULT 0,
			definition TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS drafts (
			id          TEXT PRIMARY KEY,
			form_id     TEXT NOT NULL,
			identity    TEXT NOT NULL,
			data        TEXT NOT NULL,
			last_update TIMESTAMP NOT NULL,
			UNIQUE (form_id, identity)
		);

		CREATE TABLE IF NOT EXISTS templates (
			id         TEXT PRIMARY KEY,
			form_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			data       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS submissions (
			id         TEXT PRIMARY KEY,
			form_id    TEXT NOT NULL,
			identity   TEXT NOT NULL,
			fields     TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_submissions_form_identity
			ON submissions (form_id, identity);

		CREATE TABLE IF NOT EXISTS submission_users (
			submission_id TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			PRIMARY KEY (submission_id, user_id)
		);
	`)

	return err
}

// SaveForm stores or replaces a form definition.
func (s *SQLStore) SaveForm(ctx context.Context, form *schema.Form, root bool) error {
	definition, err := json.Marshal(form)
	if err != nil {
		return err
	}

	isRoot := 0
	if root {
		isRoot = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forms (form_id, is_root, definition) VALUES (?, ?, ?)
		ON CONFLICT (form_id) DO UPDATE SET is_root = excluded.is_root, definition = excluded.definition`,
		form.FormID, isRoot, string(definition))

	return err
}

func (s *SQLStore) scanForm(row *sql.Row) (*schema.Form, error) {
	var definition string
	if err := row.Scan(&definition); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	form, err := schema.LoadFormJSON([]byte(definition))
	if err != nil {
		return nil, fmt.Errorf("stored form definition is invalid: %w", err)
	}

	return form, nil
}

func (s *SQLStore) GetRootForm(ctx context.Context, study string) (*schema.Form, error) {
	form, err := s.scanForm(s.db.QueryRowContext(ctx, `SELECT definition FROM forms WHERE is_root = 1`))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("no root form registered")
		}
		return nil, err
	}

	if !form.AppliesTo(study) {
		return nil, fmt.Errorf("root form %s does not apply to study %q", form.FormID, study)
	}

	return form, nil
}

func (s *SQLStore) GetForm(ctx context.Context, formID string) (*schema.Form, error) {
	form, err := s.scanForm(s.db.QueryRowContext(ctx, `SELECT definition FROM forms WHERE form_id = ?`, formID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("form %s: %w", formID, ErrNotFound)
		}
		return nil, err
	}

	return form, nil
}

func (s *SQLStore) GetFormFields(ctx context.Context, formID string, study string) ([]schema.FieldDefinition, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !form.AppliesTo(study) {
		return nil, fmt.Errorf("form %s does not apply to study %q", formID, study)
	}

	return form.Fields, nil
}

func (s *SQLStore) GetFormIDFields(ctx context.Context, formID string) (*IDFieldInfo, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}

	info := &IDFieldInfo{FormID: form.FormID, IDFields: form.IDFieldDefs()}
	for _, fd := range form.Fields {
		if fd.RefForm != "" {
			info.BranchFields = append(info.BranchFields, fd.Name)
		}
	}

	return info, nil
}

func (s *SQLStore) FindDraft(ctx context.Context, formID string, identity string) (*Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, form_id, identity, data, last_update FROM drafts
		WHERE form_id = ? AND identity = ?`, formID, identity)

	d := &Draft{}
	err := row.Scan(&d.ID, &d.FormID, &d.Identity, &d.Data, &d.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return d, nil
}

func (s *SQLStore) UpsertDraft(ctx context.Context, formID string, identity string, data string) (string, error) {
	existing, err := s.FindDraft(ctx, formID, identity)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()

	if existing != nil {
		_, err = s.db.ExecContext(ctx, `UPDATE drafts SET data = ?, last_update = ? WHERE id = ?`,
			data, now, existing.ID)
		if err != nil {
			return "", err
		}

		return existing.ID, nil
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, form_id, identity, data, last_update) VALUES (?, ?, ?, ?, ?)`,
		id, formID, identity, data, now)
	if err != nil {
		return "", err
	}

	return id, nil
}

func (s *SQLStore) DeleteDraft(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "drafts", id)
}

func (s *SQLStore) CreateTemplate(ctx context.Context, formID string, name string, data string) (string, error) {
	id := uuid.New().String()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, form_id, name, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, formID, name, data, time.Now().UTC())
	if err != nil {
		return "", err
	}

	return id, nil
}

func (s *SQLStore) FindTemplates(ctx context.Context, formID string) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, name, data, created_at FROM templates WHERE form_id = ? ORDER BY name`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.FormID, &t.Name, &t.Data, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

func (s *SQLStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, form_id, name, data, created_at FROM templates WHERE id = ?`, id)

	t := &Template{}
	err := row.Scan(&t.ID, &t.FormID, &t.Name, &t.Data, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return t, nil
}

func (s *SQLStore) DeleteTemplate(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "templates", id)
}

func (s *SQLStore) CreateSubmission(ctx context.Context, formID string, identity string, fields []KV) (string, error) {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, form_id, identity, fields, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, formID, identity, string(encoded), time.Now().UTC())
	if err != nil {
		return "", err
	}

	return id, nil
}

func (s *SQLStore) DeleteSubmission(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "submissions", id)
}

func (s *SQLStore) LinkUserToSubmission(ctx context.Context, submissionID string, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submission_users (submission_id, user_id) VALUES (?, ?)`, submissionID, userID)

	return err
}

func (s *SQLStore) FindSubmissions(ctx context.Context, formID string, identity string) ([]Submission, error) {
	query := `SELECT id, form_id, identity, fields, created_at FROM submissions WHERE form_id = ?`
	args := []any{formID}
	if identity != "" {
		query += ` AND identity = ?`
		args = append(args, identity)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		var fields string
		if err := rows.Scan(&sub.ID, &sub.FormID, &sub.Identity, &fields, &sub.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fields), &sub.Fields); err != nil {
			s.log.Warn("skipping submission with invalid field data", zap.String("id", sub.ID), zap.Error(err))
			continue
		}
		out = append(out, sub)
	}

	return out, rows.Err()
}

// Counts scans the identity's submissions for the form and counts matches
// in process, keeping the SQL free of JSON operators.
func (s *SQLStore) Counts(ctx context.Context, q CountQuery) (*Counts, error) {
	subs, err := s.FindSubmissions(ctx, q.FormID, q.Identity)
	if err != nil {
		return nil, err
	}

	counts := &Counts{References: map[string]int{}}
	for i := range subs {
		sub := &subs[i]
		counts.Children++

		if len(q.SelfKeys) > 0 && matchesKeys(sub, q.SelfKeys) {
			counts.Self++
		}

		for _, ref := range q.References {
			if matchesKeys(sub, ref.Keys) {
				counts.References[ref.FormID]++
			}
		}
	}

	return counts, nil
}

func (s *SQLStore) deleteByID(ctx context.Context, table string, id string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", table[:len(table)-1], id, ErrNotFound)
	}

	return nil
}
