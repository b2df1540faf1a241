// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/choria-io/fisk"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	formflow "github.com/clindata-io/formflow"
	"github.com/clindata-io/formflow/persist"
	"github.com/clindata-io/formflow/render"
	"github.com/clindata-io/formflow/report"
	"github.com/clindata-io/formflow/schema"
)

var (
	dbFile       string
	study        string
	userID       string
	identity     map[string]string
	formID       string
	schemaFile   string
	isRoot       bool
	templateID   string
	submissionID string
	templateFile string
	outputDir    string
	engineString string
	post         map[string]string
	debug        bool
	version      string
)

func main() {
	identity = map[string]string{}
	post = map[string]string{}

	app := fisk.New("formflow", "Clinical data capture forms")
	app.Version(version)

	app.Help = `
Fill dynamic clinical capture forms on the terminal, with drafts,
validation, reusable templates and exportable submissions.
`

	app.Flag("db", "SQLite database file").Default("formflow.db").StringVar(&dbFile)
	app.Flag("debug", "Enable debug logging").UnNegatableBoolVar(&debug)

	imp := app.Command("import", "Imports a form schema document").Action(importAction)
	imp.Arg("schema", "YAML schema document to import").Required().ExistingFileVar(&schemaFile)
	imp.Flag("root", "Marks the form as the record root").UnNegatableBoolVar(&isRoot)

	fill := app.Command("fill", "Fills a form interactively and submits it").Action(fillAction)
	fill.Arg("form", "The form to fill").Required().StringVar(&formID)
	fill.Arg("identity", "Identity key values, like patientId=P-001").StringMapVar(&identity)
	fill.Flag("study", "Study context for labels and required fields").StringVar(&study)
	fill.Flag("user", "User to link to the submission").StringVar(&userID)

	templates := app.Command("templates", "Manage reusable value templates")
	tlist := templates.Command("list", "Lists templates for a form").Action(templatesListAction)
	tlist.Arg("form", "The form to list templates for").Required().StringVar(&formID)
	trm := templates.Command("rm", "Removes a template").Action(templatesRmAction)
	trm.Arg("id", "The template to remove").Required().StringVar(&templateID)

	subs := app.Command("submissions", "Manage finalized submissions")
	slist := subs.Command("list", "Lists submissions for a form").Action(submissionsListAction)
	slist.Arg("form", "The form to list submissions for").Required().StringVar(&formID)
	slist.Arg("identity", "Identity key values to scope the listing").StringMapVar(&identity)

	export := app.Command("export", "Exports a submission through a template").Action(exportAction)
	export.Arg("form", "The form the submission belongs to").Required().StringVar(&formID)
	export.Arg("submission", "The submission to export").Required().StringVar(&submissionID)
	export.Arg("template", "Template file to render").Required().ExistingFileVar(&templateFile)
	export.Flag("engine", "The template engine to use (jet, go)").Default("go").EnumVar(&engineString, "jet", "go")
	export.Flag("output", "Directory to write the report into").Default(".").StringVar(&outputDir)
	export.Flag("post", "Post processing steps").PlaceHolder("PATTERN=TOOL").StringMapVar(&post)

	app.MustParseWithUsage(os.Args[1:])
}

func logger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

	return cfg.Build()
}

func openStore(ctx context.Context, log *zap.Logger) (*persist.SQLStore, error) {
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		return nil, err
	}

	store := persist.NewSQLStore(db, log)
	if err := store.CreateSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

func importAction(_ *fisk.ParseContext) error {
	ctx := context.Background()

	log, err := logger()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, log)
	if err != nil {
		return err
	}

	form, err := schema.LoadFormFile(schemaFile)
	if err != nil {
		return err
	}

	if err := store.SaveForm(ctx, form, isRoot); err != nil {
		return err
	}

	fmt.Printf("Imported form %s (%s)\n", form.FormID, form.Name)

	return nil
}

func fillAction(_ *fisk.ParseContext) error {
	ctx := context.Background()

	log, err := logger()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, log)
	if err != nil {
		return err
	}

	statuses := make(chan formflow.Status, 16)

	engine, err := formflow.New(store, formID,
		formflow.WithStudy(study),
		formflow.WithIdentity(identity),
		formflow.WithUser(userID),
		formflow.WithLogger(log),
		formflow.WithNotifications(statuses),
	)
	if err != nil {
		return err
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	if err := await(statuses, formflow.Idle, formflow.Errored); err != nil {
		return err
	}
	if engine.Status() == formflow.Errored {
		return engine.LoadError()
	}

	r := render.New(study, nil)
	if err := r.Fill(engine); err != nil {
		return err
	}

	// let any in-flight autosave finish, then drain stale notifications so
	// the wait below only sees the submission outcome
	if engine.Status() == formflow.Saving {
		if err := await(statuses, formflow.Idle, formflow.Failure); err != nil {
			return err
		}
		if f := engine.LastFailure(); f != nil {
			return fmt.Errorf("%s: %s", f.Title, f.Content)
		}
	}
	for len(statuses) > 0 {
		<-statuses
	}

	engine.Submit()

	if engine.Status() == formflow.Invalid {
		for _, ve := range engine.Snapshot().ValidationErrors {
			fmt.Printf("%s: %s\n", ve.Field, ve.Type)
		}
		return fmt.Errorf("the form is incomplete")
	}

	// the Submitting notification is already buffered, wait for the outcome
	if err := await(statuses, formflow.Idle, formflow.Failure); err != nil {
		return err
	}
	if f := engine.LastFailure(); f != nil {
		return fmt.Errorf("%s: %s", f.Title, f.Content)
	}

	fmt.Println("Submitted")

	return nil
}

// await drains status notifications until one of the wanted states shows
// up, bounded by a generous I/O timeout.
func await(statuses <-chan formflow.Status, wanted ...formflow.Status) error {
	deadline := time.After(time.Minute)

	for {
		select {
		case s := <-statuses:
			for _, w := range wanted {
				if s == w {
					return nil
				}
			}

		case <-deadline:
			return fmt.Errorf("timed out waiting for the form")
		}
	}
}

func templatesListAction(_ *fisk.ParseContext) error {
	ctx := context.Background()

	log, err := logger()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, log)
	if err != nil {
		return err
	}

	templates, err := store.FindTemplates(ctx, formID)
	if err != nil {
		return err
	}

	if len(templates) == 0 {
		fmt.Println("No templates found")
		return nil
	}

	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.SetStyle(table.StyleRounded)
	w.AppendHeader(table.Row{"ID", "Name", "Created"})
	for _, t := range templates {
		w.AppendRow(table.Row{t.ID, t.Name, t.CreatedAt.Format(time.RFC3339)})
	}
	w.Render()

	return nil
}

func templatesRmAction(_ *fisk.ParseContext) error {
	ctx := context.Background()

	log, err := logger()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, log)
	if err != nil {
		return err
	}

	return store.DeleteTemplate(ctx, templateID)
}

func submissionsListAction(_ *fisk.ParseContext) error {
	ctx := context.Background()

	log, err := logger()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, log)
	if err != nil {
		return err
	}

	identityJSON := ""
	if len(identity) > 0 {
		j, err := json.Marshal(identity)
		if err != nil {
			return err
		}
		identityJSON = string(j)
	}

	submissions, err := store.FindSubmissions(ctx, formID, identityJSON)
	if err != nil {
		return err
	}

	if len(submissions) == 0 {
		fmt.Println("No submissions found")
		return nil
	}

	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.SetStyle(table.StyleRounded)
	w.AppendHeader(table.Row{"ID", "Identity", "Fields", "Created"})
	for _, s := range submissions {
		w.AppendRow(table.Row{s.ID, s.Identity, len(s.Fields), s.CreatedAt.Format(time.RFC3339)})
	}
	w.Render()

	return nil
}

func exportAction(_ *fisk.ParseContext) error {
	ctx := context.Background()

	log, err := logger()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, log)
	if err != nil {
		return err
	}

	submissions, err := store.FindSubmissions(ctx, formID, "")
	if err != nil {
		return err
	}

	var sub *persist.Submission
	for i := range submissions {
		if submissions[i].ID == submissionID {
			sub = &submissions[i]
			break
		}
	}
	if sub == nil {
		return fmt.Errorf("unknown submission %s", submissionID)
	}

	cfg := report.Config{OutputDirectory: outputDir, SkipEmpty: true}
	for k, v := range post {
		cfg.Post = append(cfg.Post, map[string]string{k: v})
	}

	var x *report.Exporter
	if engineString == "jet" {
		x, err = report.NewJet(cfg, nil)
	} else {
		x, err = report.New(cfg, nil)
	}
	if err != nil {
		return err
	}
	x.Logger(log)

	if err := x.ExportFile(templateFile, sub); err != nil {
		return err
	}

	for _, f := range x.WrittenFiles() {
		fmt.Printf("Wrote %s\n", f)
	}

	return nil
}
