// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package report exports finalized submissions through templates. Two
// template engines are supported, Go text/template with the sprig function
// set and Jet. Written files can be post-processed by external commands
// matched on filename globs, useful for formatters or PDF converters.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"text/template"

	"github.com/CloudyKit/jet/v6"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/clindata-io/formflow/internal/sprig"
	"github.com/clindata-io/formflow/persist"
)

// Config configures an export operation.
type Config struct {
	// OutputDirectory is where rendered reports are written.
	OutputDirectory string `yaml:"output"`
	// Post configures post-processing of written files using filename
	// globs, each map entry being glob to command. The command is
	// shellquote split and "{}" in an argument is replaced with the file
	// path; without a placeholder the path is appended.
	Post []map[string]string `yaml:"post"`
	// SkipEmpty skips reports that render to whitespace only.
	SkipEmpty bool `yaml:"skip_empty"`
}

var errSkippedEmpty = errors.New("skipped rendering")

type engineType int

const (
	engineGoTemplate engineType = iota
	engineJet
)

// Exporter renders submissions through a template engine into the output
// directory.
type Exporter struct {
	cfg      *Config
	engine   engineType
	funcs    template.FuncMap
	jetFuncs map[string]jet.Func
	log      *zap.Logger
	written  []string
}

// New creates an Exporter using Go templates with the sprig function set,
// extended by funcs.
func New(cfg Config, funcs template.FuncMap) (*Exporter, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &Exporter{cfg: &cfg, funcs: funcs, log: zap.NewNop()}, nil
}

// NewJet creates an Exporter using the Jet template engine.
func NewJet(cfg Config, funcs map[string]jet.Func) (*Exporter, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &Exporter{cfg: &cfg, engine: engineJet, jetFuncs: funcs, log: zap.NewNop()}, nil
}

func validateConfig(cfg *Config) error {
	if cfg.OutputDirectory == "" {
		return fmt.Errorf("output is required")
	}

	var err error
	cfg.OutputDirectory, err = filepath.Abs(cfg.OutputDirectory)
	if err != nil {
		return fmt.Errorf("invalid output %s: %v", cfg.OutputDirectory, err)
	}

	return nil
}

// Logger configures the logger, exporters log nothing without one.
func (x *Exporter) Logger(log *zap.Logger) {
	x.log = log
}

// WrittenFiles returns the files written by Export calls, relative to the
// output directory with forward slash separators.
func (x *Exporter) WrittenFiles() []string {
	return x.written
}

// RenderString renders the template against the submission and returns the
// result without writing anything.
func (x *Exporter) RenderString(tmpl string, sub *persist.Submission) (string, error) {
	res, err := x.renderBytes("string", []byte(tmpl), sub)
	if err != nil {
		return "", err
	}

	return string(res), nil
}

// Export renders the template against the submission and writes the result
// to name inside the output directory, then runs post-processing.
func (x *Exporter) Export(name string, tmpl []byte, sub *persist.Submission) error {
	res, err := x.renderBytes(name, tmpl, sub)
	switch {
	case errors.Is(err, errSkippedEmpty):
		x.log.Info("skipping empty report", zap.String("name", name))
		return nil
	case err != nil:
		return err
	}

	out := filepath.Join(x.cfg.OutputDirectory, name)
	if err := x.saveFile(out, res); err != nil {
		return err
	}

	if err := x.postFile(out); err != nil {
		return err
	}

	x.log.Info("exported report", zap.String("file", out))

	return nil
}

// ExportFile reads the template from path and exports it under the
// template's base name with the .tmpl or .jet suffix stripped.
func (x *Exporter) ExportFile(path string, sub *persist.Submission) error {
	tmpl, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".tmpl")
	name = strings.TrimSuffix(name, ".jet")

	return x.Export(name, tmpl, sub)
}

// exportData is the template environment built from one submission. The
// identity JSON is expanded so templates can address its parts directly.
func exportData(sub *persist.Submission) map[string]any {
	fields := map[string]string{}
	var order []string
	for _, f := range sub.Fields {
		fields[f.Key] = f.Value
		order = append(order, f.Key)
	}

	identity := map[string]string{}
	if sub.Identity != "" {
		// best effort, a malformed identity renders as an empty map
		_ = json.Unmarshal([]byte(sub.Identity), &identity)
	}

	return map[string]any{
		"ID":         sub.ID,
		"FormID":     sub.FormID,
		"Identity":   identity,
		"CreatedAt":  sub.CreatedAt,
		"Fields":     fields,
		"FieldOrder": order,
	}
}

func (x *Exporter) renderBytes(name string, tmpl []byte, sub *persist.Submission) ([]byte, error) {
	if sub == nil {
		return nil, fmt.Errorf("submission is required")
	}

	switch x.engine {
	case engineJet:
		return x.renderJet(name, tmpl, exportData(sub))
	default:
		return x.renderGoTemplate(name, tmpl, exportData(sub))
	}
}

func (x *Exporter) renderGoTemplate(name string, tmpl []byte, data map[string]any) ([]byte, error) {
	funcs := sprig.FuncMap()
	for k, v := range x.funcs {
		funcs[k] = v
	}

	t, err := template.New(name).Funcs(funcs).Parse(string(tmpl))
	if err != nil {
		return nil, fmt.Errorf("parsing template %v failed: %w", name, err)
	}

	buf := bytes.NewBuffer([]byte{})
	if err := t.Execute(buf, data); err != nil {
		return nil, err
	}

	if x.cfg.SkipEmpty && len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return nil, errSkippedEmpty
	}

	return buf.Bytes(), nil
}

func (x *Exporter) renderJet(name string, tmpl []byte, data map[string]any) ([]byte, error) {
	loader := jet.NewInMemLoader()
	loader.Set(name, string(tmpl))

	set := jet.NewSet(loader, jet.WithSafeWriter(nil))

	for k, fn := range x.jetFuncs {
		set.AddGlobalFunc(k, fn)
	}

	t, err := set.GetTemplate(name)
	if err != nil {
		return nil, fmt.Errorf("parsing template %v failed: %w", name, err)
	}

	vars := make(jet.VarMap)
	for k, v := range data {
		vars.Set(k, reflect.ValueOf(v))
	}

	buf := bytes.NewBuffer([]byte{})
	if err := t.Execute(buf, vars, data); err != nil {
		return nil, err
	}

	if x.cfg.SkipEmpty && len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return nil, errSkippedEmpty
	}

	return buf.Bytes(), nil
}

func containedInDir(path string, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

func (x *Exporter) saveFile(out string, content []byte) error {
	absOut, err := filepath.Abs(out)
	if err != nil {
		return err
	}

	if !containedInDir(absOut, x.cfg.OutputDirectory) {
		return fmt.Errorf("%s is not in output directory %s", out, x.cfg.OutputDirectory)
	}

	if err := os.MkdirAll(filepath.Dir(absOut), 0755); err != nil {
		return err
	}

	if err := os.WriteFile(absOut, content, 0644); err != nil {
		return err
	}

	rel, err := filepath.Rel(x.cfg.OutputDirectory, absOut)
	if err != nil {
		return err
	}
	x.written = append(x.written, filepath.ToSlash(rel))

	return nil
}

func (x *Exporter) postFile(f string) error {
	for _, p := range x.cfg.Post {
		for g, v := range p {
			matched, err := filepath.Match(g, filepath.Base(f))
			if err != nil {
				return err
			}

			if !matched {
				continue
			}

			parts, err := shellquote.Split(v)
			if err != nil {
				return err
			}

			cmd := parts[0]
			var args []string
			hasPlaceholder := false
			for _, part := range parts[1:] {
				if strings.Contains(part, "{}") {
					args = append(args, strings.ReplaceAll(part, "{}", f))
					hasPlaceholder = true
				} else {
					args = append(args, part)
				}
			}

			if !hasPlaceholder {
				args = append(args, f)
			}

			x.log.Info("post processing", zap.String("command", cmd), zap.Strings("args", args))

			out, err := exec.Command(cmd, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("failed to post process %s\nerror: %w\noutput: %q", f, err, out)
			}
		}
	}

	return nil
}
