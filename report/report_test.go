// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clindata-io/formflow/persist"
)

func TestReport(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Report")
}

var _ = Describe("Exporter", func() {
	var (
		out string
		sub *persist.Submission
	)

	BeforeEach(func() {
		out = GinkgoT().TempDir()

		sub = &persist.Submission{
			ID:       "sub-1",
			FormID:   "visit",
			Identity: `{"patientId":"P-001"}`,
			Fields: []persist.KV{
				{Key: "visitDate", Value: "2026-08-27"},
				{Key: "smoker", Value: "no"},
			},
			CreatedAt: time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC),
		}
	})

	Describe("New", func() {
		It("Should require an output directory", func() {
			_, err := New(Config{}, nil)
			Expect(err).To(MatchError("output is required"))
		})
	})

	Describe("Go template engine", func() {
		It("Should render submission data with sprig functions", func() {
			x, err := New(Config{OutputDirectory: out}, nil)
			Expect(err).ToNot(HaveOccurred())

			res, err := x.RenderString(`{{ .FormID | upper }} {{ .Identity.patientId }} {{ .Fields.smoker }}`, sub)
			Expect(err).ToNot(HaveOccurred())
			Expect(res).To(Equal("VISIT P-001 no"))
		})

		It("Should write the report and track it", func() {
			x, err := New(Config{OutputDirectory: out}, nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(x.Export("visit.md", []byte(`# {{ .FormID }}`), sub)).To(Succeed())

			data, err := os.ReadFile(filepath.Join(out, "visit.md"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal("# visit"))
			Expect(x.WrittenFiles()).To(Equal([]string{"visit.md"}))
		})

		It("Should skip whitespace only reports when configured", func() {
			x, err := New(Config{OutputDirectory: out, SkipEmpty: true}, nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(x.Export("empty.md", []byte("  \n "), sub)).To(Succeed())
			Expect(x.WrittenFiles()).To(BeEmpty())

			_, err = os.Stat(filepath.Join(out, "empty.md"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("Should refuse writes outside the output directory", func() {
			x, err := New(Config{OutputDirectory: out}, nil)
			Expect(err).ToNot(HaveOccurred())

			err = x.Export("../escape.md", []byte("x"), sub)
			Expect(err).To(MatchError(ContainSubstring("is not in output directory")))
		})
	})

	Describe("Jet engine", func() {
		It("Should render submission data", func() {
			x, err := NewJet(Config{OutputDirectory: out}, nil)
			Expect(err).ToNot(HaveOccurred())

			res, err := x.RenderString(`{{ FormID }}: {{ ID }}`, sub)
			Expect(err).ToNot(HaveOccurred())
			Expect(res).To(Equal("visit: sub-1"))
		})
	})

	Describe("Post processing", func() {
		It("Should run matching commands on written files", func() {
			x, err := New(Config{
				OutputDirectory: out,
				Post:            []map[string]string{{"*.md": "true"}},
			}, nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(x.Export("visit.md", []byte("x"), sub)).To(Succeed())
		})

		It("Should surface post command failures", func() {
			x, err := New(Config{
				OutputDirectory: out,
				Post:            []map[string]string{{"*.md": "false"}},
			}, nil)
			Expect(err).ToNot(HaveOccurred())

			err = x.Export("visit.md", []byte("x"), sub)
			Expect(err).To(MatchError(ContainSubstring("failed to post process")))
		})

		It("Should not run commands for unmatched globs", func() {
			x, err := New(Config{
				OutputDirectory: out,
				Post:            []map[string]string{{"*.pdf": "false"}},
			}, nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(x.Export("visit.md", []byte("x"), sub)).To(Succeed())
		})
	})
})
