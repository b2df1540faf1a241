// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"bytes"
	"regexp"
	"strings"
	"text/template"

	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/clindata-io/formflow/internal/sprig"
)

// renderMarkup executes s as a Go template with the sprig function set
// against env, then applies color markup to the result.
func renderMarkup(s string, env map[string]any) (string, error) {
	t, err := template.New("label").Funcs(sprig.TxtFuncMap()).Parse(s)
	if err != nil {
		return "", err
	}

	out := bytes.NewBuffer([]byte{})
	if err := t.Execute(out, env); err != nil {
		return "", err
	}

	return colorMarkup(out.String()), nil
}

var colorTag = regexp.MustCompile(`\{(\w+)\}([^{}]*)\{/(\w+)\}`)

var colorMap = map[string]text.Color{
	"bold":      text.Bold,
	"black":     text.FgBlack,
	"red":       text.FgRed,
	"green":     text.FgGreen,
	"yellow":    text.FgYellow,
	"blue":      text.FgBlue,
	"magenta":   text.FgMagenta,
	"cyan":      text.FgCyan,
	"white":     text.FgWhite,
	"hiblack":   text.FgHiBlack,
	"hired":     text.FgHiRed,
	"higreen":   text.FgHiGreen,
	"hiyellow":  text.FgHiYellow,
	"hiblue":    text.FgHiBlue,
	"himagenta": text.FgHiMagenta,
	"hicyan":    text.FgHiCyan,
	"hiwhite":   text.FgHiWhite,
}

// colorMarkup colorizes tags like {red}text{/red} using the go-pretty
// color set. Nested tags resolve innermost first; unknown color names are
// stripped. Mismatched open and close tags are left untouched.
func colorMarkup(input string) string {
	result := input

	for {
		m := colorTag.FindStringSubmatchIndex(result)
		if m == nil {
			return result
		}

		full := result[m[0]:m[1]]
		open := strings.ToLower(result[m[2]:m[3]])
		content := result[m[4]:m[5]]
		closing := strings.ToLower(result[m[6]:m[7]])

		if open != closing {
			return result
		}

		replacement := content
		if color, ok := colorMap[open]; ok {
			replacement = text.Colors{color}.Sprint(content)
		}

		result = strings.Replace(result, full, replacement, 1)
	}
}
