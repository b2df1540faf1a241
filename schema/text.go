// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Text is a display string that is either plain or keyed by study context
// with a "default" fallback.
type Text struct {
	plain   string
	byStudy map[string]string
}

// PlainText creates a Text holding a single plain string.
func PlainText(s string) Text {
	return Text{plain: s}
}

// StudyText creates a Text keyed by study context.
func StudyText(m map[string]string) Text {
	return Text{byStudy: m}
}

// Resolve returns the string for the given study, falling back to the
// "default" entry when the study has no specific value or is unset.
func (t Text) Resolve(study string) string {
	if t.byStudy == nil {
		return t.plain
	}

	if study != "" {
		if v, ok := t.byStudy[study]; ok {
			return v
		}
	}

	return t.byStudy["default"]
}

// IsZero reports whether the Text carries no value at all.
func (t Text) IsZero() bool {
	return t.plain == "" && len(t.byStudy) == 0
}

func (t *Text) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&t.plain)
	case yaml.MappingNode:
		return node.Decode(&t.byStudy)
	default:
		return fmt.Errorf("text must be a string or a mapping")
	}
}

func (t Text) MarshalYAML() (any, error) {
	if t.byStudy != nil {
		return t.byStudy, nil
	}

	return t.plain, nil
}

func (t *Text) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &t.plain); err == nil {
		return nil
	}

	return json.Unmarshal(data, &t.byStudy)
}

func (t Text) MarshalJSON() ([]byte, error) {
	if t.byStudy != nil {
		return json.Marshal(t.byStudy)
	}

	return json.Marshal(t.plain)
}

// FieldList is a list of field names that is either flat or keyed by study
// context with a "default" fallback.
type FieldList struct {
	flat    []string
	byStudy map[string][]string
}

// Names creates a flat FieldList.
func Names(names ...string) FieldList {
	return FieldList{flat: names}
}

// StudyNames creates a FieldList keyed by study context.
func StudyNames(m map[string][]string) FieldList {
	return FieldList{byStudy: m}
}

// Resolve returns the names for the given study, falling back to the
// "default" entry when the study has no specific list or is unset.
func (l FieldList) Resolve(study string) []string {
	if l.byStudy == nil {
		return l.flat
	}

	if study != "" {
		if v, ok := l.byStudy[study]; ok {
			return v
		}
	}

	return l.byStudy["default"]
}

func (l *FieldList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&l.flat)
	case yaml.MappingNode:
		return node.Decode(&l.byStudy)
	default:
		return fmt.Errorf("field list must be a sequence or a mapping")
	}
}

func (l FieldList) MarshalYAML() (any, error) {
	if l.byStudy != nil {
		return l.byStudy, nil
	}

	return l.flat, nil
}

func (l *FieldList) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &l.flat); err == nil {
		return nil
	}

	return json.Unmarshal(data, &l.byStudy)
}

func (l FieldList) MarshalJSON() ([]byte, error) {
	if l.byStudy != nil {
		return json.Marshal(l.byStudy)
	}

	return json.Marshal(l.flat)
}
