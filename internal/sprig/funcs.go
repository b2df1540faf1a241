// Copyright (c) 2024-2026, the FormFlow Project contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package sprig wraps the Masterminds sprig function maps, replacing the
// crypto related helpers with implementations backed by crypto/rand.
package sprig

import (
	"crypto/rand"
	"encoding/base64"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
)

func override(funcs template.FuncMap) template.FuncMap {
	funcs["uuidv4"] = func() string { return uuid.New().String() }
	funcs["randBytes"] = func(count int) (string, error) {
		buf := make([]byte, count)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(buf), nil
	}

	return funcs
}

// FuncMap returns the sprig HTML function map with overridden crypto helpers.
func FuncMap() template.FuncMap {
	return override(template.FuncMap(sprig.FuncMap()))
}

// TxtFuncMap returns the sprig text function map with overridden crypto helpers.
func TxtFuncMap() template.FuncMap {
	return override(template.FuncMap(sprig.TxtFuncMap()))
}
