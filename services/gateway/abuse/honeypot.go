// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package abuse implements the bot and abuse defenses that run before
// any content logic: honeypot decoy-field detection, the IP ban
// lifecycle around it, human-verification (Turnstile) token checks, and
// trusted client-IP derivation.
package abuse

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// Detail describes a honeypot hit: which decoy field was filled, the
// ban reason derived from it, and a short opaque snippet of the value
// for audit. The snippet is capped so ban records never retain
// meaningful user content.
type Detail struct {
	Field   string
	Reason  string
	Snippet string
}

const snippetMax = 64

// Detector scans request payloads for filled decoy fields. Field names
// match either the configured list exactly or loosely by containing
// "honeypot", "bot", or "trap".
type Detector struct {
	fields map[string]struct{}
}

// NewDetector builds a detector from the configured decoy field names
// (already lowercased by the config layer).
func NewDetector(fieldNames []string) *Detector {
	fields := make(map[string]struct{}, len(fieldNames))
	for _, f := range fieldNames {
		fields[strings.ToLower(f)] = struct{}{}
	}
	return &Detector{fields: fields}
}

// ScanJSON walks a decoded JSON document depth-first looking for a
// filled honeypot field. The walk is cycle-guarded with a visited set
// and stops at the first hit. Returns nil when the payload is clean.
func (d *Detector) ScanJSON(doc any) *Detail {
	if !shouldTraverse(doc) {
		return nil
	}

	stack := []any{doc}
	seen := make(map[uintptr]struct{})

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if ptr, hasPtr := containerPointer(cur); hasPtr {
			if _, dup := seen[ptr]; dup {
				continue
			}
			seen[ptr] = struct{}{}
		}

		switch node := cur.(type) {
		case map[string]any:
			for key, value := range node {
				if d.matchesFieldName(strings.ToLower(key)) && isFilled(value) {
					return newDetail(key, value)
				}
				if shouldTraverse(value) {
					stack = append(stack, value)
				}
			}
		case []any:
			for i, value := range node {
				key := fmt.Sprintf("%d", i)
				if d.matchesFieldName(key) && isFilled(value) {
					return newDetail(key, value)
				}
				if shouldTraverse(value) {
					stack = append(stack, value)
				}
			}
		}
	}
	return nil
}

// ScanForm checks form-encoded payloads. Only string values exist in a
// form, so "filled" reduces to a non-blank value.
func (d *Detector) ScanForm(form url.Values) *Detail {
	for name, values := range form {
		if !d.matchesFieldName(strings.ToLower(name)) {
			continue
		}
		for _, value := range values {
			if strings.TrimSpace(value) != "" {
				return newDetail(name, value)
			}
		}
	}
	return nil
}

func (d *Detector) matchesFieldName(lower string) bool {
	if lower == "" {
		return false
	}
	if _, ok := d.fields[lower]; ok {
		return true
	}
	return strings.Contains(lower, "honeypot") ||
		strings.Contains(lower, "bot") ||
		strings.Contains(lower, "trap")
}

// isFilled reports whether a value counts as a filled decoy: a
// non-blank string, a non-zero number, or any filled element of an
// array/object. Booleans and nulls never count.
func isFilled(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) != ""
	case float64:
		return val != 0
	case json.Number:
		return val.String() != "0" && val.String() != ""
	case []any:
		for _, item := range val {
			if isFilled(item) {
				return true
			}
		}
		return false
	case map[string]any:
		for _, item := range val {
			if isFilled(item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func shouldTraverse(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// containerPointer returns an identity for maps and slices so the walk
// can skip documents it has already entered.
func containerPointer(v any) (uintptr, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return rv.Pointer(), true
	default:
		return 0, false
	}
}

func newDetail(field string, value any) *Detail {
	var snippet string
	switch val := value.(type) {
	case string:
		snippet = strings.TrimSpace(val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprint(item)
		}
		snippet = strings.Join(parts, ", ")
	case map[string]any:
		raw, err := json.Marshal(val)
		if err == nil {
			snippet = string(raw)
		} else {
			snippet = fmt.Sprint(val)
		}
	default:
		snippet = fmt.Sprint(val)
	}
	if len(snippet) > snippetMax {
		snippet = snippet[:snippetMax]
	}
	return &Detail{
		Field:   field,
		Reason:  "honeypot:" + strings.ToLower(field),
		Snippet: snippet,
	}
}
