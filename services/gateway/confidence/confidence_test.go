// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package confidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
)

func usage(total int) *datatypes.TokenUsage {
	return &datatypes.TokenUsage{TotalTokens: total}
}

// padTo extends s with filler sentences until it reaches at least n
// characters, avoiding any of the tone or directory trigger phrases.
func padTo(s string, n int) string {
	var b strings.Builder
	b.WriteString(s)
	for b.Len() < n {
		b.WriteString(" The team reviews each request and shares a clear plan with next steps.")
	}
	return b.String()
}

func TestAssess(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		usage      *datatypes.TokenUsage
		wantLevel  string
		wantReason string
	}{
		{"empty", "", usage(500), LevelLow, ReasonEmpty},
		{"whitespace only", "   \n\t ", usage(500), LevelLow, ReasonEmpty},
		{"uncertain english", padTo("I'm not sure that applies here.", 400), usage(500), LevelLow, ReasonUncertainTone},
		{"uncertain spanish", padTo("No estoy segura de eso.", 400), usage(500), LevelLow, ReasonUncertainTone},
		{"refusal", padTo("I'm sorry, that falls outside what I help with.", 400), usage(500), LevelLow, ReasonUncertainTone},
		{"brief by chars", "Short answer.", usage(500), LevelLow, ReasonBrief},
		{"brief by tokens", padTo("A detailed plan follows.", 300), usage(100), LevelLow, ReasonBrief},
		{"brief with nil usage", padTo("A detailed plan follows.", 300), nil, LevelLow, ReasonBrief},
		{
			"rich service context",
			padTo("Business Operations covers billing, payables, and vendor coordination for your team.", 300),
			usage(500), LevelHigh, ReasonRichContext,
		},
		{
			"rich spanish context",
			padTo("Operaciones de Negocio cubre facturación y coordinación con proveedores para tu equipo.", 300),
			usage(500), LevelHigh, ReasonRichContext,
		},
		{
			"long but generic",
			padTo("Here is a detailed answer about your question.", 300),
			usage(500), LevelMedium, ReasonDefault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assess(tt.reply, tt.usage)
			assert.Equal(t, tt.wantLevel, got.Level)
			assert.Equal(t, []string{tt.wantReason}, got.Reasons)
		})
	}
}

// Rule order matters: an uncertain tone wins over length, and the
// brief check runs before the rich-context check.
func TestAssess_RuleOrder(t *testing.T) {
	long := padTo("I don't know how Business Operations handles that.", 400)
	got := Assess(long, usage(500))
	assert.Equal(t, LevelLow, got.Level)
	assert.Equal(t, []string{ReasonUncertainTone}, got.Reasons)

	shortRich := "Business Operations covers billing and vendor coordination."
	got = Assess(shortRich, usage(500))
	assert.Equal(t, LevelLow, got.Level)
	assert.Equal(t, []string{ReasonBrief}, got.Reasons)
}
