// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"strings"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
)

// Governance prompts injected ahead of every model call, localized.

var systemPrompts = map[string]string{
	"en": "You are Chattia, an empathetic, security-aware assistant. Be concise and actionable. " +
		"Explain step-by-step when useful. Call out cautions. Align with OPS Core CyberSec governance.",
	"es": "Eres Chattia, una asistente empática y consciente de seguridad. Sé concisa y accionable. " +
		"Explica paso a paso cuando ayude. Señala precauciones. Alinea con el marco OPS Core CyberSec.",
}

var languagePrompts = map[string]string{
	"en": "Respond in English unless the user clearly switches language.",
	"es": "Responde en español salvo que la persona cambie claramente de idioma.",
}

var directoryPrompts = map[string]string{
	"en": "OPS Remote Professional Network pillars: Business Operations, Contact Center, IT Support, Professionals On-Demand. " +
		"Tie relevant answers to these pillars when appropriate.",
	"es": "Pilares de OPS Remote Professional Network: Operaciones de Negocio, Contact Center, Soporte TI, Profesionales On-Demand. " +
		"Vincula respuestas relevantes a estos pilares cuando corresponda.",
}

// SystemPrompt returns the localized assistant persona prompt.
func SystemPrompt(locale string) string { return localized(systemPrompts, locale) }

// LanguagePrompt returns the localized reply-language directive.
func LanguagePrompt(locale string) string { return localized(languagePrompts, locale) }

// DirectoryPrompt returns the localized service-directory grounding.
func DirectoryPrompt(locale string) string { return localized(directoryPrompts, locale) }

func localized(set map[string]string, locale string) string {
	if locale == "es" {
		return set["es"]
	}
	return set["en"]
}

// EnsureGovernancePrompts prepends the three governance prompts and
// drops any client-supplied duplicates, so the prompts appear exactly
// once and always first regardless of what the transcript carries.
func EnsureGovernancePrompts(messages []datatypes.Message, locale string) []datatypes.Message {
	directory := DirectoryPrompt(locale)
	system := SystemPrompt(locale)
	language := LanguagePrompt(locale)

	known := map[string]struct{}{
		strings.TrimSpace(directory): {},
		strings.TrimSpace(system):    {},
		strings.TrimSpace(language):  {},
	}

	out := make([]datatypes.Message, 0, len(messages)+3)
	out = append(out,
		datatypes.Message{Role: "system", Content: directory},
		datatypes.Message{Role: "system", Content: system},
		datatypes.Message{Role: "system", Content: language},
	)
	for _, msg := range messages {
		if msg.Role == "system" {
			if _, dup := known[strings.TrimSpace(msg.Content)]; dup {
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}
