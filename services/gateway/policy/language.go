// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"regexp"
	"strings"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
)

// Bilingual support is EN/ES only; every detector defaults to English.

var (
	spanishChars  = regexp.MustCompile(`(?i)[áéíóúñü¿¡]`)
	spanishHints  = regexp.MustCompile(`(?i)(hola|buen[oa]s|gracias|por favor|necesito|operaciones|contacto|contratar|soporte|centro|llamar|consulta|ayuda|descubrimiento)`)
	englishHints  = regexp.MustCompile(`(?i)(hello|hi|please|thanks|support|contact|pricing|order|help|operations|book)`)
	localePattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]{2})?$`)
)

// DetectLanguage guesses "en" or "es" from text: Spanish orthography is
// decisive; otherwise Spanish wins only when Spanish hint words appear
// without English ones.
func DetectLanguage(s string) string {
	if s == "" {
		return "en"
	}
	if spanishChars.MatchString(s) {
		return "es"
	}
	if spanishHints.MatchString(s) && !englishHints.MatchString(s) {
		return "es"
	}
	return "en"
}

// SanitizeLocale validates a BCP-47-ish locale tag (xx or xx-yy),
// returning "en" for anything else.
func SanitizeLocale(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	if localePattern.MatchString(t) {
		return t
	}
	return "en"
}

// PreferredLocale resolves the conversation locale: an explicit
// metadata hint wins, then language detection on the last user turn,
// then English.
func PreferredLocale(messages []datatypes.Message, localeHint string) string {
	hint := SanitizeLocale(localeHint)
	if localeHint != "" {
		if strings.HasPrefix(hint, "es") {
			return "es"
		}
		if strings.HasPrefix(hint, "en") {
			return "en"
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			if DetectLanguage(messages[i].Content) == "es" {
				return "es"
			}
			break
		}
	}
	return "en"
}

// DefaultReply is the fallback when the model returns nothing usable.
func DefaultReply(locale string) string {
	if locale == "es" {
		return "¿En qué puedo ayudarte con OPS hoy?"
	}
	return "How can I help you with OPS today?"
}
