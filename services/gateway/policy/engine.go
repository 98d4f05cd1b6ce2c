// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy implements the content-policy sweep: input
// sanitization, a pattern-based heuristic classifier over the latest
// user turn, and the warn→terminate escalation ladder.
//
// A turn is allowed only when it matches no malicious-intent pattern
// AND contains at least one on-topic keyword. Everything else is
// blocked; the first block in a conversation warns, any later block
// terminates. Prior blocks are counted two ways and the maximum wins:
// guard replies already rendered into the client-supplied transcript,
// and the strike counter persisted per session.
package policy

import (
	"regexp"
	"strings"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
)

// =============================================================================
// Severities
// =============================================================================

const (
	SeverityClear     = "clear"
	SeverityWarn      = "warn"
	SeverityTerminate = "terminate"
)

// Decision is the outcome of one policy sweep.
type Decision struct {
	Blocked  bool
	Severity string
	// Reply is the localized guard message when Blocked.
	Reply string
	// Language is the detected language of the offending turn.
	Language string
	// PriorStrikes is the effective prior block count the severity was
	// derived from.
	PriorStrikes int
}

// =============================================================================
// Guard Messages
// =============================================================================

// WarningMessages and TerminateMessages are the two canonical guard
// replies per language. Their exact wording doubles as state: the
// transcript-derived strike count looks for these strings in assistant
// turns, so they must never be reworded casually.
var WarningMessages = map[string]string{
	"en": "Apologies, but I cannot execute that request, do you have any questions about our website?",
	"es": "Disculpa, no puedo ejecutar esa solicitud. ¿Tienes preguntas sobre nuestro sitio?",
}

var TerminateMessages = map[string]string{
	"en": "Apologies, but I must not continue with this chat and I must end this session.",
	"es": "Disculpa, no debo continuar con este chat y debo terminar la sesión.",
}

var allGuardMessages = []string{
	WarningMessages["en"], WarningMessages["es"],
	TerminateMessages["en"], TerminateMessages["es"],
}

// =============================================================================
// Engine
// =============================================================================

// maliciousPatterns are the fixed threat heuristics, evaluated against
// the sanitized, lowercased last user turn.
var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<[^>]*>`),
	regexp.MustCompile(`script`),
	regexp.MustCompile(`malicious`),
	regexp.MustCompile(`attack`),
	regexp.MustCompile(`ignore`),
	regexp.MustCompile(`prompt`),
	regexp.MustCompile(`hack`),
	regexp.MustCompile(`drop\s+table`),
}

// websiteKeywords is the on-topic allowlist; one substring hit keeps a
// pattern-clean turn in the clear.
var websiteKeywords = []string{
	"website", "site", "chattia", "product", "service", "support",
	"order", "account", "pricing", "contact", "help",
}

// Engine runs the sweep. Stateless; the persisted strike count is
// supplied by the caller per request.
type Engine struct{}

// NewEngine creates a policy engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate sweeps the latest user turn. storedStrikes is the persisted
// per-session block count (0 when sessions are anonymous); the
// effective prior count is the maximum of it and the transcript-derived
// count, so trimming history cannot reset the ladder.
func (e *Engine) Evaluate(messages []datatypes.Message, storedStrikes int) Decision {
	clear := Decision{Severity: SeverityClear}
	if len(messages) == 0 {
		return clear
	}

	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = Sanitize(messages[i].Content)
			break
		}
	}
	if last == "" {
		return clear
	}

	lower := strings.ToLower(last)
	looksBad := false
	for _, rx := range maliciousPatterns {
		if rx.MatchString(lower) {
			looksBad = true
			break
		}
	}
	onTopic := false
	for _, kw := range websiteKeywords {
		if strings.Contains(lower, kw) {
			onTopic = true
			break
		}
	}
	if !looksBad && onTopic {
		return clear
	}

	lang := DetectLanguage(last)
	prior := guardReplyCount(messages)
	if storedStrikes > prior {
		prior = storedStrikes
	}

	if prior >= 1 {
		return Decision{
			Blocked:      true,
			Severity:     SeverityTerminate,
			Reply:        guardMessage(TerminateMessages, lang),
			Language:     lang,
			PriorStrikes: prior,
		}
	}
	return Decision{
		Blocked:      true,
		Severity:     SeverityWarn,
		Reply:        guardMessage(WarningMessages, lang),
		Language:     lang,
		PriorStrikes: prior,
	}
}

// guardReplyCount counts assistant turns already carrying a guard
// message, in either language and either severity.
func guardReplyCount(messages []datatypes.Message) int {
	count := 0
	for _, m := range messages {
		if m.Role != "assistant" {
			continue
		}
		for _, guard := range allGuardMessages {
			if strings.Contains(m.Content, guard) {
				count++
				break
			}
		}
	}
	return count
}

func guardMessage(set map[string]string, lang string) string {
	if msg, ok := set[lang]; ok {
		return msg
	}
	return set["en"]
}

// =============================================================================
// Sanitizer
// =============================================================================

var (
	tagPattern      = regexp.MustCompile(`<[^>]*>`)
	jsProtoPattern  = regexp.MustCompile(`(?i)javascript:`)
	dataHTMLPattern = regexp.MustCompile(`(?i)data:text/html[^\s]*`)
	eventAttr       = regexp.MustCompile(`(?i)on\w+\s*=`)
	controlChars    = regexp.MustCompile("[^\t\n\r\x20-\x7E\u00a0-\uffff]")
	spaceRuns       = regexp.MustCompile(`\s+`)
)

// Sanitize strips markup, script-bearing URI schemes, inline event
// handlers, and control characters, then collapses whitespace. Applied
// to every user turn before policy evaluation and model submission.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = tagPattern.ReplaceAllString(s, " ")
	s = jsProtoPattern.ReplaceAllString(s, "")
	s = dataHTMLPattern.ReplaceAllString(s, "")
	s = eventAttr.ReplaceAllString(s, " ")
	s = controlChars.ReplaceAllString(s, "")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
