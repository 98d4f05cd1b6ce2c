// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package confidence grades model replies. The grade drives escalation:
// low-confidence replies get a second opinion from the premium tier.
// Replies default to low unless they are substantial and on-topic.
package confidence

import (
	"regexp"
	"strings"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
)

// Confidence levels, surfaced to clients in x-confidence-level.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Reason codes, surfaced to clients in x-confidence-reasons.
const (
	ReasonEmpty         = "empty"
	ReasonUncertainTone = "uncertain_tone"
	ReasonBrief         = "brief"
	ReasonRichContext   = "rich_service_context"
	ReasonDefault       = "default"
	ReasonEscalated     = "escalated"
	ReasonWebsiteKB     = "website_kb"
	ReasonPolicyGuard   = "policy_guard"
)

// Thresholds for the length-based rules, in reply characters and total
// completion tokens.
const (
	briefCharFloor  = 180
	briefTokenFloor = 300
	richCharFloor   = 240
)

var (
	uncertainPattern = regexp.MustCompile(`(?i)(i\s+(am|'m)\s+(not\s+)?sure|i\s+(do\s+not|don't)\s+know|unable to|cannot|can't|no\s+estoy\s+segur[ao]|no\s+sé|no\s+puedo)`)
	refusalPattern   = regexp.MustCompile(`(?i)(i\s*am\s*sorry|i'm\s*sorry|cannot\s+comply|unable\s+to\s+assist|lo\s+siento|no\s+puedo\s+cumplir)`)
	// Phrases that mark a reply as grounded in the service directory.
	informativePattern = regexp.MustCompile(`(?i)(business operations|operaciones de negocio|contact center|centro de contacto|it support|soporte ti|professionals|profesionales)`)
)

// Assessment is the confidence grade for one reply.
type Assessment struct {
	Level   string
	Reasons []string
}

// Assess grades a model reply. Rules apply in order: an empty reply and
// an uncertain or apologetic tone are low outright; short replies are
// low; long replies anchored in the service directory are high;
// everything else lands at medium. A nil usage counts as zero tokens,
// which keeps unmetered replies conservative.
func Assess(reply string, usage *datatypes.TokenUsage) Assessment {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return Assessment{Level: LevelLow, Reasons: []string{ReasonEmpty}}
	}
	if uncertainPattern.MatchString(trimmed) || refusalPattern.MatchString(trimmed) {
		return Assessment{Level: LevelLow, Reasons: []string{ReasonUncertainTone}}
	}

	totalTokens := 0
	if usage != nil {
		totalTokens = usage.TotalTokens
	}
	if len(trimmed) < briefCharFloor || totalTokens < briefTokenFloor {
		return Assessment{Level: LevelLow, Reasons: []string{ReasonBrief}}
	}
	if informativePattern.MatchString(trimmed) && len(trimmed) >= richCharFloor {
		return Assessment{Level: LevelHigh, Reasons: []string{ReasonRichContext}}
	}
	return Assessment{Level: LevelMedium, Reasons: []string{ReasonDefault}}
}
