// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response structures for the
// gateway's HTTP surface.
//
// This file contains the chat types. Signature-issuance types live in
// issue.go, transcription types in stt.go, and ban records in ban.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes caps a single message's content. Checked in
	// bytes, not runes, to bound memory regardless of encoding.
	MaxMessageContentBytes = 16 * 1024

	// MaxMessagesPerRequest caps the transcript length a client may send.
	MaxMessagesPerRequest = 100
)

// chatValidate is the shared validator for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageContentBytes on a string field.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request Types
// =============================================================================

// Message is a single transcript turn in the standard role/content form.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"maxbytes"`
}

// ChatMetadata carries optional per-request client hints. All fields are
// advisory; absence of any of them must not change correctness, only
// routing (model tier, locale) and strike persistence (session id).
type ChatMetadata struct {
	SessionID      string `json:"session_id,omitempty"`
	Locale         string `json:"locale,omitempty"`
	Tier           string `json:"tier,omitempty"`
	TurnstileToken string `json:"turnstile_token,omitempty"`
	Page           string `json:"page,omitempty"`

	// Escalated marks a request that already passed through the premium
	// tier; it stops escalation loops between gateways.
	Escalated bool `json:"escalated,omitempty"`
}

// ChatRequest is the body of POST /api/chat.
//
// The raw request body is additionally walked for honeypot decoy fields
// before it is bound into this structure, so decoys hidden anywhere in
// the JSON graph are caught even though they have no field here.
type ChatRequest struct {
	Messages []Message    `json:"messages" validate:"required,min=1,max=100,dive"`
	Metadata ChatMetadata `json:"metadata"`
}

// Validate checks the bound request against the declared limits.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// LastUserMessage returns the content of the most recent user turn, or
// "" when the transcript has none.
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// =============================================================================
// Chat Response Types
// =============================================================================

// TokenUsage reports model token consumption for one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the body of a successful POST /api/chat.
//
// Source distinguishes knowledge-base short-circuit answers ("kb") from
// model completions ("model") and policy guard messages ("policy").
type ChatResponse struct {
	Reply             string      `json:"reply"`
	Model             string      `json:"model,omitempty"`
	Source            string      `json:"source,omitempty"`
	KnowledgeID       string      `json:"knowledge_id,omitempty"`
	Language          string      `json:"language,omitempty"`
	Usage             *TokenUsage `json:"usage,omitempty"`
	Confidence        string      `json:"confidence"`
	ConfidenceReasons []string    `json:"confidence_reasons,omitempty"`
	Escalated         bool        `json:"escalated"`
}

// ErrorResponse is the uniform error envelope for rejections. The
// Error field carries the machine-readable reason code. Only the
// turnstile and honeypot gates add fields beyond the code.
type ErrorResponse struct {
	Error string `json:"error"`
}
