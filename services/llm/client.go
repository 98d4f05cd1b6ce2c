// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the model backends the gateway routes chat and
// transcription to. The provider is selected once at startup from
// LLM_BACKEND_TYPE; per-request model names come from the tier routing in
// the gateway config.
package llm

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
)

// chatTemperature is fixed for every completion. The gateway answers
// service questions; it does not need creative variance.
const chatTemperature = 0.3

// ModelClient is the standard interface for any model backend.
type ModelClient interface {
	// Chat runs one completion over the prepared transcript. Usage may
	// be nil when the backend does not meter tokens.
	Chat(ctx context.Context, model string, messages []datatypes.Message, maxTokens int) (string, *datatypes.TokenUsage, error)

	// Transcribe converts audio to text. filename carries the original
	// upload name so the backend can infer the container format;
	// language is an optional ISO hint.
	Transcribe(ctx context.Context, model string, audio io.Reader, filename, language string) (string, error)
}

// New selects the backend from LLM_BACKEND_TYPE ("openai" or "ollama",
// defaulting to openai).
func New() (ModelClient, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_BACKEND_TYPE")))
	switch provider {
	case "", "openai":
		return NewOpenAIClient()
	case "ollama":
		return NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM_BACKEND_TYPE %q", provider)
	}
}
