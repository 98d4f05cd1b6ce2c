// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
)

// OpenAIClient talks to any OpenAI-compatible API. OPENAI_BASE_URL
// points it at alternative providers that speak the same protocol.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient reads OPENAI_API_KEY from the environment, falling
// back to the container secret file.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	cfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); base != "" {
		cfg.BaseURL = strings.TrimSuffix(base, "/")
		slog.Info("Using OpenAI-compatible endpoint", "base_url", cfg.BaseURL)
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}, nil
}

// Chat implements the ModelClient interface.
func (o *OpenAIClient) Chat(ctx context.Context, model string, messages []datatypes.Message, maxTokens int) (string, *datatypes.TokenUsage, error) {
	slog.Debug("Generating chat completion via OpenAI", "model", model, "num_messages", len(messages))

	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    converted,
		Temperature: chatTemperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", nil, fmt.Errorf("OpenAI returned no choices")
	}

	usage := &datatypes.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, usage, nil
}

// Transcribe implements the ModelClient interface.
func (o *OpenAIClient) Transcribe(ctx context.Context, model string, audio io.Reader, filename, language string) (string, error) {
	slog.Debug("Transcribing audio via OpenAI", "model", model, "filename", filename, "language", language)

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		Reader:   audio,
		FilePath: filename,
		Language: language,
	})
	if err != nil {
		slog.Error("OpenAI transcription failed", "error", err)
		return "", fmt.Errorf("OpenAI transcription failed: %w", err)
	}
	return resp.Text, nil
}
