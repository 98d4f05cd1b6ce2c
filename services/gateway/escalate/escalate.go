// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package escalate forwards low-confidence chats to the premium
// gateway tier for a second opinion, and mirrors client fallback
// telemetry to an operator webhook. Both paths are best-effort: an
// escalation that fails leaves the original reply in place.
package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
	"github.com/opsonline/chattia-gateway/services/gateway/integrity"
)

// chatPath is appended to the premium base URL.
const chatPath = "/api/chat"

// maxResponseBytes bounds how much of the premium reply we will read.
const maxResponseBytes = 1 << 20

// BodySigner produces the detached body signature attached to
// escalation requests. *integrity.Verifier satisfies it.
type BodySigner interface {
	SignHex(message string) (string, error)
}

// Result is the premium tier's answer.
type Result struct {
	Reply string
	Model string
	Usage *datatypes.TokenUsage
}

// Client talks to the premium tier and the escalation webhook.
//
// # Thread Safety
// Safe for concurrent use; it holds no mutable state.
type Client struct {
	baseURL string
	webhook string
	signer  BodySigner
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds an escalation client. baseURL may be empty, which
// disables premium escalation; webhook may be empty, which disables
// telemetry forwarding. A nil httpClient gets a 15s-timeout default.
func NewClient(baseURL, webhook string, signer BodySigner, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		webhook: webhook,
		signer:  signer,
		http:    httpClient,
		logger:  logger,
	}
}

// Enabled reports whether a premium base URL is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// premiumResponse tolerates the reply field spellings the premium tier
// may use.
type premiumResponse struct {
	Reply      string                `json:"reply"`
	Response   string                `json:"response"`
	Result     string                `json:"result"`
	OutputText string                `json:"output_text"`
	Model      string                `json:"model"`
	XModel     string                `json:"x_model"`
	Usage      *datatypes.TokenUsage `json:"usage"`
}

func (p *premiumResponse) reply() string {
	for _, r := range []string{p.Reply, p.Response, p.Result, p.OutputText} {
		if r != "" {
			return r
		}
	}
	return ""
}

func (p *premiumResponse) model() string {
	if p.Model != "" {
		return p.Model
	}
	if p.XModel != "" {
		return p.XModel
	}
	return "escalated"
}

// Escalate sends the sanitized transcript to the premium tier. The
// integrity headers from the incoming request are forwarded so the
// premium gateway can re-run its own gate, and the outgoing body is
// signed with a detached HMAC so the premium side can verify it came
// from this gateway rather than trusting forwarded headers alone.
//
// A nil result with a nil error means escalation is disabled.
func (c *Client) Escalate(ctx context.Context, messages []datatypes.Message, metadata datatypes.ChatMetadata, incoming http.Header) (*Result, error) {
	if c.baseURL == "" {
		return nil, nil
	}
	target, err := url.JoinPath(c.baseURL, chatPath)
	if err != nil {
		return nil, fmt.Errorf("premium url: %w", err)
	}

	metadata.Escalated = true
	if metadata.Tier == "" {
		metadata.Tier = "premium"
	}
	payload, err := json.Marshal(datatypes.ChatRequest{Messages: messages, Metadata: metadata})
	if err != nil {
		return nil, fmt.Errorf("marshal escalation payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build escalation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, name := range integrity.ForwardedHeaders {
		if v := incoming.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	if c.signer != nil {
		sig, signErr := c.signer.SignHex(string(payload))
		if signErr != nil {
			return nil, fmt.Errorf("sign escalation body: %w", signErr)
		}
		req.Header.Set(integrity.HeaderBodySignature, sig)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("premium request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("premium tier returned %d", res.StatusCode)
	}

	var parsed premiumResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode premium response: %w", err)
	}
	reply := parsed.reply()
	if reply == "" {
		return nil, fmt.Errorf("premium response had no reply")
	}
	return &Result{Reply: reply, Model: parsed.model(), Usage: parsed.Usage}, nil
}

// ForwardTelemetry mirrors a client fallback report to the operator
// webhook in a detached goroutine. Failures are logged at debug and
// otherwise swallowed; the caller has already answered the client.
func (c *Client) ForwardTelemetry(payload map[string]any) {
	if c.webhook == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Debug("telemetry payload not serializable", "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhook, bytes.NewReader(body))
		if err != nil {
			c.logger.Debug("telemetry request build failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := c.http.Do(req)
		if err != nil {
			c.logger.Debug("telemetry forward failed", "error", err)
			return
		}
		io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes)) //nolint:errcheck
		res.Body.Close()
		if res.StatusCode >= 300 {
			c.logger.Debug("telemetry forward rejected", "status", res.StatusCode)
		}
	}()
}
