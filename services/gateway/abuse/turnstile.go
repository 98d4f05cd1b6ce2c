// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package abuse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Rejection is an abuse-gate refusal: a machine-readable code, the HTTP
// status it maps to, and a short detail mirrored to the client in the
// x-turnstile header (verifier error codes for a failed challenge, the
// upstream status for an unreachable one).
type Rejection struct {
	Code   string
	Status int
	Detail string
}

func (r *Rejection) Error() string { return r.Code }

// tokenKeys are the accepted spellings of the challenge token, checked
// in order across body fields and metadata.
var tokenKeys = []string{
	"cf-turnstile-response", "turnstile_response", "turnstile-token",
	"turnstile_token", "turnstileResponse", "turnstileToken", "turnstile",
}

// ExtractToken pulls a challenge token out of a decoded JSON body,
// checking each accepted key and then descending once into a metadata
// object. Returns "" when no token is present.
func ExtractToken(body map[string]any) string {
	if body == nil {
		return ""
	}
	for _, key := range tokenKeys {
		if v, ok := body[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if meta, ok := body["metadata"].(map[string]any); ok {
		for _, key := range tokenKeys {
			if v, ok := meta[key].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// ExtractTokenFromForm pulls a challenge token out of a form payload.
func ExtractTokenFromForm(form url.Values) string {
	for _, key := range tokenKeys {
		if v := strings.TrimSpace(form.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// headerTokenKeys are the header spellings clients may use instead of a
// body field.
var headerTokenKeys = []string{"CF-Turnstile-Response", "X-Turnstile-Token"}

// ExtractTokenFromHeader pulls a challenge token out of request headers.
func ExtractTokenFromHeader(h http.Header) string {
	for _, key := range headerTokenKeys {
		if v := strings.TrimSpace(h.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// Turnstile verifies human-verification tokens against the external
// challenge service. A Turnstile with an empty secret is disabled and
// passes everything.
//
// # Thread Safety
//
// Safe for concurrent use.
type Turnstile struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// NewTurnstile creates a verifier gate. client may be nil, in which
// case http.DefaultClient is used.
func NewTurnstile(secret, verifyURL string, client *http.Client) *Turnstile {
	if client == nil {
		client = http.DefaultClient
	}
	return &Turnstile{secret: secret, verifyURL: verifyURL, client: client}
}

// Enabled reports whether a secret is configured.
func (t *Turnstile) Enabled() bool { return t.secret != "" }

// verifyResult is the subset of the siteverify response we read.
type verifyResult struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify checks a token with the challenge service. remoteIP, when
// known, is forwarded for the service's own correlation. The three
// failure modes are distinct: a missing token (403), an unreachable or
// erroring verifier (502/500), and an explicit verification failure
// (403 with the service's error codes as detail).
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) *Rejection {
	if !t.Enabled() {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return &Rejection{Code: "turnstile_required", Status: 403, Detail: "missing"}
	}

	params := url.Values{}
	params.Set("secret", t.secret)
	params.Set("response", token)
	if remoteIP != "" {
		params.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.verifyURL, strings.NewReader(params.Encode()))
	if err != nil {
		return &Rejection{Code: "turnstile_error", Status: 500, Detail: "exception"}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return &Rejection{Code: "turnstile_error", Status: 500, Detail: "exception"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Rejection{Code: "turnstile_unreachable", Status: 502, Detail: strconv.Itoa(resp.StatusCode)}
	}

	var result verifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &Rejection{Code: "turnstile_error", Status: 500, Detail: "exception"}
	}
	if !result.Success {
		detail := strings.Join(result.ErrorCodes, ",")
		if detail == "" {
			detail = "failed"
		}
		return &Rejection{Code: "turnstile_failed", Status: 403, Detail: detail}
	}
	return nil
}
