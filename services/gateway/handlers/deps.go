// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the gateway's HTTP handlers.
//
// Every protected handler runs the same defense ladder before touching
// its payload: active-ban check, integrity gate, honeypot scan,
// turnstile. The ladder lives in shared helpers here so chat and stt
// cannot drift apart.
package handlers

import (
	"crypto/sha512"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsonline/chattia-gateway/services/gateway/abuse"
	"github.com/opsonline/chattia-gateway/services/gateway/config"
	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
	"github.com/opsonline/chattia-gateway/services/gateway/escalate"
	"github.com/opsonline/chattia-gateway/services/gateway/integrity"
	"github.com/opsonline/chattia-gateway/services/gateway/kb"
	"github.com/opsonline/chattia-gateway/services/gateway/observability"
	"github.com/opsonline/chattia-gateway/services/gateway/policy"
	"github.com/opsonline/chattia-gateway/services/gateway/store"
	"github.com/opsonline/chattia-gateway/services/llm"
)

// Deps bundles everything the handlers need. Build once in main and
// pass by reference; all fields are read-only after construction.
type Deps struct {
	Cfg       *config.Gateway
	Verifier  *integrity.Verifier
	KV        *store.KV
	Bans      *store.BanRegistry
	Strikes   *store.StrikeStore
	Honeypot  *abuse.Detector
	Turnstile *abuse.Turnstile
	Policy    *policy.Engine
	KB        *kb.Index
	Models    llm.ModelClient
	Escalator *escalate.Client
	Metrics   *observability.GatewayMetrics
	Logger    *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// =============================================================================
// Response Helpers
// =============================================================================

// rejectJSON writes the uniform error envelope with no-store caching.
func rejectJSON(c *gin.Context, status int, code string) {
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Error: code})
}

// replyDigest is the SHA-512 base64 digest mirrored in
// x-reply-digest-sha512 so clients can verify reply integrity.
func replyDigest(reply string) string {
	sum := sha512.Sum512([]byte(reply))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// clientIP resolves the caller's IP from proxy headers, falling back to
// the socket address.
func clientIP(c *gin.Context) string {
	if ip := abuse.ClientIP(c.Request.Header); ip != "" {
		return ip
	}
	return c.ClientIP()
}

// =============================================================================
// Defense Ladder Helpers
// =============================================================================

// checkBan refuses the request when the caller's IP carries an active
// honeypot ban. Returns true when the request was terminated.
func (d *Deps) checkBan(c *gin.Context, endpoint string) bool {
	ip := clientIP(c)
	if ip == "" {
		return false
	}
	rec, banned, err := d.Bans.Get(c.Request.Context(), ip)
	if err != nil {
		// A broken ban store must not grant free passes silently, but it
		// also must not take the gateway down; log and continue.
		d.logger().Error("ban lookup failed", "error", err, "ip", ip)
		return false
	}
	if !banned {
		return false
	}
	d.Metrics.RecordBannedRequest(endpoint)
	writeBanned(c, rec.Reason, rec.ExpiresAt)
	return true
}

// registerBan records a honeypot hit against the caller's IP and writes
// the blocked response.
func (d *Deps) registerBan(c *gin.Context, endpoint string, hit *abuse.Detail) {
	ip := clientIP(c)
	ttl := time.Duration(d.Cfg.HoneypotBanTTLSeconds) * time.Second
	if ip != "" {
		now := time.Now()
		rec := datatypes.BanRecord{
			Reason:    hit.Reason,
			CreatedAt: now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
			Field:     hit.Field,
			Snippet:   hit.Snippet,
		}
		if err := d.Bans.Ban(c.Request.Context(), ip, rec, ttl); err != nil {
			d.logger().Error("ban write failed", "error", err, "ip", ip)
		}
	}
	d.Metrics.RecordBan(hit.Field)
	d.logger().Warn("honeypot triggered", "endpoint", endpoint, "field", hit.Field, "ip", ip)
	writeBanned(c, hit.Reason, 0)
}

func writeBanned(c *gin.Context, reason string, until int64) {
	if reason == "" {
		reason = "honeypot"
	}
	c.Header("Cache-Control", "no-store")
	c.Header("x-honeypot", "blocked")
	c.Header("x-block-reason", reason)
	body := gin.H{"error": "access_denied", "reason": reason}
	if until > 0 {
		body["blocked_until"] = until
	}
	c.AbortWithStatusJSON(http.StatusForbidden, body)
}

// enforceIntegrity runs the deep integrity check against the raw body.
// Returns true when the request was rejected.
func (d *Deps) enforceIntegrity(c *gin.Context, endpoint, expectedPath string, body []byte) bool {
	h := integrity.HeadersFromRequest(c.Request.Header)
	gateErr := d.Verifier.VerifyRequest(c.Request.Context(), h, c.Request.Method, c.Request.URL.Path, expectedPath, body)
	if gateErr == nil {
		return false
	}
	d.Metrics.RecordGateRejection(endpoint, gateErr.Code)
	rejectJSON(c, gateErr.Status, gateErr.Code)
	return true
}

// enforceTurnstile verifies the human-check token. Returns true when
// the request was rejected. Headers are the fallback token source for
// clients that cannot touch the body.
func (d *Deps) enforceTurnstile(c *gin.Context, token string) bool {
	if token == "" {
		token = abuse.ExtractTokenFromHeader(c.Request.Header)
	}
	rej := d.Turnstile.Verify(c.Request.Context(), token, clientIP(c))
	if rej == nil {
		return false
	}
	d.Metrics.RecordTurnstileRejection(rej.Code)
	c.Header("Cache-Control", "no-store")
	c.Header("x-turnstile", rej.Detail)
	body := gin.H{"error": rej.Code}
	if rej.Code == "turnstile_failed" {
		// Mirror the verifier's error codes so clients can tell an
		// expired token from a bad one.
		body["code"] = rej.Detail
	}
	c.AbortWithStatusJSON(rej.Status, body)
	return true
}

// =============================================================================
// Transcript Helpers
// =============================================================================

// normalizeMessages drops turns without usable content, mirroring what
// clients are allowed to send after trimming.
func normalizeMessages(messages []datatypes.Message) []datatypes.Message {
	out := make([]datatypes.Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// sanitizeUserTurns rewrites user content through the policy sanitizer,
// leaving system and assistant turns untouched.
func sanitizeUserTurns(messages []datatypes.Message) []datatypes.Message {
	out := make([]datatypes.Message, len(messages))
	for i, m := range messages {
		if m.Role == "user" {
			m.Content = policy.Sanitize(m.Content)
		}
		out[i] = m
	}
	return out
}

// lastUserContent returns the most recent user turn's content.
func lastUserContent(messages []datatypes.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
