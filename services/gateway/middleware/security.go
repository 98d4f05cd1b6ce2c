// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the gateway service.
//
// The security middleware stamps every response, success or rejection,
// with the same strict header set: locked-down CSP, CORS
// against the origin allowlist, and the integrity mirror headers that
// let clients verify which gateway answered them.
package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opsonline/chattia-gateway/services/gateway/config"
	"github.com/opsonline/chattia-gateway/services/gateway/integrity"
)

// =============================================================================
// Constants
// =============================================================================

// allowedRequestHeaders is the CORS allowlist for preflight responses.
const allowedRequestHeaders = "Content-Type, X-Integrity, X-Integrity-Gateway, X-Integrity-Protocols, " +
	"X-Request-Signature, X-Request-Timestamp, X-Request-Nonce, X-OPS-Signature, X-OPS-Timestamp, " +
	"X-OPS-Nonce, CF-Turnstile-Response, X-Turnstile-Token, X-OPS-Channella, X-Integrity-Key, X-Channella-Pub"

// requestIDKey is the context key for the per-request ID.
const requestIDKey = "chattia_request_id"

// =============================================================================
// Request ID Middleware
// =============================================================================

// RequestID assigns each request a UUID, exposed to handlers via
// GetRequestID and mirrored in the X-Request-ID response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// GetRequestID returns the request's assigned ID, or "" outside the
// middleware.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// =============================================================================
// Security Headers Middleware
// =============================================================================

// Security returns the response-hardening middleware. channella is the
// canonical channel key resolved once at startup; it is mirrored on
// every response so clients can echo it back on their next request.
//
// The middleware also answers CORS preflights for the protected route
// prefixes with 204, short-circuiting the handler chain.
func Security(cfg *config.Gateway, channella string) gin.HandlerFunc {
	allowed := buildAllowedOrigins(cfg)

	return func(c *gin.Context) {
		h := c.Writer.Header()

		if origin := allowedOrigin(c.GetHeader("Origin"), allowed, cfg); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Vary", mergeVary(h.Get("Vary"), "Origin"))
		}

		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", allowedRequestHeaders)
		h.Set("Access-Control-Max-Age", "600")

		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none';")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Permissions-Policy", "microphone=(),camera=(),geolocation=()")
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")

		h.Set(integrity.HeaderIntegrity, cfg.IntegrityValue)
		h.Set("Integrity", cfg.IntegrityValue)
		h.Set(integrity.HeaderIntegrityGateway, cfg.IntegrityGateway)
		h.Set(integrity.HeaderIntegrityProtocols, cfg.IntegrityProtocols)
		h.Set("X-OPS-CYSEC-CORE", "active")
		h.Set("X-Compliance-Frameworks", cfg.IntegrityProtocols)
		h.Set(integrity.HeaderIntegrityKey, channella)
		h.Set(integrity.HeaderChannella, channella)

		if nonce := strings.TrimSpace(c.GetHeader(integrity.HeaderSessionNonce)); nonce != "" {
			h.Set(integrity.HeaderSessionNonce, nonce)
		}

		if c.Request.Method == http.MethodOptions && protectedPrefix(c.Request.URL.Path) {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// =============================================================================
// Origin Allowlist
// =============================================================================

func protectedPrefix(path string) bool {
	return strings.HasPrefix(path, "/api/") ||
		strings.HasPrefix(path, "/auth/") ||
		strings.HasPrefix(path, "/fallback/")
}

// buildAllowedOrigins returns the lowercase static allowlist: the
// configured origins plus the integrity gateway itself.
func buildAllowedOrigins(cfg *config.Gateway) map[string]struct{} {
	set := make(map[string]struct{})
	for _, o := range cfg.AllowedOrigins {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			set[o] = struct{}{}
		}
	}
	set[strings.ToLower(cfg.IntegrityGateway)] = struct{}{}
	return set
}

// allowedOrigin echoes the request origin when it is allowlisted, or
// when it lives under a development suffix the config opted into.
func allowedOrigin(origin string, allowed map[string]struct{}, cfg *config.Gateway) string {
	norm := strings.ToLower(strings.TrimSpace(origin))
	if norm == "" {
		return ""
	}
	if _, ok := allowed[norm]; ok {
		return norm
	}
	if cfg.AllowWorkersDev && hostSuffix(norm, ".workers.dev") {
		return origin
	}
	if cfg.AllowDash && hostSuffix(norm, ".dash.cloudflare.com") {
		return origin
	}
	return ""
}

func hostSuffix(origin, suffix string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return strings.HasSuffix(u.Hostname(), suffix)
}

func mergeVary(existing, value string) string {
	if existing == "" {
		return value
	}
	for _, part := range strings.Split(existing, ",") {
		if strings.EqualFold(strings.TrimSpace(part), value) {
			return existing
		}
	}
	return existing + ", " + value
}
