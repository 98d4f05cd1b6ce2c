// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsonline/chattia-gateway/services/gateway/config"
	"github.com/opsonline/chattia-gateway/services/gateway/integrity"
)

func testConfig() *config.Gateway {
	return &config.Gateway{
		IntegrityValue:     config.DefaultIntegrityValue,
		IntegrityGateway:   config.DefaultIntegrityGateway,
		IntegrityProtocols: config.DefaultIntegrityProtocols,
		AllowedOrigins:     []string{"https://chattiavato-a11y.github.io"},
	}
}

func testRouter(cfg *config.Gateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Security(cfg, "ops-channella-v1"))
	r.POST("/api/chat", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r
}

func TestSecurity_StampsResponseHeaders(t *testing.T) {
	r := testRouter(testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	r.ServeHTTP(w, req)

	h := w.Header()
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'; base-uri 'none';", h.Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.Equal(t, "same-origin", h.Get("Referrer-Policy"))
	assert.Equal(t, "microphone=(),camera=(),geolocation=()", h.Get("Permissions-Policy"))
	assert.Equal(t, "max-age=63072000; includeSubDomains; preload", h.Get("Strict-Transport-Security"))

	assert.Equal(t, config.DefaultIntegrityValue, h.Get(integrity.HeaderIntegrity))
	assert.Equal(t, config.DefaultIntegrityValue, h.Get("Integrity"))
	assert.Equal(t, config.DefaultIntegrityGateway, h.Get(integrity.HeaderIntegrityGateway))
	assert.Equal(t, config.DefaultIntegrityProtocols, h.Get(integrity.HeaderIntegrityProtocols))
	assert.Equal(t, "active", h.Get("X-OPS-CYSEC-CORE"))
	assert.Equal(t, config.DefaultIntegrityProtocols, h.Get("X-Compliance-Frameworks"))
	assert.Equal(t, "ops-channella-v1", h.Get(integrity.HeaderIntegrityKey))
	assert.Equal(t, "ops-channella-v1", h.Get(integrity.HeaderChannella))
}

func TestSecurity_CORSForAllowedOrigin(t *testing.T) {
	r := testRouter(testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Origin", "https://chattiavato-a11y.github.io")
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://chattiavato-a11y.github.io", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Vary"), "Origin")
}

func TestSecurity_GatewayOriginAlwaysAllowed(t *testing.T) {
	r := testRouter(testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Origin", config.DefaultIntegrityGateway)
	r.ServeHTTP(w, req)

	assert.Equal(t, config.DefaultIntegrityGateway, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurity_UnknownOriginGetsNoCORSGrant(t *testing.T) {
	r := testRouter(testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Origin", "https://evil.example")
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	// Hardening headers still apply.
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestSecurity_DevelopmentSuffixes(t *testing.T) {
	cfg := testConfig()
	cfg.AllowWorkersDev = true
	r := testRouter(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Origin", "https://my-app.example.workers.dev")
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://my-app.example.workers.dev", w.Header().Get("Access-Control-Allow-Origin"))

	// Dash origins stay blocked unless opted in.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Origin", "https://x.dash.cloudflare.com")
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurity_PreflightShortCircuits(t *testing.T) {
	cfg := testConfig()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Security(cfg, "ops-channella-v1"))
	handlerRan := false
	r.OPTIONS("/api/chat", func(c *gin.Context) { handlerRan = true })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://chattiavato-a11y.github.io")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, handlerRan)
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
}

func TestSecurity_EchoesSessionNonce(t *testing.T) {
	r := testRouter(testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set(integrity.HeaderSessionNonce, " abc123 ")
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc123", w.Header().Get(integrity.HeaderSessionNonce))
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var inHandler string
	r.GET("/x", func(c *gin.Context) {
		inHandler = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.NotEmpty(t, inHandler)
	assert.Equal(t, inHandler, w.Header().Get("X-Request-ID"))
}
