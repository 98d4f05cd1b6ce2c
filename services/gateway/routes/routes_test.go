// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsonline/chattia-gateway/services/gateway/abuse"
	"github.com/opsonline/chattia-gateway/services/gateway/config"
	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
	"github.com/opsonline/chattia-gateway/services/gateway/escalate"
	"github.com/opsonline/chattia-gateway/services/gateway/handlers"
	"github.com/opsonline/chattia-gateway/services/gateway/integrity"
	"github.com/opsonline/chattia-gateway/services/gateway/kb"
	"github.com/opsonline/chattia-gateway/services/gateway/policy"
	"github.com/opsonline/chattia-gateway/services/gateway/store"
)

type stubModel struct{}

func (stubModel) Chat(context.Context, string, []datatypes.Message, int) (string, *datatypes.TokenUsage, error) {
	return "ok", nil, nil
}

func (stubModel) Transcribe(context.Context, string, io.Reader, string, string) (string, error) {
	return "ok", nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Gateway{
		SharedKeyB64:          base64.StdEncoding.EncodeToString([]byte("routes-test-secret")),
		IntegrityValue:        "test-integrity",
		IntegrityGateway:      "https://gw.example.com",
		IntegrityProtocols:    "CORS,CSP",
		ChannellaSecret:       "channella-secret",
		ChannellaCanonical:    "chan-key",
		SignatureTTLSeconds:   300,
		HoneypotBanTTLSeconds: 600,
		MaxAudioBytes:         1 << 20,
		MaxTokens:             500,
		IssueRatePerMinute:    30,
	}
	kv := store.NewKV(db)
	verifier := integrity.NewVerifier(cfg, store.NewNonceStore(kv, 5*time.Minute))
	t.Cleanup(verifier.Close)

	d := &handlers.Deps{
		Cfg:       cfg,
		Verifier:  verifier,
		KV:        kv,
		Bans:      store.NewBanRegistry(kv),
		Strikes:   store.NewStrikeStore(kv, time.Duration(cfg.HoneypotBanTTLSeconds)*time.Second),
		Honeypot:  abuse.NewDetector(nil),
		Turnstile: abuse.NewTurnstile("", "", nil),
		Policy:    policy.NewEngine(),
		KB:        kb.NewIndex(kb.DefaultCorpus()),
		Models:    stubModel{},
		Escalator: escalate.NewClient("", "", verifier, nil, nil),
	}
	router := gin.New()
	SetupRoutes(router, d)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRoutes_Health(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health", "/health/ok"} {
		w := get(router, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	}

	w := get(router, "/health/summary")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"signature_ttl":300`)
}

func TestRoutes_WrongVerbOnProtectedEndpoint(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/chat", "/api/stt", "/auth/issue", "/fallback/escalate"} {
		w := get(router, path)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, path)
		assert.JSONEq(t, `{"error":"method_not_allowed"}`, w.Body.String(), path)
	}
}

func TestRoutes_UnknownProtectedPathIs404(t *testing.T) {
	router := newTestRouter(t)

	w := get(router, "/api/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, w.Body.String())
}

func TestRoutes_UnknownRootPathAnswersOK(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/", "/favicon.ico", "/robots.txt"} {
		w := get(router, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "OK", w.Body.String(), path)
	}
}

func TestRoutes_SecurityHeadersEverywhere(t *testing.T) {
	router := newTestRouter(t)

	w := get(router, "/health")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "chan-key", w.Header().Get("X-OPS-Channella"))
}

func TestRoutes_PreflightShortCircuits(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/chat", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRoutes_MetricsExposed(t *testing.T) {
	router := newTestRouter(t)

	w := get(router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
