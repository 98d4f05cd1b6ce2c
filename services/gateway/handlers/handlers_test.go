// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opsonline/chattia-gateway/services/gateway/abuse"
	"github.com/opsonline/chattia-gateway/services/gateway/config"
	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
	"github.com/opsonline/chattia-gateway/services/gateway/escalate"
	"github.com/opsonline/chattia-gateway/services/gateway/integrity"
	"github.com/opsonline/chattia-gateway/services/gateway/kb"
	"github.com/opsonline/chattia-gateway/services/gateway/policy"
	"github.com/opsonline/chattia-gateway/services/gateway/store"
)

// =============================================================================
// Shared Test Fixtures
// =============================================================================

// fakeModel is a scripted ModelClient that records what it was asked.
type fakeModel struct {
	mu sync.Mutex

	reply string
	usage *datatypes.TokenUsage
	err   error

	transcript    string
	transcribeErr error

	chatModel    string
	chatMessages []datatypes.Message
	sttModel     string
	sttFilename  string
	sttLanguage  string
}

func (f *fakeModel) Chat(ctx context.Context, model string, messages []datatypes.Message, maxTokens int) (string, *datatypes.TokenUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatModel = model
	f.chatMessages = append([]datatypes.Message(nil), messages...)
	return f.reply, f.usage, f.err
}

func (f *fakeModel) Transcribe(ctx context.Context, model string, audio io.Reader, filename, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sttModel = model
	f.sttFilename = filename
	f.sttLanguage = language
	if audio != nil {
		io.Copy(io.Discard, audio)
	}
	return f.transcript, f.transcribeErr
}

// richReply clears every confidence floor and matches the service
// vocabulary, so the happy path grades high without escalation.
const richReply = "Ops Online Support covers four pillars. Business Operations keeps billing and vendor " +
	"coordination organized, the Contact Center handles warm customer conversations across channels, " +
	"IT Support keeps tickets and incidents moving, and Professionals On-Demand adds specialists when " +
	"your team needs extra hands for a sprint or a longer engagement."

var richUsage = &datatypes.TokenUsage{PromptTokens: 200, CompletionTokens: 150, TotalTokens: 350}

func testConfig() *config.Gateway {
	return &config.Gateway{
		SharedKeyB64:          base64.StdEncoding.EncodeToString([]byte("handler-test-secret")),
		IntegrityValue:        "test-integrity",
		IntegrityGateway:      "https://gw.example.com",
		IntegrityProtocols:    "CORS,CSP,SHA-512",
		ChannellaSecret:       "channella-secret",
		ChannellaCanonical:    "chan-key",
		SignatureTTLSeconds:   300,
		HoneypotFields:        []string{"website_url"},
		HoneypotBanTTLSeconds: 600,
		AllowedOrigins:        []string{"https://example.com"},
		MaxAudioBytes:         1 << 20,
		MaxTokens:             500,
		IssueRatePerMinute:    30,
	}
}

// newTestDeps builds a full handler dependency set backed by an
// in-memory store. The turnstile is disabled and the escalator is a
// no-op unless a test swaps them.
func newTestDeps(t *testing.T, model *fakeModel) *Deps {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := testConfig()
	kv := store.NewKV(db)
	verifier := integrity.NewVerifier(cfg, store.NewNonceStore(kv, 5*time.Minute))
	t.Cleanup(verifier.Close)

	return &Deps{
		Cfg:       cfg,
		Verifier:  verifier,
		KV:        kv,
		Bans:      store.NewBanRegistry(kv),
		Strikes:   store.NewStrikeStore(kv, time.Duration(cfg.HoneypotBanTTLSeconds)*time.Second),
		Honeypot:  abuse.NewDetector(cfg.HoneypotFields),
		Turnstile: abuse.NewTurnstile("", "", nil),
		Policy:    policy.NewEngine(),
		KB:        kb.NewIndex(kb.DefaultCorpus()),
		Models:    model,
		Escalator: escalate.NewClient("", "", verifier, nil, nil),
	}
}

// gateHeaders stamps the four header-gate values onto a request.
func gateHeaders(req *http.Request, cfg *config.Gateway) {
	req.Header.Set(integrity.HeaderIntegrity, cfg.IntegrityValue)
	req.Header.Set(integrity.HeaderIntegrityGateway, cfg.IntegrityGateway)
	req.Header.Set(integrity.HeaderIntegrityProtocols, cfg.IntegrityProtocols)
	req.Header.Set(integrity.HeaderIntegrityKey, "chan-key")
}

// signRequest adds a valid signature triplet for the given body.
func signRequest(t *testing.T, d *Deps, req *http.Request, body []byte) {
	t.Helper()
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	ts := time.Now().Unix()
	canonical := integrity.CanonicalString(ts, nonce, req.Method, req.URL.Path, integrity.BodyDigest(body))
	sig, err := d.Verifier.Sign(canonical)
	require.NoError(t, err)
	req.Header.Set(integrity.HeaderSignature, sig)
	req.Header.Set(integrity.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(integrity.HeaderNonce, nonce)
}

// signedChatRequest builds a fully signed POST with a JSON body.
func signedChatRequest(t *testing.T, d *Deps, path string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Real-IP", "203.0.113.7")
	gateHeaders(req, d.Cfg)
	signRequest(t, d, req, body)
	return req
}

func serve(handler gin.HandlerFunc, method, path string, req *http.Request) *httptest.ResponseRecorder {
	r := gin.New()
	r.Handle(method, path, handler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeChat(t *testing.T, w *httptest.ResponseRecorder) datatypes.ChatResponse {
	t.Helper()
	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func chatPayload(content string) map[string]any {
	return map[string]any{
		"messages": []map[string]string{{"role": "user", "content": content}},
	}
}
