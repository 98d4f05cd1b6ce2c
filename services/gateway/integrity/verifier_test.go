// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package integrity

import (
	"context"
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsonline/chattia-gateway/services/gateway/config"
	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
	"github.com/opsonline/chattia-gateway/services/gateway/store"
)

const (
	testNonce = "0123456789abcdef0123456789abcdef"
	testSha   = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

func testConfig() *config.Gateway {
	return &config.Gateway{
		SharedKeyB64:        base64.StdEncoding.EncodeToString([]byte("unit-test-shared-secret")),
		IntegrityValue:      "https://chattiavato-a11y.github.io",
		IntegrityGateway:    "https://gateway.opsonline.support",
		IntegrityProtocols:  "CORS,CSP,OPS-CySec-Core",
		ChannellaSecret:     "channel-secret",
		ChannellaCanonical:  "test-channel",
		SignatureTTLSeconds: 300,
	}
}

func testVerifier(t *testing.T, cfg *config.Gateway) *Verifier {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	nonces := store.NewNonceStore(store.NewKV(db), time.Duration(cfg.SignatureTTLSeconds)*time.Second)
	v := NewVerifier(cfg, nonces)
	t.Cleanup(v.Close)
	return v
}

func validHeaders(t *testing.T, v *Verifier, cfg *config.Gateway, ts int64, nonce string, body []byte) Headers {
	t.Helper()
	sig, err := v.Sign(CanonicalString(ts, nonce, "POST", "/api/chat", BodyDigest(body)))
	require.NoError(t, err)
	return Headers{
		Integrity:  cfg.IntegrityValue,
		Gateway:    cfg.IntegrityGateway,
		Protocols:  cfg.IntegrityProtocols,
		ChannelKey: v.Channella(),
		Signature:  sig,
		Timestamp:  strconv.FormatInt(ts, 10),
		Nonce:      nonce,
	}
}

// =============================================================================
// Header Gate Tests
// =============================================================================

func TestCheckHeaders(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)

	base := Headers{
		Integrity:  cfg.IntegrityValue,
		Gateway:    cfg.IntegrityGateway,
		Protocols:  cfg.IntegrityProtocols,
		ChannelKey: "anything",
	}

	tests := []struct {
		name     string
		mutate   func(h *Headers)
		wantCode string
	}{
		{"all present", func(h *Headers) {}, ""},
		{"missing integrity", func(h *Headers) { h.Integrity = "" }, "missing_integrity_header"},
		{"wrong integrity", func(h *Headers) { h.Integrity = "nope" }, "invalid_integrity_value"},
		{"missing gateway", func(h *Headers) { h.Gateway = "" }, "missing_integrity_gateway"},
		{"wrong gateway", func(h *Headers) { h.Gateway = "https://evil.example" }, "invalid_integrity_gateway"},
		{"missing protocols", func(h *Headers) { h.Protocols = "" }, "missing_integrity_protocols"},
		{"wrong protocols", func(h *Headers) { h.Protocols = "TLS" }, "invalid_integrity_protocols"},
		{"missing channel key", func(h *Headers) { h.ChannelKey = "" }, "missing_channella"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := base
			tt.mutate(&h)
			gateErr := v.CheckHeaders(h)
			if tt.wantCode == "" {
				assert.Nil(t, gateErr)
			} else {
				require.NotNil(t, gateErr)
				assert.Equal(t, tt.wantCode, gateErr.Code)
				assert.Equal(t, 403, gateErr.Status)
			}
		})
	}
}

func TestCheckHeaders_NormalizesGatewayAndProtocols(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)

	h := Headers{
		Integrity:  cfg.IntegrityValue,
		Gateway:    "HTTPS://GATEWAY.OPSONLINE.SUPPORT///",
		Protocols:  " cors , csp , ops-cysec-core ",
		ChannelKey: "x",
	}
	assert.Nil(t, v.CheckHeaders(h))

	// Protocol order is significant.
	h.Protocols = "CSP,CORS,OPS-CySec-Core"
	gateErr := v.CheckHeaders(h)
	require.NotNil(t, gateErr)
	assert.Equal(t, "invalid_integrity_protocols", gateErr.Code)
}

// =============================================================================
// Deep Verification Tests
// =============================================================================

func TestVerifyRequest_RoundTrip(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	ts := time.Now().Unix()

	h := validHeaders(t, v, cfg, ts, testNonce, body)
	assert.Nil(t, v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", body))
}

func TestVerifyRequest_MutatedSignatureFails(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)
	body := []byte(`{"x":1}`)
	ts := time.Now().Unix()

	h := validHeaders(t, v, cfg, ts, testNonce, body)
	sig := []byte(h.Signature)
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	h.Signature = string(sig)

	gateErr := v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", body)
	require.NotNil(t, gateErr)
	assert.Equal(t, "invalid_signature", gateErr.Code)
}

func TestVerifyRequest_MutatedBodyFails(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)
	ts := time.Now().Unix()

	h := validHeaders(t, v, cfg, ts, testNonce, []byte(`{"x":1}`))
	gateErr := v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", []byte(`{"x":2}`))
	require.NotNil(t, gateErr)
	assert.Equal(t, "invalid_signature", gateErr.Code)
}

func TestVerifyRequest_TimestampWindow(t *testing.T) {
	cfg := testConfig()
	now := time.Now().Unix()
	ttl := int64(cfg.SignatureTTLSeconds)

	tests := []struct {
		name   string
		ts     int64
		expire bool
	}{
		{"exactly at ttl boundary", now - ttl, false},
		{"one past ttl", now - ttl - 1, true},
		{"four seconds ahead", now + 4, false},
		{"five seconds ahead", now + 5, false},
		{"six seconds ahead", now + 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testVerifier(t, cfg)
			body := []byte(`{}`)
			h := validHeaders(t, v, cfg, tt.ts, testNonce, body)
			gateErr := v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", body)
			if tt.expire {
				require.NotNil(t, gateErr)
				assert.Equal(t, "signature_expired", gateErr.Code)
			} else {
				assert.Nil(t, gateErr)
			}
		})
	}
}

func TestVerifyRequest_Replay(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)
	body := []byte(`{}`)
	ts := time.Now().Unix()

	h := validHeaders(t, v, cfg, ts, testNonce, body)
	require.Nil(t, v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", body))

	gateErr := v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", body)
	require.NotNil(t, gateErr)
	assert.Equal(t, "signature_replay", gateErr.Code)
	assert.Equal(t, 409, gateErr.Status)
}

func TestVerifyRequest_PathMismatch(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)
	body := []byte(`{}`)
	h := validHeaders(t, v, cfg, time.Now().Unix(), testNonce, body)

	gateErr := v.VerifyRequest(context.Background(), h, "POST", "/api/stt", "/api/chat", body)
	require.NotNil(t, gateErr)
	assert.Equal(t, "signature_path_mismatch", gateErr.Code)
}

func TestVerifyRequest_WrongChannelKey(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)
	body := []byte(`{}`)
	h := validHeaders(t, v, cfg, time.Now().Unix(), testNonce, body)
	h.ChannelKey = "some-other-channel"

	gateErr := v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", body)
	require.NotNil(t, gateErr)
	assert.Equal(t, "invalid_channella", gateErr.Code)
}

func TestVerifyRequest_MissingSecrets(t *testing.T) {
	t.Run("channella secret missing", func(t *testing.T) {
		cfg := testConfig()
		cfg.ChannellaSecret = ""
		v := testVerifier(t, cfg)
		body := []byte(`{}`)
		h := validHeaders(t, v, cfg, time.Now().Unix(), testNonce, body)

		gateErr := v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", body)
		require.NotNil(t, gateErr)
		assert.Equal(t, "channella_secret_missing", gateErr.Code)
		assert.Equal(t, 503, gateErr.Status)
	})

	t.Run("shared key missing", func(t *testing.T) {
		cfg := testConfig()
		cfg.SharedKeyB64 = ""
		v := testVerifier(t, cfg)
		h := Headers{
			Integrity:  cfg.IntegrityValue,
			Gateway:    cfg.IntegrityGateway,
			Protocols:  cfg.IntegrityProtocols,
			ChannelKey: v.Channella(),
			Signature:  "sig",
			Timestamp:  strconv.FormatInt(time.Now().Unix(), 10),
			Nonce:      testNonce,
		}
		gateErr := v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", []byte(`{}`))
		require.NotNil(t, gateErr)
		assert.Equal(t, "integrity_service_unavailable", gateErr.Code)
		assert.Equal(t, 503, gateErr.Status)
	})
}

func TestVerifyRequest_InvalidNonce(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)
	body := []byte(`{}`)
	h := validHeaders(t, v, cfg, time.Now().Unix(), testNonce, body)
	h.Nonce = "SHORT"

	gateErr := v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", body)
	require.NotNil(t, gateErr)
	assert.Equal(t, "invalid_signature_nonce", gateErr.Code)
}

// =============================================================================
// Minting Tests
// =============================================================================

func TestMint_RoundTripThroughVerify(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)
	body := []byte(`{"messages":[{"role":"user","content":"hola"}]}`)
	ts := time.Now().Unix()

	minted, gateErr := v.Mint(context.Background(), datatypes.IssueRequest{
		Ts:         ts,
		Nonce:      testNonce,
		Method:     "post",
		Path:       "/api/chat",
		BodySha256: BodyDigest(body),
	})
	require.Nil(t, gateErr)
	assert.NotEmpty(t, minted.Signature)
	assert.Equal(t, int64(cfg.SignatureTTLSeconds), minted.ExpiresIn)

	h := Headers{
		Integrity:  cfg.IntegrityValue,
		Gateway:    cfg.IntegrityGateway,
		Protocols:  cfg.IntegrityProtocols,
		ChannelKey: v.Channella(),
		Signature:  minted.Signature,
		Timestamp:  strconv.FormatInt(ts, 10),
		Nonce:      testNonce,
	}
	assert.Nil(t, v.VerifyRequest(context.Background(), h, "POST", "/api/chat", "/api/chat", body))
}

func TestMint_Validation(t *testing.T) {
	cfg := testConfig()
	now := time.Now().Unix()

	valid := datatypes.IssueRequest{
		Ts: now, Nonce: testNonce, Method: "POST", Path: "/api/chat", BodySha256: testSha,
	}
	tests := []struct {
		name     string
		mutate   func(r *datatypes.IssueRequest)
		wantCode string
		wantHTTP int
	}{
		{"future timestamp", func(r *datatypes.IssueRequest) { r.Ts = now + 60 }, "Timestamp out of range", 400},
		{"stale timestamp", func(r *datatypes.IssueRequest) { r.Ts = now - 10000 }, "Timestamp out of range", 400},
		{"bad nonce", func(r *datatypes.IssueRequest) { r.Nonce = "xyz" }, "Invalid nonce", 400},
		{"bad method", func(r *datatypes.IssueRequest) { r.Method = "GET" }, "Unsupported method", 400},
		{"bad path", func(r *datatypes.IssueRequest) { r.Path = "/auth/issue" }, "Invalid path", 400},
		{"bad digest", func(r *datatypes.IssueRequest) { r.BodySha256 = "zzzz" }, "Invalid body digest", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testVerifier(t, cfg)
			req := valid
			tt.mutate(&req)
			_, gateErr := v.Mint(context.Background(), req)
			require.NotNil(t, gateErr)
			assert.Equal(t, tt.wantCode, gateErr.Code)
			assert.Equal(t, tt.wantHTTP, gateErr.Status)
		})
	}
}

func TestMint_NonceReuse(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)
	req := datatypes.IssueRequest{
		Ts: time.Now().Unix(), Nonce: testNonce, Method: "POST", Path: "/api/chat", BodySha256: testSha,
	}

	_, gateErr := v.Mint(context.Background(), req)
	require.Nil(t, gateErr)

	_, gateErr = v.Mint(context.Background(), req)
	require.NotNil(t, gateErr)
	assert.Equal(t, "Nonce reuse detected", gateErr.Code)
	assert.Equal(t, 409, gateErr.Status)
}

// =============================================================================
// Signing Tests
// =============================================================================

func TestSign_Deterministic(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)

	a, err := v.Sign("message")
	require.NoError(t, err)
	b, err := v.Sign("message")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := v.Sign("message2")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// base64 of a 64-byte MAC
	raw, err := base64.StdEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 64)
}

func TestSignHex_UppercaseDetached(t *testing.T) {
	cfg := testConfig()
	v := testVerifier(t, cfg)

	hexSig, err := v.SignHex(`{"body":"x"}`)
	require.NoError(t, err)
	assert.Len(t, hexSig, 128)
	assert.Equal(t, hexSig, string([]byte(hexSig)), "stable")
	for _, ch := range hexSig {
		assert.True(t, (ch >= '0' && ch <= '9') || (ch >= 'A' && ch <= 'F'), "char %q", ch)
	}
}
