// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package integrity implements the request-signing protocol: a detached
// HMAC-SHA512 over the canonical string
//
//	ts.nonce.METHOD.path.bodySha256
//
// plus the surrounding header gate, timestamp window, single-use nonce
// enforcement, and signature minting.
//
// Verification is split in two layers. The header gate (checks on the
// integrity token, gateway identity, protocol list, and channel-key
// presence) runs on every guarded endpoint, including minting. The deep
// check additionally validates the channel key value, the signature
// headers, the timestamp window, the path binding, and replay state; it
// runs only on protected endpoints that carry a signed body.
package integrity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/opsonline/chattia-gateway/services/gateway/config"
	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
	"github.com/opsonline/chattia-gateway/services/gateway/store"
)

// =============================================================================
// Constants
// =============================================================================

// MaxClockSkewSeconds is how far into the future a client timestamp may
// sit before it is rejected.
const MaxClockSkewSeconds = 5

var (
	noncePattern      = regexp.MustCompile(`^[a-f0-9]{32}$`)
	bodyDigestPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// =============================================================================
// Gate Errors
// =============================================================================

// GateError is a rejection from the integrity layer: a machine-readable
// reason code and the HTTP status it maps to. The code is the entire
// client-visible detail.
type GateError struct {
	Code   string
	Status int
}

func (e *GateError) Error() string { return e.Code }

func reject(code string, status int) *GateError {
	return &GateError{Code: code, Status: status}
}

// =============================================================================
// Header Bundle
// =============================================================================

// Headers carries the integrity-relevant request headers, extracted by
// the transport layer so this package stays independent of it.
type Headers struct {
	Integrity  string // X-Integrity
	Gateway    string // X-Integrity-Gateway
	Protocols  string // X-Integrity-Protocols
	ChannelKey string // X-Integrity-Key, falling back to X-OPS-Channella
	Signature  string // X-Request-Signature
	Timestamp  string // X-Request-Timestamp
	Nonce      string // X-Request-Nonce
}

// =============================================================================
// Verifier
// =============================================================================

// Verifier validates and mints request signatures. The shared secret is
// held in a memguard locked buffer for the life of the process so it
// never sits in ordinary heap memory.
//
// # Thread Safety
//
// Safe for concurrent use; all fields are set at construction.
type Verifier struct {
	cfg       *config.Gateway
	secret    *memguard.LockedBuffer // decoded secret; nil when unconfigured
	nonces    *store.NonceStore
	channella string
	now       func() time.Time
}

// NewVerifier builds a Verifier from configuration. A malformed (non
// base64) shared key is treated the same as an absent one: signing is
// unavailable and deep checks reject with 503.
func NewVerifier(cfg *config.Gateway, nonces *store.NonceStore) *Verifier {
	v := &Verifier{
		cfg:       cfg,
		nonces:    nonces,
		channella: ResolveChannella(cfg),
		now:       time.Now,
	}
	if cfg.SharedKeyB64 != "" {
		if raw, err := base64.StdEncoding.DecodeString(cfg.SharedKeyB64); err == nil && len(raw) > 0 {
			v.secret = memguard.NewBufferFromBytes(raw)
		}
	}
	return v
}

// Close wipes the secret buffer. Call once at shutdown.
func (v *Verifier) Close() {
	if v.secret != nil {
		v.secret.Destroy()
		v.secret = nil
	}
}

// HasSecret reports whether signing material is available.
func (v *Verifier) HasSecret() bool { return v.secret != nil }

// Channella returns the canonical channel-binding key this gateway
// expects and advertises.
func (v *Verifier) Channella() string { return v.channella }

// =============================================================================
// Canonical String and Signing
// =============================================================================

// CanonicalString assembles the string the signature covers.
func CanonicalString(ts int64, nonce, method, path, bodySha string) string {
	return fmt.Sprintf("%d.%s.%s.%s.%s", ts, nonce, method, path, bodySha)
}

// BodyDigest returns the lowercase hex SHA-256 of a request body.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign computes the base64 HMAC-SHA512 of message under the shared
// secret. This is the encoding both minting and verification use.
func (v *Verifier) Sign(message string) (string, error) {
	raw, err := v.signRaw(message)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SignHex computes the uppercase-hex HMAC-SHA512 of message, the
// detached encoding used on outbound escalation bodies.
func (v *Verifier) SignHex(message string) (string, error) {
	raw, err := v.signRaw(message)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}

func (v *Verifier) signRaw(message string) ([]byte, error) {
	if v.secret == nil {
		return nil, errors.New("shared key not configured")
	}
	mac := hmac.New(sha512.New, v.secret.Bytes())
	mac.Write([]byte(message))
	return mac.Sum(nil), nil
}

// =============================================================================
// Header Gate (checks 1-4)
// =============================================================================

// CheckHeaders runs the header-only gate: integrity token, gateway
// identity, protocol list, and channel-key presence. The channel key's
// value is validated only in VerifyRequest.
func (v *Verifier) CheckHeaders(h Headers) *GateError {
	integrity := strings.TrimSpace(h.Integrity)
	if integrity == "" {
		return reject("missing_integrity_header", 403)
	}
	if integrity != v.cfg.IntegrityValue {
		return reject("invalid_integrity_value", 403)
	}

	gw := strings.TrimSpace(h.Gateway)
	if gw == "" {
		return reject("missing_integrity_gateway", 403)
	}
	if normalizeURLish(gw) != normalizeURLish(v.cfg.IntegrityGateway) {
		return reject("invalid_integrity_gateway", 403)
	}

	protos := strings.TrimSpace(h.Protocols)
	if protos == "" {
		return reject("missing_integrity_protocols", 403)
	}
	if normalizeProtocols(protos) != normalizeProtocols(v.cfg.IntegrityProtocols) {
		return reject("invalid_integrity_protocols", 403)
	}

	if strings.TrimSpace(h.ChannelKey) == "" {
		return reject("missing_channella", 403)
	}
	return nil
}

// =============================================================================
// Deep Verification (checks 5-9)
// =============================================================================

// VerifyRequest runs the full integrity check for a protected endpoint:
// header gate, channel-key value, signature headers, timestamp window,
// path binding, body digest, HMAC comparison, and single-use nonce
// consumption. On success exactly one "use" nonce record is written; a
// failure writes nothing.
func (v *Verifier) VerifyRequest(ctx context.Context, h Headers, method, path, expectedPath string, body []byte) *GateError {
	if gateErr := v.CheckHeaders(h); gateErr != nil {
		return gateErr
	}

	if strings.TrimSpace(h.ChannelKey) != v.channella {
		return reject("invalid_channella", 403)
	}
	if v.cfg.ChannellaSecret == "" {
		return reject("channella_secret_missing", 503)
	}
	if v.secret == nil {
		return reject("integrity_service_unavailable", 503)
	}

	signature := strings.TrimSpace(h.Signature)
	if signature == "" {
		return reject("missing_signature", 403)
	}
	if strings.TrimSpace(h.Timestamp) == "" {
		return reject("missing_signature_timestamp", 403)
	}
	nonce := strings.ToLower(strings.TrimSpace(h.Nonce))
	if !noncePattern.MatchString(nonce) {
		return reject("invalid_signature_nonce", 403)
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(h.Timestamp), 10, 64)
	if err != nil {
		return reject("invalid_signature_timestamp", 403)
	}
	now := v.now().Unix()
	ttl := int64(v.cfg.SignatureTTLSeconds)
	if ts > now+MaxClockSkewSeconds || now-ts > ttl {
		return reject("signature_expired", 403)
	}

	if expectedPath != "" && path != expectedPath {
		return reject("signature_path_mismatch", 403)
	}

	canonical := CanonicalString(ts, nonce, strings.ToUpper(method), path, BodyDigest(body))
	expected, err := v.Sign(canonical)
	if err != nil {
		return reject("integrity_service_unavailable", 503)
	}
	if !constantTimeEqual(signature, expected) {
		return reject("invalid_signature", 403)
	}

	if v.nonces != nil {
		err := v.nonces.Consume(ctx, store.NonceUse, nonce, ts)
		if errors.Is(err, store.ErrReplay) {
			return reject("signature_replay", 409)
		}
		if err != nil {
			return reject("integrity_service_unavailable", 503)
		}
	}
	return nil
}

// =============================================================================
// Minting
// =============================================================================

// Mint validates an issuance request and signs the client's canonical
// string. Mint nonces live in their own namespace, so a minted nonce
// can still be spent exactly once through VerifyRequest.
//
// The caller is expected to have passed CheckHeaders already.
func (v *Verifier) Mint(ctx context.Context, req datatypes.IssueRequest) (datatypes.IssueResponse, *GateError) {
	var resp datatypes.IssueResponse
	if v.secret == nil {
		return resp, reject("Signature service unavailable", 500)
	}

	now := v.now().Unix()
	ttl := int64(v.cfg.SignatureTTLSeconds)
	if req.Ts > now+MaxClockSkewSeconds || now-req.Ts > ttl {
		return resp, reject("Timestamp out of range", 400)
	}

	nonce := strings.ToLower(strings.TrimSpace(req.Nonce))
	if !noncePattern.MatchString(nonce) {
		return resp, reject("Invalid nonce", 400)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method != "POST" {
		return resp, reject("Unsupported method", 400)
	}

	path := strings.TrimSpace(req.Path)
	if !strings.HasPrefix(path, "/api/") {
		return resp, reject("Invalid path", 400)
	}

	bodySha := strings.ToLower(strings.TrimSpace(req.BodySha256))
	if !bodyDigestPattern.MatchString(bodySha) {
		return resp, reject("Invalid body digest", 400)
	}

	if v.nonces != nil {
		err := v.nonces.Consume(ctx, store.NonceMint, nonce, req.Ts)
		if errors.Is(err, store.ErrReplay) {
			return resp, reject("Nonce reuse detected", 409)
		}
		if err != nil {
			return resp, reject("Signature service unavailable", 500)
		}
	}

	signature, err := v.Sign(CanonicalString(req.Ts, nonce, method, path, bodySha))
	if err != nil {
		return resp, reject("Signature service unavailable", 500)
	}

	elapsed := now - req.Ts
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := ttl - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return datatypes.IssueResponse{Signature: signature, ExpiresIn: remaining}, nil
}

// =============================================================================
// Helpers
// =============================================================================

// constantTimeEqual compares two signature strings without leaking
// where they diverge. Length is checked first; signature length is not
// secret.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// normalizeURLish lowercases and strips trailing slashes so gateway
// identities compare by value, not formatting.
func normalizeURLish(v string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(v), "/"))
}

// normalizeProtocols canonicalizes a comma-separated protocol list:
// order is preserved but spacing and case are not significant.
func normalizeProtocols(v string) string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}
