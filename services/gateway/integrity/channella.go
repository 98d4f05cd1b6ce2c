// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package integrity

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/opsonline/chattia-gateway/services/gateway/config"
)

// The channel-binding ("channella") key is a single canonical string
// every client must echo on protected requests. It resolves through a
// fixed fallback chain:
//
//  1. RFC 7638 thumbprint of a configured public JWK
//  2. a configured literal
//  3. a slug derived from the gateway identity URL
//  4. a hardcoded default
//
// The same value is advertised on every response so compliant clients
// can mirror it without out-of-band configuration.

var (
	schemePattern = regexp.MustCompile(`(?i)^https?://`)
	slugPattern   = regexp.MustCompile(`(?i)[^a-z0-9]+`)
)

// ResolveChannella computes the canonical channel-binding key for this
// configuration. Deterministic; safe to compute once and cache.
func ResolveChannella(cfg *config.Gateway) string {
	if pub := strings.TrimSpace(cfg.ChannellaExpectedPub); pub != "" {
		if kid, err := JWKThumbprint([]byte(pub)); err == nil {
			return "ops-channella:" + kid
		}
		// malformed JWK falls through to the literal chain
	}

	configured := strings.TrimSpace(cfg.ChannellaCanonical)
	if configured == "" {
		configured = strings.TrimSpace(cfg.ChannellaSecret)
	}
	if configured != "" {
		return configured
	}

	derived := gatewaySlug(cfg.IntegrityGateway)
	if derived != "" {
		return "ops-channella:" + derived
	}
	return config.DefaultChannellaKey
}

// jwkSubset is the RFC 7638 required-member subset for an EC key, in
// lexicographic member order. Field order here dictates marshal order,
// which the thumbprint depends on.
type jwkSubset struct {
	Crv string `json:"crv"`
	Kty string `json:"kty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// JWKThumbprint computes the RFC 7638 thumbprint of an EC P-256 public
// JWK: base64url (unpadded) SHA-256 over the canonical required-member
// JSON.
func JWKThumbprint(jwkJSON []byte) (string, error) {
	var full jwkSubset
	if err := json.Unmarshal(jwkJSON, &full); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(full)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// gatewaySlug reduces the gateway identity URL to a hostname-ish slug:
// scheme stripped, runs of non-alphanumerics collapsed to hyphens.
func gatewaySlug(gateway string) string {
	s := schemePattern.ReplaceAllString(strings.TrimSpace(gateway), "")
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
