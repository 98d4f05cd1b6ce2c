// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the gateway's runtime configuration.
//
// Configuration comes from environment variables, read exactly once at
// process start by FromEnv. The resulting Gateway value is immutable and
// passed by reference into each component; nothing reads the environment
// after startup.
//
// Numeric values are clamped, never rejected: an out-of-range TTL is
// pulled back into its window so a bad deploy degrades instead of
// failing closed on every request.
package config

import (
	"os"
	"strconv"
	"strings"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultPort is the HTTP listen port.
	DefaultPort = "8787"

	// DefaultIntegrityValue is the expected X-Integrity token when
	// INTEGRITY_VALUE is unset.
	DefaultIntegrityValue = "https://chattiavato-a11y.github.io"

	// DefaultIntegrityGateway identifies this gateway to clients and
	// peers when INTEGRITY_GATEWAY is unset.
	DefaultIntegrityGateway = "https://gateway.opsonline.support"

	// DefaultIntegrityProtocols is the advertised protocol list.
	DefaultIntegrityProtocols = "CORS,CSP,OPS-CySec-Core,CISA,NIST,PCI-DSS,SHA-384,SHA-512"

	// DefaultHighConfidenceURL is the secondary (higher-tier) provider.
	DefaultHighConfidenceURL = "https://premium.opsonline.support/"

	// DefaultChannellaKey is the channel-binding fallback when neither a
	// JWK thumbprint nor a literal is configured and no gateway-derived
	// value can be computed.
	DefaultChannellaKey = "ops-channella-v1"

	// DefaultTurnstileVerifyURL is the challenge-verification service.
	DefaultTurnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

	// DefaultSignatureTTLSeconds is the signature validity window.
	DefaultSignatureTTLSeconds = 300

	// DefaultHoneypotBanTTLSeconds is how long a triggered IP stays banned.
	DefaultHoneypotBanTTLSeconds = 86400

	// DefaultMaxAudioBytes caps STT uploads.
	DefaultMaxAudioBytes = 8_000_000

	// DefaultMaxTokens is the model completion budget.
	DefaultMaxTokens = 500

	// DefaultIssueRatePerMinute limits /auth/issue mints per client IP.
	DefaultIssueRatePerMinute = 30
)

// defaultHoneypotFields are decoy field names no legitimate client fills.
var defaultHoneypotFields = []string{
	"hp_email", "hp_name", "hp_field", "honeypot", "hp_text",
	"botcheck", "bot_field", "trap_field", "company",
}

// defaultAllowedOrigins is the base CORS allowlist; the configured
// gateway origin is always appended at runtime.
var defaultAllowedOrigins = []string{"https://chattiavato-a11y.github.io"}

// =============================================================================
// Gateway Configuration
// =============================================================================

// Gateway holds every tunable the gateway reads. Construct via FromEnv
// (or literals in tests) and treat as read-only afterwards.
type Gateway struct {
	// Port is the HTTP listen port.
	Port string

	// SharedKeyB64 is the base64-encoded HMAC-SHA512 secret. Empty means
	// the signing service is unavailable and deep checks reject with 503.
	SharedKeyB64 string

	// IntegrityValue is the expected X-Integrity header value.
	IntegrityValue string

	// IntegrityGateway is this gateway's canonical identity URL.
	IntegrityGateway string

	// IntegrityProtocols is the comma-separated protocol list clients
	// must echo (order- and case-insensitive).
	IntegrityProtocols string

	// ChannellaSecret gates deep integrity checks; when empty, protected
	// endpoints reject with channella_secret_missing.
	ChannellaSecret string

	// ChannellaExpectedPub is an optional public JWK (JSON) whose RFC 7638
	// thumbprint becomes the canonical channel-binding key.
	ChannellaExpectedPub string

	// ChannellaCanonical is an optional literal channel-binding key,
	// used when no JWK is configured.
	ChannellaCanonical string

	// SignatureTTLSeconds is the signature validity window, clamped to
	// [60, 900].
	SignatureTTLSeconds int

	// HoneypotFields is the full decoy field-name list (defaults plus
	// HONEYPOT_FIELDS extras, lowercased, deduplicated).
	HoneypotFields []string

	// HoneypotBanTTLSeconds is the IP ban duration, clamped to
	// [300, 604800].
	HoneypotBanTTLSeconds int

	// TurnstileSecret enables the human-verification gate when non-empty.
	TurnstileSecret string

	// TurnstileVerifyURL is the challenge-verification endpoint.
	TurnstileVerifyURL string

	// HighConfidenceURL is the secondary provider base URL for
	// low-confidence escalation. Empty disables escalation.
	HighConfidenceURL string

	// EscalationWebhook receives fire-and-forget telemetry payloads.
	// Empty disables forwarding.
	EscalationWebhook string

	// AllowWorkersDev admits *.workers.dev origins for CORS.
	AllowWorkersDev bool

	// AllowDash admits *.dash.cloudflare.com origins for CORS.
	AllowDash bool

	// AllowedOrigins is the base CORS allowlist (lowercased).
	AllowedOrigins []string

	// MaxAudioBytes caps STT payload size.
	MaxAudioBytes int64

	// MaxTokens is the completion budget per model call, clamped to 1024.
	MaxTokens int

	// ModelDefault, ModelPremium, ModelBig select the chat model by tier.
	ModelDefault string
	ModelPremium string
	ModelBig     string

	// SttTiny..SttVendor select the transcription model by preference.
	SttTiny   string
	SttBase   string
	SttTurbo  string
	SttVendor string

	// DataDir is the BadgerDB directory. Empty selects in-memory mode
	// (nonce/ban records then survive only for the process lifetime).
	DataDir string

	// KBCorpusPath optionally overrides the embedded KB corpus (YAML).
	KBCorpusPath string

	// IssueRatePerMinute limits signature mints per client IP.
	IssueRatePerMinute int

	// LogLevel is the minimum log level name.
	LogLevel string

	// LogDir enables file logging when non-empty.
	LogDir string

	// OTLPEndpoint is the OpenTelemetry collector address (host:port).
	// Empty disables trace export.
	OTLPEndpoint string
}

// FromEnv reads the environment into a Gateway, applying defaults and
// clamps. Call once at startup.
func FromEnv() Gateway {
	return Gateway{
		Port:                  envOr("GATEWAY_PORT", DefaultPort),
		SharedKeyB64:          strings.TrimSpace(os.Getenv("SHARED_KEY")),
		IntegrityValue:        envFirst([]string{"INTEGRITY_VALUE", "INTEGRITY_TOKEN"}, DefaultIntegrityValue),
		IntegrityGateway:      envOr("INTEGRITY_GATEWAY", DefaultIntegrityGateway),
		IntegrityProtocols:    envOr("INTEGRITY_PROTOCOLS", DefaultIntegrityProtocols),
		ChannellaSecret:       strings.TrimSpace(os.Getenv("CHANNELLA")),
		ChannellaExpectedPub:  strings.TrimSpace(os.Getenv("CHANNELLA_EXPECTED_PUB")),
		ChannellaCanonical:    envFirst([]string{"CHANNELLA_CANONICAL", "CHANNELLA_KEY"}, ""),
		SignatureTTLSeconds:   clampInt(os.Getenv("SIG_TTL_SECONDS"), DefaultSignatureTTLSeconds, 60, 900),
		HoneypotFields:        honeypotFields(os.Getenv("HONEYPOT_FIELDS")),
		HoneypotBanTTLSeconds: clampInt(os.Getenv("HONEYPOT_BLOCK_TTL"), DefaultHoneypotBanTTLSeconds, 300, 604800),
		TurnstileSecret:       strings.TrimSpace(os.Getenv("TURNSTILE_SECRET")),
		TurnstileVerifyURL:    envOr("TURNSTILE_VERIFY_URL", DefaultTurnstileVerifyURL),
		HighConfidenceURL:     envFirst([]string{"HIGH_CONFIDENCE_URL", "HIGH_CONFIDENCE_GATEWAY", "HIGH_CONFIDENCE_ENDPOINT"}, DefaultHighConfidenceURL),
		EscalationWebhook:     strings.TrimSpace(os.Getenv("ESCALATION_WEBHOOK")),
		AllowWorkersDev:       os.Getenv("ALLOW_WORKERS_DEV") == "true",
		AllowDash:             os.Getenv("ALLOW_DASH") == "true",
		AllowedOrigins:        lowered(defaultAllowedOrigins),
		MaxAudioBytes:         int64(clampInt(os.Getenv("MAX_AUDIO_BYTES"), DefaultMaxAudioBytes, 1, 1<<31-1)),
		MaxTokens:             clampInt(os.Getenv("LLM_MAX_TOKENS"), DefaultMaxTokens, 1, 1024),
		ModelDefault:          os.Getenv("AI_LLM_DEFAULT"),
		ModelPremium:          os.Getenv("AI_LLM_PREMIUM"),
		ModelBig:              os.Getenv("AI_LLM_BIG"),
		SttTiny:               os.Getenv("AI_STT_TINY"),
		SttBase:               os.Getenv("AI_STT_BASE"),
		SttTurbo:              os.Getenv("AI_STT_TURBO"),
		SttVendor:             os.Getenv("AI_STT_VENDOR"),
		DataDir:               strings.TrimSpace(os.Getenv("GATEWAY_DATA_DIR")),
		KBCorpusPath:          strings.TrimSpace(os.Getenv("KB_CORPUS_PATH")),
		IssueRatePerMinute:    clampInt(os.Getenv("ISSUE_RATE_PER_MINUTE"), DefaultIssueRatePerMinute, 1, 600),
		LogLevel:              envOr("LOG_LEVEL", "info"),
		LogDir:                strings.TrimSpace(os.Getenv("LOG_DIR")),
		OTLPEndpoint:          strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}
}

// SelectChatModel picks the chat model for a tier, falling back to the
// default model, then to the caller-supplied fallback id.
func (g *Gateway) SelectChatModel(tier, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "big":
		if g.ModelBig != "" {
			return g.ModelBig
		}
	case "premium":
		if g.ModelPremium != "" {
			return g.ModelPremium
		}
	}
	if g.ModelDefault != "" {
		return g.ModelDefault
	}
	return fallback
}

// SelectSttModel picks the transcription model for a preference tag,
// falling back through turbo → base → tiny → vendor → fallback.
func (g *Gateway) SelectSttModel(prefer, fallback string) string {
	def := firstNonEmpty(g.SttTurbo, g.SttBase, g.SttTiny, g.SttVendor, fallback)
	switch strings.ToLower(strings.TrimSpace(prefer)) {
	case "tiny":
		return firstNonEmpty(g.SttTiny, def)
	case "base":
		return firstNonEmpty(g.SttBase, def)
	case "turbo":
		return firstNonEmpty(g.SttTurbo, def)
	case "vendor":
		return firstNonEmpty(g.SttVendor, def)
	default:
		return def
	}
}

// =============================================================================
// Helpers
// =============================================================================

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envFirst(keys []string, fallback string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return fallback
}

// clampInt parses raw and clamps it to [min, max]; non-numeric or
// non-positive input yields fallback.
func clampInt(raw string, fallback, min, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return fallback
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// honeypotFields merges the defaults with a comma-separated extra list,
// lowercased and deduplicated, preserving order.
func honeypotFields(extra string) []string {
	seen := make(map[string]struct{}, len(defaultHoneypotFields))
	out := make([]string, 0, len(defaultHoneypotFields))
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, f := range defaultHoneypotFields {
		add(f)
	}
	for _, f := range strings.Split(extra, ",") {
		add(f)
	}
	return out
}

func lowered(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
