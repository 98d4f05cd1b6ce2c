// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/opsonline/chattia-gateway/services/gateway/abuse"
	"github.com/opsonline/chattia-gateway/services/gateway/confidence"
	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
	"github.com/opsonline/chattia-gateway/services/gateway/kb"
	"github.com/opsonline/chattia-gateway/services/gateway/policy"
)

var chatTracer = otel.Tracer("chattia.gateway.handlers")

// maxChatBodyBytes bounds the raw chat body read. Generous relative to
// the per-message limits so the validator, not the reader, rejects
// oversized transcripts with a useful error.
const maxChatBodyBytes = 4 << 20

// fallbackChatModel is used when no tier model is configured at all.
const fallbackChatModel = "gpt-4o-mini"

// HandleChat is POST /api/chat: the full pipeline from defense ladder
// to graded, signed reply.
//
// Order matters and is load-bearing: the ban check runs before the
// integrity gate so banned clients learn nothing about signature
// validity, the honeypot scan runs on the raw JSON before binding so
// decoys outside the schema still trip it, and the policy sweep runs
// before any model call so blocked content never reaches a backend.
func HandleChat(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		if d.checkBan(c, "chat") {
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChatBodyBytes))
		if err != nil {
			rejectJSON(c, http.StatusInternalServerError, "Failed to process request")
			return
		}

		if d.enforceIntegrity(c, "chat", "/api/chat", body) {
			return
		}

		// Raw-document honeypot scan before schema binding.
		var raw any
		if err := json.Unmarshal(body, &raw); err != nil {
			rejectJSON(c, http.StatusInternalServerError, "Failed to process request")
			return
		}
		if hit := d.Honeypot.ScanJSON(raw); hit != nil {
			d.registerBan(c, "chat", hit)
			return
		}

		var token string
		if doc, ok := raw.(map[string]any); ok {
			token = abuse.ExtractToken(doc)
		}
		if d.enforceTurnstile(c, token) {
			return
		}

		var req datatypes.ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			rejectJSON(c, http.StatusInternalServerError, "Failed to process request")
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			rejectJSON(c, http.StatusBadRequest, "invalid request body")
			return
		}

		normalized := normalizeMessages(req.Messages)
		metadata := req.Metadata

		// Policy sweep, with strikes persisted per session so a trimmed
		// transcript cannot reset the warn→terminate ladder.
		stored, err := d.Strikes.Get(ctx, metadata.SessionID)
		if err != nil {
			d.logger().Error("strike lookup failed", "error", err, "session", metadata.SessionID)
		}
		dec := d.Policy.Evaluate(normalized, stored)
		if dec.Blocked {
			if _, err := d.Strikes.Increment(ctx, metadata.SessionID, dec.PriorStrikes); err != nil {
				d.logger().Error("strike persist failed", "error", err, "session", metadata.SessionID)
			}
			d.Metrics.RecordPolicyBlock(dec.Severity)
			writeGuardedResponse(c, d, dec.Reply)
			return
		}

		sanitized := sanitizeUserTurns(normalized)
		metadata.Locale = policy.PreferredLocale(sanitized, metadata.Locale)
		prepared := policy.EnsureGovernancePrompts(sanitized, metadata.Locale)

		// Knowledge-base short circuit.
		if hit := d.KB.Lookup(lastUserContent(sanitized)); hit != nil {
			d.Metrics.RecordKBHit(hit.Language)
			writeKnowledgeResponse(c, d, hit, metadata.Locale)
			return
		}

		// Primary model.
		model := d.Cfg.SelectChatModel(metadata.Tier, fallbackChatModel)
		start := time.Now()
		reply, usage, err := d.Models.Chat(ctx, model, prepared, d.Cfg.MaxTokens)
		d.Metrics.RecordModelLatency("chat", model, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger().Error("model call failed", "error", err, "model", model)
			d.Metrics.RecordRequest("chat", false)
			rejectJSON(c, http.StatusInternalServerError, "Failed to process request")
			return
		}
		trimmed := strings.TrimSpace(reply)
		if trimmed == "" {
			trimmed = policy.DefaultReply(metadata.Locale)
		}

		conf := confidence.Assess(trimmed, usage)
		escalated := metadata.Escalated

		// Low confidence gets one second opinion from the premium tier.
		if conf.Level == confidence.LevelLow && !escalated && d.Escalator.Enabled() {
			bump, err := d.Escalator.Escalate(ctx, sanitized, metadata, c.Request.Header)
			d.Metrics.RecordEscalation(err == nil && bump != nil)
			switch {
			case err != nil:
				d.logger().Warn("escalation failed", "error", err)
			case bump != nil:
				trimmed = strings.TrimSpace(bump.Reply)
				conf = confidence.Assessment{Level: confidence.LevelHigh, Reasons: []string{confidence.ReasonEscalated}}
				usage = bump.Usage
				model = bump.Model
				escalated = true
			}
		}

		d.Metrics.RecordConfidence(conf.Level)
		d.Metrics.RecordRequest("chat", true)

		c.Header("Cache-Control", "no-store")
		c.Header("x-model", model)
		c.Header("x-reply-digest-sha512", replyDigest(trimmed))
		c.Header("x-integrity-gateway", d.Cfg.IntegrityGateway)
		c.Header("x-integrity-protocols", d.Cfg.IntegrityProtocols)
		c.Header("x-confidence-level", conf.Level)
		c.Header("x-confidence-reasons", strings.Join(conf.Reasons, ","))
		c.JSON(http.StatusOK, datatypes.ChatResponse{
			Reply:             trimmed,
			Model:             model,
			Source:            "model",
			Usage:             usage,
			Confidence:        conf.Level,
			ConfidenceReasons: conf.Reasons,
			Escalated:         escalated,
		})
	}
}

// writeGuardedResponse answers a policy block. Deliberately a 200: the
// guard message is the assistant's reply, not a transport error, so
// clients render it in the conversation.
func writeGuardedResponse(c *gin.Context, d *Deps, reply string) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = policy.WarningMessages["en"]
	}
	c.Header("Cache-Control", "no-store")
	c.Header("x-model", "policy")
	c.Header("x-reply-digest-sha512", replyDigest(reply))
	c.Header("x-integrity-gateway", d.Cfg.IntegrityGateway)
	c.Header("x-integrity-protocols", d.Cfg.IntegrityProtocols)
	c.Header("x-confidence-level", confidence.LevelLow)
	c.Header("x-confidence-reasons", confidence.ReasonPolicyGuard)
	c.JSON(http.StatusOK, datatypes.ChatResponse{
		Reply:             reply,
		Model:             "policy",
		Source:            "policy",
		Confidence:        confidence.LevelLow,
		ConfidenceReasons: []string{confidence.ReasonPolicyGuard},
		Escalated:         false,
	})
}

// writeKnowledgeResponse answers from the KB corpus without a model
// call.
func writeKnowledgeResponse(c *gin.Context, d *Deps, hit *kb.Result, locale string) {
	reply := strings.TrimSpace(hit.Reply)
	lang := "en"
	if locale == "es" || hit.Language == "es" {
		lang = "es"
	}
	c.Header("Cache-Control", "no-store")
	c.Header("x-model", "kb")
	c.Header("x-reply-digest-sha512", replyDigest(reply))
	c.Header("x-knowledge-id", hit.DocID)
	c.Header("x-integrity-gateway", d.Cfg.IntegrityGateway)
	c.Header("x-integrity-protocols", d.Cfg.IntegrityProtocols)
	c.Header("x-confidence-level", confidence.LevelHigh)
	c.Header("x-confidence-reasons", confidence.ReasonWebsiteKB)
	c.JSON(http.StatusOK, datatypes.ChatResponse{
		Reply:             reply,
		Model:             "kb",
		Source:            "kb",
		KnowledgeID:       hit.DocID,
		Language:          lang,
		Confidence:        confidence.LevelHigh,
		ConfidenceReasons: []string{confidence.ReasonWebsiteKB},
		Escalated:         false,
	})
}
