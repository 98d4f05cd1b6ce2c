// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/opsonline/chattia-gateway/services/gateway/abuse"
	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
	"github.com/opsonline/chattia-gateway/services/gateway/policy"
)

// fallbackSttModel is used when no transcription model is configured.
const fallbackSttModel = "whisper-1"

// multipartOverheadBytes is headroom on top of the audio cap for the
// multipart framing and the small text fields.
const multipartOverheadBytes = 64 * 1024

// HandleStt is POST /api/stt: multipart audio in, sanitized transcript
// out. The signature covers the raw multipart body, so the body is read
// once up front and re-parsed from memory after the gate passes.
func HandleStt(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleStt")
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		if d.checkBan(c, "stt") {
			return
		}

		limit := d.Cfg.MaxAudioBytes + multipartOverheadBytes
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
		if err != nil {
			rejectJSON(c, http.StatusInternalServerError, "Failed to transcribe audio")
			return
		}

		if d.enforceIntegrity(c, "stt", "/api/stt", body) {
			return
		}

		ct := strings.ToLower(c.GetHeader("Content-Type"))
		if !strings.Contains(ct, "multipart/form-data") {
			rejectJSON(c, http.StatusBadRequest, "Expected multipart/form-data")
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if err := c.Request.ParseMultipartForm(limit); err != nil {
			rejectJSON(c, http.StatusBadRequest, "Expected multipart/form-data")
			return
		}
		form := url.Values(c.Request.MultipartForm.Value)

		if hit := d.Honeypot.ScanForm(form); hit != nil {
			d.registerBan(c, "stt", hit)
			return
		}
		if d.enforceTurnstile(c, abuse.ExtractTokenFromForm(form)) {
			return
		}

		files := c.Request.MultipartForm.File["audio"]
		if len(files) == 0 {
			rejectJSON(c, http.StatusBadRequest, "Audio blob missing")
			return
		}
		audioHeader := files[0]
		if audioHeader.Size > d.Cfg.MaxAudioBytes {
			rejectJSON(c, http.StatusRequestEntityTooLarge, "Audio payload exceeds limit")
			return
		}
		audio, err := audioHeader.Open()
		if err != nil {
			rejectJSON(c, http.StatusInternalServerError, "Failed to transcribe audio")
			return
		}
		defer audio.Close()

		locale := policy.SanitizeLocale(form.Get("lang"))
		prefer := strings.ToLower(strings.TrimSpace(form.Get("prefer")))
		model := d.Cfg.SelectSttModel(prefer, fallbackSttModel)

		start := time.Now()
		transcript, err := d.Models.Transcribe(ctx, model, audio, audioHeader.Filename, locale)
		d.Metrics.RecordModelLatency("transcribe", model, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger().Error("transcription failed", "error", err, "model", model)
			d.Metrics.RecordRequest("stt", false)
			rejectJSON(c, http.StatusInternalServerError, "Failed to transcribe audio")
			return
		}

		clean := policy.Sanitize(transcript)
		d.Metrics.RecordRequest("stt", true)

		c.Header("Cache-Control", "no-store")
		c.Header("x-model", model)
		c.Header("x-transcript-digest-sha512", replyDigest(clean))
		c.Header("x-integrity-gateway", d.Cfg.IntegrityGateway)
		c.Header("x-integrity-protocols", d.Cfg.IntegrityProtocols)
		c.JSON(http.StatusOK, datatypes.SttResponse{Text: clean, Model: model})
	}
}
