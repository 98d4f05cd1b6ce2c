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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsonline/chattia-gateway/services/gateway/integrity"
)

const maxEscalateBodyBytes = 64 * 1024

// HandleFallbackEscalate is POST /fallback/escalate: clients report
// degraded upstream behavior here and the payload is relayed to the
// escalation webhook. Only the header gate applies; the payload shape
// is free-form JSON.
func HandleFallbackEscalate(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := integrity.HeadersFromRequest(c.Request.Header)
		if gateErr := d.Verifier.CheckHeaders(h); gateErr != nil {
			d.Metrics.RecordGateRejection("fallback", gateErr.Code)
			rejectJSON(c, gateErr.Status, gateErr.Code)
			return
		}

		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEscalateBodyBytes))
		if err != nil {
			rejectJSON(c, http.StatusBadRequest, "Invalid JSON")
			return
		}
		payload := map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				rejectJSON(c, http.StatusBadRequest, "Invalid JSON")
				return
			}
		}

		payload["gateway"] = "ops-integrity-gateway"
		if _, ok := payload["timestamp"]; !ok {
			payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		}
		d.Escalator.ForwardTelemetry(payload)
		d.Metrics.RecordRequest("fallback", true)

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{"escalated": true})
	}
}
