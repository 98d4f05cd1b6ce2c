// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsonline/chattia-gateway/services/gateway/store"
)

// HealthCheck answers liveness probes.
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// HealthSummary reports the non-secret gateway configuration so a
// client can confirm which deployment it is talking to.
func HealthSummary(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		origins := make([]string, 0, len(d.Cfg.AllowedOrigins)+1)
		origins = append(origins, d.Cfg.AllowedOrigins...)
		origins = append(origins, d.Cfg.IntegrityGateway)
		c.JSON(http.StatusOK, gin.H{
			"ok":              true,
			"signature_ttl":   d.Cfg.SignatureTTLSeconds,
			"gateway":         d.Cfg.IntegrityGateway,
			"protocols":       d.Cfg.IntegrityProtocols,
			"allowed_origins": origins,
			"channella_key":   d.Verifier.Channella(),
		})
	}
}

// DebugStorage runs the storage self-test and returns its report.
func DebugStorage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, store.SelfTest(c.Request.Context(), d.KV))
	}
}
