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
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/opsonline/chattia-gateway/services/gateway/datatypes"
	"github.com/opsonline/chattia-gateway/services/gateway/integrity"
)

// maxIssueBodyBytes bounds the mint request body; the five fields fit
// in well under a kilobyte.
const maxIssueBodyBytes = 4 * 1024

// =============================================================================
// Per-IP Rate Limiter
// =============================================================================

// issueLimiter rate-limits signature mints per client IP. Idle entries
// are dropped after limiterIdleTTL so the map cannot grow unbounded
// under address churn.
type issueLimiter struct {
	mu      sync.Mutex
	perMin  int
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTTL = 10 * time.Minute

func newIssueLimiter(perMinute int) *issueLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &issueLimiter{
		perMin:  perMinute,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow reports whether ip may mint now. Unknown (empty) IPs share one
// bucket.
func (l *issueLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.entries[ip] = e
		l.sweepLocked(now)
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// sweepLocked drops idle entries. Called with mu held, on the entry
// creation path only, so steady-state traffic pays nothing.
func (l *issueLimiter) sweepLocked(now time.Time) {
	for ip, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.entries, ip)
		}
	}
}

// =============================================================================
// Mint Handler
// =============================================================================

// issueWire tolerates the field spellings clients use for the mint
// request before it is normalized into datatypes.IssueRequest.
type issueWire struct {
	Ts         *int64 `json:"ts"`
	Timestamp  *int64 `json:"timestamp"`
	Nonce      string `json:"nonce"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	BodySha256 string `json:"body_sha256"`
	BodyShaAlt string `json:"bodySha256"`
}

// HandleIssue is POST /auth/issue: the header-only gate, a per-IP rate
// limit, then signature minting. Mint rejections use human-readable
// messages; only the gate uses machine codes.
func HandleIssue(d *Deps) gin.HandlerFunc {
	limiter := newIssueLimiter(d.Cfg.IssueRatePerMinute)

	return func(c *gin.Context) {
		h := integrity.HeadersFromRequest(c.Request.Header)
		if gateErr := d.Verifier.CheckHeaders(h); gateErr != nil {
			d.Metrics.RecordGateRejection("issue", gateErr.Code)
			rejectJSON(c, gateErr.Status, gateErr.Code)
			return
		}

		if !limiter.Allow(clientIP(c)) {
			d.Metrics.RecordSignatureMint("rate_limited")
			rejectJSON(c, http.StatusTooManyRequests, "rate_limited")
			return
		}

		if !d.Verifier.HasSecret() {
			d.Metrics.RecordSignatureMint("error")
			rejectJSON(c, http.StatusInternalServerError, "Signature service unavailable")
			return
		}

		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIssueBodyBytes))
		if err != nil {
			d.Metrics.RecordSignatureMint("error")
			rejectJSON(c, http.StatusBadRequest, "Invalid JSON")
			return
		}
		var wire issueWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			d.Metrics.RecordSignatureMint("error")
			rejectJSON(c, http.StatusBadRequest, "Invalid JSON")
			return
		}

		req := datatypes.IssueRequest{
			Nonce:      wire.Nonce,
			Method:     wire.Method,
			Path:       wire.Path,
			BodySha256: wire.BodySha256,
		}
		switch {
		case wire.Ts != nil:
			req.Ts = *wire.Ts
		case wire.Timestamp != nil:
			req.Ts = *wire.Timestamp
		default:
			d.Metrics.RecordSignatureMint("error")
			rejectJSON(c, http.StatusBadRequest, "Invalid timestamp")
			return
		}
		if req.BodySha256 == "" {
			req.BodySha256 = wire.BodyShaAlt
		}

		resp, gateErr := d.Verifier.Mint(c.Request.Context(), req)
		if gateErr != nil {
			d.Metrics.RecordSignatureMint("error")
			rejectJSON(c, gateErr.Status, gateErr.Code)
			return
		}

		d.Metrics.RecordSignatureMint("success")
		c.Header("Cache-Control", "no-store")
		c.Header("x-signature-ttl", strconv.Itoa(d.Cfg.SignatureTTLSeconds))
		c.JSON(http.StatusOK, resp)
	}
}
