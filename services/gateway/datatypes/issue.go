// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// IssueRequest is the body of POST /auth/issue: the client presents the
// exact canonical-string components it intends to sign a request with,
// and the gateway mints the signature.
//
// All five fields are required. The nonce must be 32 lowercase hex
// characters and is single-use for minting: a second mint with the same
// nonce/ts pair is rejected as a replay.
type IssueRequest struct {
	Ts         int64  `json:"ts" binding:"required"`
	Nonce      string `json:"nonce" binding:"required"`
	Method     string `json:"method" binding:"required"`
	Path       string `json:"path" binding:"required"`
	BodySha256 string `json:"body_sha256" binding:"required"`
}

// IssueResponse returns the minted signature and the remaining validity
// window in seconds.
type IssueResponse struct {
	Signature string `json:"signature"`
	ExpiresIn int64  `json:"expires_in"`
}
