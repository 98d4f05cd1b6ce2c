// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package integrity

import "net/http"

// Wire header names for the integrity protocol. Clients send these on
// every protected request; the gateway mirrors a subset on responses.
const (
	HeaderIntegrity          = "X-Integrity"
	HeaderIntegrityGateway   = "X-Integrity-Gateway"
	HeaderIntegrityProtocols = "X-Integrity-Protocols"
	HeaderIntegrityKey       = "X-Integrity-Key"
	HeaderChannella          = "X-OPS-Channella"
	HeaderChannellaPub       = "X-Channella-Pub"
	HeaderSignature          = "X-Request-Signature"
	HeaderTimestamp          = "X-Request-Timestamp"
	HeaderNonce              = "X-Request-Nonce"
	HeaderSessionNonce       = "X-Session-Nonce"
	HeaderBodySignature      = "X-Signature-HMAC-SHA512"
)

// ForwardedHeaders is the allowlist copied onto escalation requests so
// the premium tier can re-run the same gate.
var ForwardedHeaders = []string{
	HeaderIntegrity,
	HeaderIntegrityGateway,
	HeaderIntegrityProtocols,
	HeaderSignature,
	HeaderTimestamp,
	HeaderNonce,
	HeaderChannella,
	HeaderIntegrityKey,
	HeaderChannellaPub,
}

// HeadersFromRequest extracts the integrity header bundle. The channel
// key reads X-Integrity-Key first and falls back to X-OPS-Channella.
func HeadersFromRequest(h http.Header) Headers {
	channelKey := h.Get(HeaderIntegrityKey)
	if channelKey == "" {
		channelKey = h.Get(HeaderChannella)
	}
	return Headers{
		Integrity:  h.Get(HeaderIntegrity),
		Gateway:    h.Get(HeaderIntegrityGateway),
		Protocols:  h.Get(HeaderIntegrityProtocols),
		ChannelKey: channelKey,
		Signature:  h.Get(HeaderSignature),
		Timestamp:  h.Get(HeaderTimestamp),
		Nonce:      h.Get(HeaderNonce),
	}
}
