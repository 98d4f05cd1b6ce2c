// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package abuse

import (
	"net/http"
	"strings"
)

// ClientIP derives the requesting address from trusted proxy headers in
// priority order: the connecting-IP header, then the first entry of the
// forwarded-for chain, then the real-IP header. Returns "" when none is
// present; callers treat an unknown address as unbannable rather than
// failing the request.
func ClientIP(h http.Header) string {
	if ip := strings.TrimSpace(h.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	for _, part := range strings.Split(h.Get("X-Forwarded-For"), ",") {
		if ip := strings.TrimSpace(part); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(h.Get("X-Real-IP"))
}
