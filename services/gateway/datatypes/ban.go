// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// BanSnippetMax caps the stored evidence excerpt so ban records never
// retain meaningful user content.
const BanSnippetMax = 64

// BanRecord is the value stored under honeypot:block:<ip> when an address trips a
// honeypot. Snippet holds at most BanSnippetMax characters of the decoy
// value, for operator forensics only.
type BanRecord struct {
	Reason    string `json:"reason"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
	Field     string `json:"field,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}
