// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// SttResponse is the body of a successful POST /api/stt.
type SttResponse struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}
