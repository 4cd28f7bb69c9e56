// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fault

// Envelope is the wire shape of every error response. HTTP handlers
// marshal it directly; the MCP adapter embeds it in an in-band tool
// error. The request id echoes the correlation id so a client report
// can be matched to server logs.
type Envelope struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

// ErrorBody carries the client-visible failure description.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// EnvelopeFor builds the wire envelope for an error. Unclassified
// errors surface as internal with a generic message.
func EnvelopeFor(err error, requestID string) Envelope {
	return Envelope{
		Error: ErrorBody{
			Code:    KindOf(err).String(),
			Message: MessageOf(err),
			Details: DetailsOf(err),
		},
		RequestID: requestID,
	}
}
