package main

import (
	"encoding/json"
	"fmt"
	"slices"
)

// miHoYo API retcodes. The envelope carries the real status; the HTTP status
// is 200 even for failures.
const (
	retcodeSuccess       = 0
	retcodeAlreadySigned = 1008
	retcodeNeedVerify    = 1034
)

// sessionExpiredCodes are the retcodes the server uses for stale or missing
// login state across its endpoint families.
var sessionExpiredCodes = []int{-100, 10001, 10103}

// invalidDSCodes indicate the DS header failed server-side validation.
var invalidDSCodes = []int{-502, 10104}

// envelope is the JSON wrapper every takumi endpoint responds with.
type envelope struct {
	Retcode int             `json:"retcode"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// classify maps one raw response to exactly one Outcome. It is pure:
// no logging, no side effects; the caller owns diagnostics.
func classify(status int, body []byte) Outcome {
	// Rate limiting and gateway failures arrive as HTML, not an envelope;
	// they are transient, not a parsing bug.
	if status == 429 || status >= 500 {
		return Outcome{
			Kind:    OutcomeUnknown,
			Message: fmt.Sprintf("http status %d", status),
			Body:    bodyPreview(body),
		}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Outcome{Kind: OutcomeMalformed, Err: err, Body: bodyPreview(body)}
	}

	out := Outcome{Retcode: env.Retcode, Message: env.Message, Body: bodyPreview(body)}

	switch {
	case slices.Contains(sessionExpiredCodes, env.Retcode):
		out.Kind = OutcomeSessionExpired
	case slices.Contains(invalidDSCodes, env.Retcode):
		out.Kind = OutcomeSignatureInvalid
	case env.Retcode == retcodeNeedVerify:
		out.Kind = OutcomeChallengeRequired
	case env.Retcode == retcodeAlreadySigned:
		out.Kind = OutcomeAlreadyDone
	case env.Retcode == retcodeSuccess:
		out.Kind = OutcomeSuccess
		out.Payload = env.Data
	default:
		out.Kind = OutcomeUnknown
	}

	return out
}

// bodyPreview truncates a response body for diagnostic records.
func bodyPreview(body []byte) string {
	const maxPreview = 500
	if len(body) > maxPreview {
		return string(body[:maxPreview])
	}
	return string(body)
}
