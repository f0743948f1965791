package main

import "encoding/json"

// OutcomeKind is the closed set of classifications for one request attempt.
// Callers switch exhaustively on it; there is no free-form error fallthrough.
type OutcomeKind int

const (
	// OutcomeSuccess means the server accepted the request and returned a payload.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeAlreadyDone means the action was already performed server-side
	// (e.g. already checked in today). Treated as a successful no-op.
	OutcomeAlreadyDone

	// OutcomeSessionExpired means the session cookies are no longer valid.
	// Never retried here; the account must re-authenticate.
	OutcomeSessionExpired

	// OutcomeSignatureInvalid means the server rejected the DS header.
	// Retrying reproduces the failure, so it is terminal.
	OutcomeSignatureInvalid

	// OutcomeChallengeRequired means the server demands geetest human
	// verification before it will answer.
	OutcomeChallengeRequired

	// OutcomeMalformed means the response could not be parsed as a retcode
	// envelope. Terminal; retrying would mask a real bug.
	OutcomeMalformed

	// OutcomeUnknown is any other non-success retcode. Treated as transient
	// and retried within the attempt budget.
	OutcomeUnknown

	// OutcomeNetworkError is a transport-level failure (timeout, reset).
	// Retried within the attempt budget.
	OutcomeNetworkError

	// OutcomeRetryExhausted means the transient-retry budget ran out.
	OutcomeRetryExhausted

	// OutcomeCancelled means the caller's context was cancelled mid-query.
	OutcomeCancelled
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeSuccess:           "success",
	OutcomeAlreadyDone:       "already_done",
	OutcomeSessionExpired:    "session_expired",
	OutcomeSignatureInvalid:  "signature_invalid",
	OutcomeChallengeRequired: "challenge_required",
	OutcomeMalformed:         "malformed",
	OutcomeUnknown:           "unknown_error",
	OutcomeNetworkError:      "network_error",
	OutcomeRetryExhausted:    "retry_exhausted",
	OutcomeCancelled:         "cancelled",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return "invalid_outcome"
}

// Transient reports whether the kind is retried by the engine rather than
// surfaced immediately.
func (k OutcomeKind) Transient() bool {
	return k == OutcomeUnknown || k == OutcomeNetworkError
}

// Outcome is the result of one classified attempt (or of a whole query, once
// the engine terminates). Exactly one is produced per attempt.
type Outcome struct {
	Kind    OutcomeKind
	Retcode int
	Message string

	// Payload is the envelope's data field, set only on OutcomeSuccess.
	Payload json.RawMessage

	// Body is the truncated raw response body, kept for diagnostics on
	// non-success outcomes.
	Body string

	// Err carries the transport or verification error behind
	// OutcomeNetworkError, OutcomeRetryExhausted, OutcomeMalformed and
	// OutcomeCancelled.
	Err error
}

// OK reports whether the outcome counts as success for idempotent actions.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeAlreadyDone
}
