package main

import (
	"context"
	"math/rand"
	"time"
)

const (
	// defaultMaxAttempts bounds transient retries per query.
	defaultMaxAttempts = 3

	// defaultBackoffBase is the first retry delay; subsequent delays double.
	defaultBackoffBase = time.Second

	// maxBackoff caps the exponential growth.
	maxBackoff = 8 * time.Second
)

// attemptFunc performs one signed HTTP attempt and returns its classified
// outcome. verification is non-nil only on the re-attempt after a solved
// challenge; the implementation must attach it to the request.
type attemptFunc func(ctx context.Context, verification *Verification) Outcome

// solveFunc resolves a human-verification challenge through the external
// oracle. nil means no oracle is configured.
type solveFunc func(ctx context.Context) (*Verification, error)

// Engine drives the bounded attempt loop for one logical query. Terminal
// outcomes are final: the engine never re-attempts after returning.
//
// Transient outcomes (unknown retcodes, transport failures) are retried up to
// MaxAttempts with jittered exponential backoff. A challenge outcome triggers
// at most one verification round-trip per query; it does not consume the
// transient budget.
type Engine struct {
	MaxAttempts int
	BackoffBase time.Duration
	Logger      Logger
}

func (e *Engine) maxAttempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return defaultMaxAttempts
}

func (e *Engine) backoffBase() time.Duration {
	if e.BackoffBase > 0 {
		return e.BackoffBase
	}
	return defaultBackoffBase
}

func (e *Engine) logger() Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return noopLogger{}
}

// Run executes the attempt loop until a terminal outcome. label names the
// endpoint in diagnostic records.
func (e *Engine) Run(ctx context.Context, label string, attempt attemptFunc, solve solveFunc) Outcome {
	var verification *Verification
	verified := false
	transient := 0
	attemptNum := 0

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomeCancelled, Err: err}
		}

		attemptNum++
		out := attempt(ctx, verification)
		verification = nil
		e.logger().Log("%s attempt %d -> %s (retcode %d)", label, attemptNum, out.Kind, out.Retcode)
		if out.Body != "" && out.Kind != OutcomeSuccess {
			e.logger().Log("%s response: %s", label, out.Body)
		}

		switch out.Kind {
		case OutcomeChallengeRequired:
			if solve == nil {
				e.logger().Log("%s: verification required but no solver configured", label)
				return out
			}
			if verified {
				// One verification round-trip per query; a second challenge
				// means the solved token was not accepted.
				return out
			}
			verified = true

			v, err := solve(ctx)
			if ctx.Err() != nil {
				return Outcome{Kind: OutcomeCancelled, Err: ctx.Err()}
			}
			if err != nil || v == nil {
				out.Err = err
				return out
			}
			verification = v
			// Verification re-attempts do not consume the transient budget.
			continue

		case OutcomeUnknown, OutcomeNetworkError:
			if out.Kind == OutcomeNetworkError && out.Err != nil && !IsRetryableError(out.Err) {
				return out
			}
			transient++
			if transient >= e.maxAttempts() {
				return Outcome{
					Kind:    OutcomeRetryExhausted,
					Retcode: out.Retcode,
					Message: out.Message,
					Body:    out.Body,
					Err:     out.Err,
				}
			}
			if err := e.sleep(ctx, transient); err != nil {
				return Outcome{Kind: OutcomeCancelled, Err: err}
			}

		default:
			// Success, AlreadyDone, SessionExpired, SignatureInvalid,
			// Malformed, Cancelled: terminal.
			return out
		}
	}
}

// sleep blocks for the nth backoff delay, honoring cancellation. Delays are
// jittered so a fleet of accounts retrying together does not synchronize.
func (e *Engine) sleep(ctx context.Context, n int) error {
	delay := e.backoffBase() << (n - 1)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
