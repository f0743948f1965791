package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// script replays a fixed sequence of classified outcomes and records what the
// engine passed to each attempt.
type script struct {
	outcomes      []Outcome
	calls         int
	verifications []*Verification
}

func (s *script) attempt(_ context.Context, v *Verification) Outcome {
	s.verifications = append(s.verifications, v)
	out := s.outcomes[s.calls]
	s.calls++
	return out
}

func testEngine() *Engine {
	return &Engine{BackoffBase: time.Millisecond}
}

func solved() (*Verification, solveFunc, *int) {
	v := &Verification{Challenge: "c", Validate: "v", Seccode: "v|jordan"}
	calls := 0
	return v, func(ctx context.Context) (*Verification, error) {
		calls++
		return v, nil
	}, &calls
}

func TestChallengeThenSuccess(t *testing.T) {
	payload := json.RawMessage(`{"role":{"nickname":"Traveler"}}`)
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeChallengeRequired, Retcode: retcodeNeedVerify},
		{Kind: OutcomeSuccess, Payload: payload},
	}}
	v, solve, solveCalls := solved()

	out := testEngine().Run(context.Background(), "test", s.attempt, solve)

	if out.Kind != OutcomeSuccess {
		t.Fatalf("kind = %s, want success", out.Kind)
	}
	if string(out.Payload) != string(payload) {
		t.Errorf("payload = %s", out.Payload)
	}
	if s.calls != 2 {
		t.Errorf("attempts = %d, want 2", s.calls)
	}
	if *solveCalls != 1 {
		t.Errorf("solve calls = %d, want 1", *solveCalls)
	}
	if s.verifications[0] != nil {
		t.Error("first attempt should carry no verification")
	}
	if s.verifications[1] != v {
		t.Error("re-attempt should carry the solved verification")
	}
}

func TestTransientRetriesExhaust(t *testing.T) {
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeUnknown, Retcode: -999},
		{Kind: OutcomeUnknown, Retcode: -999},
		{Kind: OutcomeUnknown, Retcode: -999},
	}}

	out := testEngine().Run(context.Background(), "test", s.attempt, nil)

	if out.Kind != OutcomeRetryExhausted {
		t.Fatalf("kind = %s, want retry_exhausted", out.Kind)
	}
	if s.calls != 3 {
		t.Errorf("attempts = %d, want exactly 3", s.calls)
	}
	if out.Retcode != -999 {
		t.Errorf("terminal outcome lost the last retcode: %d", out.Retcode)
	}
}

func TestNetworkErrorsShareTransientBudget(t *testing.T) {
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeNetworkError, Err: errors.New("i/o timeout")},
		{Kind: OutcomeUnknown, Retcode: -999},
		{Kind: OutcomeNetworkError, Err: errors.New("connection reset")},
	}}

	out := testEngine().Run(context.Background(), "test", s.attempt, nil)

	if out.Kind != OutcomeRetryExhausted {
		t.Fatalf("kind = %s, want retry_exhausted", out.Kind)
	}
	if out.Err == nil {
		t.Error("terminal outcome lost the transport error")
	}
}

func TestNonRetryableTransportIsTerminal(t *testing.T) {
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeNetworkError, Err: errors.New("x509: certificate signed by unknown authority")},
	}}

	out := testEngine().Run(context.Background(), "test", s.attempt, nil)

	if out.Kind != OutcomeNetworkError {
		t.Fatalf("kind = %s, want network_error", out.Kind)
	}
	if s.calls != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for non-transient transport errors)", s.calls)
	}
}

func TestSessionExpiredIsTerminal(t *testing.T) {
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeSessionExpired, Retcode: -100},
	}}
	_, solve, solveCalls := solved()

	out := testEngine().Run(context.Background(), "test", s.attempt, solve)

	if out.Kind != OutcomeSessionExpired {
		t.Fatalf("kind = %s, want session_expired", out.Kind)
	}
	if s.calls != 1 {
		t.Errorf("attempts = %d, want 1", s.calls)
	}
	if *solveCalls != 0 {
		t.Errorf("oracle called %d times on session expiry", *solveCalls)
	}
}

func TestSignatureInvalidIsNeverRetried(t *testing.T) {
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeSignatureInvalid, Retcode: -502},
	}}

	out := testEngine().Run(context.Background(), "test", s.attempt, nil)

	if out.Kind != OutcomeSignatureInvalid || s.calls != 1 {
		t.Errorf("kind = %s after %d attempts, want signature_invalid after 1", out.Kind, s.calls)
	}
}

func TestChallengeWithoutOracle(t *testing.T) {
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeChallengeRequired, Retcode: retcodeNeedVerify},
	}}

	out := testEngine().Run(context.Background(), "test", s.attempt, nil)

	if out.Kind != OutcomeChallengeRequired {
		t.Fatalf("kind = %s, want challenge_required", out.Kind)
	}
	if s.calls != 1 {
		t.Errorf("attempts = %d, want 1 (no re-attempt without a solver)", s.calls)
	}
}

func TestOracleFailureSurfacesChallenge(t *testing.T) {
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeChallengeRequired, Retcode: retcodeNeedVerify},
	}}
	solveErr := errors.New("solver out of balance")
	solve := func(ctx context.Context) (*Verification, error) { return nil, solveErr }

	out := testEngine().Run(context.Background(), "test", s.attempt, solve)

	if out.Kind != OutcomeChallengeRequired {
		t.Fatalf("kind = %s, want challenge_required", out.Kind)
	}
	if !errors.Is(out.Err, solveErr) {
		t.Errorf("outcome should carry the solver error, got %v", out.Err)
	}
	if s.calls != 1 {
		t.Errorf("attempts = %d, want 1", s.calls)
	}
}

func TestAtMostOneVerificationPerQuery(t *testing.T) {
	// The server keeps demanding verification even after a solved challenge.
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeChallengeRequired, Retcode: retcodeNeedVerify},
		{Kind: OutcomeChallengeRequired, Retcode: retcodeNeedVerify},
	}}
	_, solve, solveCalls := solved()

	out := testEngine().Run(context.Background(), "test", s.attempt, solve)

	if out.Kind != OutcomeChallengeRequired {
		t.Fatalf("kind = %s, want challenge_required", out.Kind)
	}
	if s.calls != 2 {
		t.Errorf("attempts = %d, want 2", s.calls)
	}
	if *solveCalls != 1 {
		t.Errorf("solve calls = %d, want exactly 1", *solveCalls)
	}
}

func TestVerificationDoesNotConsumeTransientBudget(t *testing.T) {
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeUnknown, Retcode: -999},
		{Kind: OutcomeChallengeRequired, Retcode: retcodeNeedVerify},
		{Kind: OutcomeUnknown, Retcode: -999},
		{Kind: OutcomeUnknown, Retcode: -999},
	}}
	_, solve, _ := solved()

	out := testEngine().Run(context.Background(), "test", s.attempt, solve)

	// Three transient outcomes total: the challenge in between must not
	// count against the budget.
	if out.Kind != OutcomeRetryExhausted {
		t.Fatalf("kind = %s, want retry_exhausted", out.Kind)
	}
	if s.calls != 4 {
		t.Errorf("attempts = %d, want 4", s.calls)
	}
}

func TestCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeNetworkError, Err: errors.New("connection reset")},
		{Kind: OutcomeSuccess},
	}}
	engine := &Engine{BackoffBase: time.Minute}

	attempt := func(ctx context.Context, v *Verification) Outcome {
		out := s.attempt(ctx, v)
		cancel()
		return out
	}

	done := make(chan Outcome, 1)
	go func() { done <- engine.Run(ctx, "test", attempt, nil) }()

	select {
	case out := <-done:
		if out.Kind != OutcomeCancelled {
			t.Fatalf("kind = %s, want cancelled", out.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not honor cancellation during backoff")
	}

	if s.calls != 1 {
		t.Errorf("attempts = %d, want 1", s.calls)
	}
}

func TestCancellationDuringSolve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &script{outcomes: []Outcome{
		{Kind: OutcomeChallengeRequired, Retcode: retcodeNeedVerify},
	}}
	solve := func(ctx context.Context) (*Verification, error) {
		cancel()
		return nil, ctx.Err()
	}

	out := testEngine().Run(ctx, "test", s.attempt, solve)

	if out.Kind != OutcomeCancelled {
		t.Fatalf("kind = %s, want cancelled", out.Kind)
	}
}

func TestCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &script{outcomes: []Outcome{{Kind: OutcomeSuccess}}}

	out := testEngine().Run(ctx, "test", s.attempt, nil)

	if out.Kind != OutcomeCancelled {
		t.Fatalf("kind = %s, want cancelled", out.Kind)
	}
	if s.calls != 0 {
		t.Errorf("attempts = %d, want 0", s.calls)
	}
}

func TestDeterministicTerminalOutcome(t *testing.T) {
	run := func() Outcome {
		s := &script{outcomes: []Outcome{
			{Kind: OutcomeUnknown, Retcode: -999},
			{Kind: OutcomeAlreadyDone, Retcode: retcodeAlreadySigned},
		}}
		return testEngine().Run(context.Background(), "test", s.attempt, nil)
	}

	first, second := run(), run()
	if first.Kind != second.Kind || first.Retcode != second.Retcode {
		t.Errorf("identical scripts produced %s/%d and %s/%d",
			first.Kind, first.Retcode, second.Kind, second.Retcode)
	}
	if first.Kind != OutcomeAlreadyDone {
		t.Errorf("kind = %s, want already_done", first.Kind)
	}
}
