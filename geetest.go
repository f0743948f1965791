package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

const (
	urlCreateVerification = takumiRecordBase + "/game_record/app/card/wapi/createVerification"
	urlVerifyVerification = takumiRecordBase + "/game_record/app/card/wapi/verifyVerification"

	// recordPageURL is the page the geetest widget is embedded in; solver
	// services want it for context.
	recordPageURL = "https://webstatic.mihoyo.com/app/community-game-records/index.html"

	// defaultVerifyTimeout bounds the whole create -> solve -> verify
	// round-trip.
	defaultVerifyTimeout = 3 * time.Minute
)

// Challenge is the geetest descriptor returned by createVerification.
type Challenge struct {
	Gt         string `json:"gt"`
	Challenge  string `json:"challenge"`
	NewCaptcha int    `json:"new_captcha"`
}

// Verification is a solved challenge, attached to the re-attempt as
// x-rpc-challenge / x-rpc-validate / x-rpc-seccode headers.
type Verification struct {
	Challenge string
	Validate  string
	Seccode   string
}

// GeetestSolver is the external solving service: geetest gt/challenge in,
// validate token out.
type GeetestSolver interface {
	SolveGeetest(ctx context.Context, gt, challenge string) (string, error)
}

// GeetestOracle runs the verification sub-protocol for one account:
// createVerification (signed GET) -> external solve -> verifyVerification
// (signed POST). Its own API calls never recurse into challenge solving.
type GeetestOracle struct {
	api     *APIClient
	solver  GeetestSolver
	timeout time.Duration
	logger  Logger
}

// NewGeetestOracle wires the oracle to the client it solves challenges for.
func NewGeetestOracle(api *APIClient, solver GeetestSolver, logger Logger) *GeetestOracle {
	return &GeetestOracle{
		api:     api,
		solver:  solver,
		timeout: defaultVerifyTimeout,
		logger:  logger,
	}
}

// Solve performs one full verification round-trip. Serialized per account:
// two concurrent queries for the same session never solve two challenges at
// once.
func (o *GeetestOracle) Solve(ctx context.Context) (*Verification, error) {
	acct := o.api.acct
	acct.verifyMu.Lock()
	defer acct.verifyMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ch, err := o.createVerification(ctx)
	if err != nil {
		return nil, err
	}

	o.logger.Log("%s: solving geetest (gt=%s)", acct.Name(), ch.Gt)
	validate, err := o.solver.SolveGeetest(ctx, ch.Gt, ch.Challenge)
	if err != nil {
		return nil, fmt.Errorf("geetest solve failed: %w", err)
	}

	v := &Verification{
		Challenge: ch.Challenge,
		Validate:  validate,
		Seccode:   validate + "|jordan",
	}

	if err := o.verifyVerification(ctx, v); err != nil {
		return nil, err
	}

	o.logger.Log("%s: verification passed", acct.Name())
	return v, nil
}

func (o *GeetestOracle) createVerification(ctx context.Context) (*Challenge, error) {
	out, err := o.api.query(ctx, &Request{
		URL:    urlCreateVerification,
		Method: http.MethodGet,
		Params: url.Values{"is_high": {"false"}},
	}, nil)
	if err != nil {
		return nil, err
	}
	if out.Kind != OutcomeSuccess {
		return nil, fmt.Errorf("createVerification: %s (retcode %d)", out.Kind, out.Retcode)
	}

	var ch Challenge
	if err := json.Unmarshal(out.Payload, &ch); err != nil {
		return nil, fmt.Errorf("createVerification: bad challenge payload: %w", err)
	}
	if ch.Gt == "" || ch.Challenge == "" {
		return nil, fmt.Errorf("createVerification: empty challenge descriptor")
	}
	return &ch, nil
}

func (o *GeetestOracle) verifyVerification(ctx context.Context, v *Verification) error {
	out, err := o.api.query(ctx, &Request{
		URL:    urlVerifyVerification,
		Method: http.MethodPost,
		Body: map[string]any{
			"geetest_challenge": v.Challenge,
			"geetest_validate":  v.Validate,
			"geetest_seccode":   v.Seccode,
		},
	}, nil)
	if err != nil {
		return err
	}
	if out.Kind != OutcomeSuccess {
		return fmt.Errorf("verifyVerification: %s (retcode %d)", out.Kind, out.Retcode)
	}
	return nil
}
