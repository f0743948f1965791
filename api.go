package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	http "github.com/bogdanfinn/fhttp"
)

// httpDoer is the slice of tls_client.HttpClient the API client needs.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one logical API call. Exactly one of Params or Body is
// populated: Params for GET, Body for POST. The DS signature is computed over
// whichever is set, fresh on every attempt.
type Request struct {
	URL    string
	Method string
	Params url.Values
	Body   map[string]any
}

func (r *Request) validate() error {
	switch r.Method {
	case http.MethodGet:
		if r.Body != nil {
			return fmt.Errorf("%s %s: GET request must not carry a body", r.Method, r.URL)
		}
	case http.MethodPost:
		if r.Params != nil {
			return fmt.Errorf("%s %s: POST request must not carry query params", r.Method, r.URL)
		}
		if r.Body == nil {
			return fmt.Errorf("%s %s: POST request missing body", r.Method, r.URL)
		}
	default:
		return fmt.Errorf("unsupported method %q", r.Method)
	}
	if r.Params != nil && r.Body != nil {
		return fmt.Errorf("%s %s: params and body are mutually exclusive", r.Method, r.URL)
	}
	return nil
}

// Oracle resolves a human-verification challenge for the bound account and
// returns the solved verification to attach to the re-attempt.
type Oracle interface {
	Solve(ctx context.Context) (*Verification, error)
}

// APIClient performs signed queries against the takumi game-record API for
// one account. Every attempt carries fresh device headers, the account's
// cookies and a freshly computed DS; the retry engine decides what to do with
// each classified response.
//
// Instances for different accounts are independent and safe to run
// concurrently; a single instance must not be shared across accounts.
type APIClient struct {
	client httpDoer
	signer Signer
	acct   *Account
	oracle Oracle
	engine *Engine
	logger Logger
}

// NewAPIClient builds a client for one account.
func NewAPIClient(client httpDoer, signer Signer, acct *Account, logger Logger) *APIClient {
	return &APIClient{
		client: client,
		signer: signer,
		acct:   acct,
		logger: logger,
		engine: &Engine{Logger: logger},
	}
}

// SetOracle wires the verification oracle. Without one, challenge outcomes
// are surfaced to the caller as "verification needed, no solver configured".
func (c *APIClient) SetOracle(o Oracle) {
	c.oracle = o
}

// Query performs one signed query. The returned error is non-nil only for
// contract violations (bad descriptor, unusable credentials, signer failure)
// detected before any network call; everything the server does is expressed
// as an Outcome.
func (c *APIClient) Query(ctx context.Context, req *Request) (Outcome, error) {
	return c.query(ctx, req, c.oracle)
}

// query is Query with an explicit oracle so the verification sub-protocol can
// issue its own signed calls without recursing into challenge solving.
func (c *APIClient) query(ctx context.Context, req *Request, oracle Oracle) (Outcome, error) {
	if err := req.validate(); err != nil {
		return Outcome{}, err
	}
	if err := c.acct.validate(); err != nil {
		return Outcome{}, err
	}
	// Signing must work before we touch the network; a missing salt is fatal.
	if _, err := c.signer.Sign(req.Params.Encode(), nil); err != nil {
		return Outcome{}, err
	}

	var solve solveFunc
	if oracle != nil {
		solve = oracle.Solve
	}

	attempt := func(ctx context.Context, v *Verification) Outcome {
		return c.doAttempt(ctx, req, v)
	}

	return c.engine.Run(ctx, req.Method+" "+req.URL, attempt, solve), nil
}

// doAttempt builds, signs and executes one HTTP attempt, returning its
// classified outcome. Classification never panics into the caller; anything
// unparseable is OutcomeMalformed.
func (c *APIClient) doAttempt(ctx context.Context, req *Request, v *Verification) Outcome {
	httpReq, err := c.buildRequest(ctx, req, v)
	if err != nil {
		return Outcome{Kind: OutcomeMalformed, Err: err}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeCancelled, Err: ctx.Err()}
		}
		return Outcome{Kind: OutcomeNetworkError, Err: err}
	}
	defer resp.Body.Close()

	body, err := readResponseBody(resp)
	if err != nil {
		return Outcome{Kind: OutcomeNetworkError, Err: err}
	}

	return classify(resp.StatusCode, body)
}

// buildRequest assembles the signed HTTP request for one attempt.
func (c *APIClient) buildRequest(ctx context.Context, req *Request, v *Verification) (*http.Request, error) {
	query := ""
	var bodyBytes []byte
	var err error

	if req.Params != nil {
		query = req.Params.Encode()
	}
	if req.Body != nil {
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	ds, err := c.signer.Sign(query, bodyBytes)
	if err != nil {
		return nil, err
	}

	target := req.URL
	if query != "" {
		target += "?" + query
	}

	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bodyReader)
	if err != nil {
		return nil, err
	}

	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	httpReq.Header = c.headers(parsed.Host, ds)
	if v != nil {
		// Indexed directly: Set would canonicalize the x-rpc casing.
		httpReq.Header["x-rpc-challenge"] = []string{v.Challenge}
		httpReq.Header["x-rpc-validate"] = []string{v.Validate}
		httpReq.Header["x-rpc-seccode"] = []string{v.Seccode}
	}
	return httpReq, nil
}

// headers builds the miHoYoBBS webview header set. Per-request values
// (device id, fingerprint, DS, cookies) are layered onto a fresh header map
// every attempt; nothing shared is ever mutated.
func (c *APIClient) headers(host, ds string) http.Header {
	return http.Header{
		"Host":               {host},
		"Connection":         {"keep-alive"},
		"x-rpc-tool_verison": {XRPCToolVersion},
		"x-rpc-app_version":  {XRPCAppVersion},
		"User-Agent":         {MiyousheUserAgent},
		"Accept":             {"application/json, text/plain, */*"},
		"x-rpc-device_id":    {c.acct.DeviceID},
		"x-rpc-device_fp":    {c.acct.Fingerprint()},
		"x-rpc-device_name":  {XRPCDeviceName},
		"x-rpc-page":         {XRPCPage},
		"x-rpc-sys_version":  {"12"},
		"x-rpc-client_type":  {"5"},
		"DS":                 {ds},
		"Origin":             {webstaticOrigin},
		"X-Requested-With":   {"com.mihoyo.hyperion"},
		"Sec-Fetch-Site":     {"same-site"},
		"Sec-Fetch-Mode":     {"cors"},
		"Sec-Fetch-Dest":     {"empty"},
		"Referer":            {webstaticReferer},
		"Accept-Encoding":    {"gzip, deflate, br"},
		"Accept-Language":    {"zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7"},
		"Content-Type":       {"application/json;charset=UTF-8"},
		"Cookie":             {c.acct.CookieHeader()},
		http.HeaderOrderKey: {
			"Host",
			"Connection",
			"x-rpc-tool_verison",
			"x-rpc-app_version",
			"User-Agent",
			"Accept",
			"x-rpc-device_id",
			"x-rpc-device_fp",
			"x-rpc-device_name",
			"x-rpc-page",
			"x-rpc-sys_version",
			"x-rpc-client_type",
			"x-rpc-challenge",
			"x-rpc-validate",
			"x-rpc-seccode",
			"DS",
			"Origin",
			"X-Requested-With",
			"Sec-Fetch-Site",
			"Sec-Fetch-Mode",
			"Sec-Fetch-Dest",
			"Referer",
			"Accept-Encoding",
			"Accept-Language",
			"Content-Type",
			"Cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}
}
