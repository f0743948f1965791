package main

import (
	"context"
	"io"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

// fakeDoer replays canned response bodies and captures outgoing requests.
type fakeDoer struct {
	responses []string
	requests  []*http.Request
	bodies    []string
	err       error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	body := ""
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	f.requests = append(f.requests, req)
	f.bodies = append(f.bodies, body)

	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[len(f.requests)-1]
	return &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(resp)),
	}, nil
}

func testAccount() *Account {
	return &Account{
		DisplayName: "Tester",
		UID:         "75012345",
		DeviceID:    "c0ffee00-1234-5678-9abc-def012345678",
		Cookies:     map[string]string{"ltuid": "75012345", "stoken": "v2_token"},
	}
}

func testClient(t *testing.T, doer *fakeDoer) *APIClient {
	t.Helper()
	signer, err := NewSaltSigner("test-salt")
	if err != nil {
		t.Fatalf("NewSaltSigner: %v", err)
	}
	api := NewAPIClient(doer, signer, testAccount(), noopLogger{})
	api.engine.BackoffBase = time.Millisecond
	return api
}

var dsFormat = regexp.MustCompile(`^\d+,\d+,[0-9a-f]{32}$`)

// headerValue reads a header by its exact key. Header.Get canonicalizes,
// which would miss the lowercase x-rpc keys and the all-caps DS.
func headerValue(h http.Header, key string) string {
	if vals := h[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func TestQueryRejectsMixedDescriptor(t *testing.T) {
	doer := &fakeDoer{}
	api := testClient(t, doer)

	_, err := api.Query(context.Background(), &Request{
		URL:    urlGenshinIndex,
		Method: http.MethodGet,
		Params: url.Values{"role_id": {"1"}},
		Body:   map[string]any{"role_id": "1"},
	})
	if err == nil {
		t.Fatal("expected contract-violation error")
	}
	if len(doer.requests) != 0 {
		t.Errorf("network was touched %d times before validation", len(doer.requests))
	}
}

func TestQueryRejectsPostWithParams(t *testing.T) {
	doer := &fakeDoer{}
	api := testClient(t, doer)

	_, err := api.Query(context.Background(), &Request{
		URL:    urlCharacterList,
		Method: http.MethodPost,
		Params: url.Values{"role_id": {"1"}},
	})
	if err == nil || len(doer.requests) != 0 {
		t.Errorf("err = %v, requests = %d; want validation error before network", err, len(doer.requests))
	}
}

func TestQueryRejectsMissingCredentials(t *testing.T) {
	doer := &fakeDoer{}
	signer, _ := NewSaltSigner("test-salt")
	api := NewAPIClient(doer, signer, &Account{DisplayName: "empty"}, noopLogger{})

	_, err := api.Query(context.Background(), &Request{URL: urlGenshinIndex, Method: http.MethodGet})
	if err == nil || len(doer.requests) != 0 {
		t.Errorf("err = %v, requests = %d; want credential error before network", err, len(doer.requests))
	}
}

func TestQueryAbortsWhenSignerUnusable(t *testing.T) {
	doer := &fakeDoer{}
	api := testClient(t, doer)
	api.signer = &SaltSigner{} // no salt

	_, err := api.Query(context.Background(), &Request{URL: urlGenshinIndex, Method: http.MethodGet})
	if err == nil || len(doer.requests) != 0 {
		t.Errorf("err = %v, requests = %d; want signer error before network", err, len(doer.requests))
	}
}

func TestQuerySendsSignedHeaders(t *testing.T) {
	doer := &fakeDoer{responses: []string{`{"retcode":0,"message":"OK","data":{}}`}}
	api := testClient(t, doer)

	out, err := api.Query(context.Background(), &Request{
		URL:    urlGenshinIndex,
		Method: http.MethodGet,
		Params: url.Values{"role_id": {"100000001"}, "server": {"cn_gf01"}},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if out.Kind != OutcomeSuccess {
		t.Fatalf("kind = %s", out.Kind)
	}

	req := doer.requests[0]
	if got := headerValue(req.Header, "DS"); !dsFormat.MatchString(got) {
		t.Errorf("DS header = %q, want t,r,hash format", got)
	}
	if got := headerValue(req.Header, "x-rpc-device_id"); got != "c0ffee00-1234-5678-9abc-def012345678" {
		t.Errorf("device id header = %q", got)
	}
	if got := headerValue(req.Header, "x-rpc-device_fp"); got != api.acct.Fingerprint() {
		t.Errorf("fingerprint header = %q", got)
	}
	if got := req.Header.Get("Cookie"); got != "ltuid=75012345; stoken=v2_token" {
		t.Errorf("cookie header = %q", got)
	}
	if got := req.URL.RawQuery; got != "role_id=100000001&server=cn_gf01" {
		t.Errorf("query = %q", got)
	}
}

func TestQueryResignsEveryAttempt(t *testing.T) {
	doer := &fakeDoer{responses: []string{
		`{"retcode":-999,"message":"busy"}`,
		`{"retcode":0,"message":"OK","data":{}}`,
	}}
	api := testClient(t, doer)
	api.signer.(*SaltSigner).nonceFn = func() int { return 100001 + len(doer.requests) }

	out, err := api.Query(context.Background(), &Request{URL: urlGenshinIndex, Method: http.MethodGet})
	if err != nil || out.Kind != OutcomeSuccess {
		t.Fatalf("out = %s, err = %v", out.Kind, err)
	}
	if len(doer.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(doer.requests))
	}

	first := headerValue(doer.requests[0].Header, "DS")
	second := headerValue(doer.requests[1].Header, "DS")
	if first == second {
		t.Error("DS was cached across attempts")
	}
}

type fixedOracle struct {
	v     *Verification
	calls int
}

func (o *fixedOracle) Solve(ctx context.Context) (*Verification, error) {
	o.calls++
	return o.v, nil
}

func TestQueryAttachesVerification(t *testing.T) {
	doer := &fakeDoer{responses: []string{
		`{"retcode":1034,"message":""}`,
		`{"retcode":0,"message":"OK","data":{"role":{"nickname":"Traveler"}}}`,
	}}
	api := testClient(t, doer)
	oracle := &fixedOracle{v: &Verification{Challenge: "ch", Validate: "va", Seccode: "va|jordan"}}
	api.SetOracle(oracle)

	out, err := api.Query(context.Background(), &Request{URL: urlGenshinIndex, Method: http.MethodGet})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if out.Kind != OutcomeSuccess {
		t.Fatalf("kind = %s", out.Kind)
	}
	if oracle.calls != 1 {
		t.Errorf("oracle calls = %d, want 1", oracle.calls)
	}

	first := doer.requests[0]
	if headerValue(first.Header, "x-rpc-challenge") != "" {
		t.Error("first attempt should not carry verification headers")
	}

	second := doer.requests[1]
	if headerValue(second.Header, "x-rpc-challenge") != "ch" ||
		headerValue(second.Header, "x-rpc-validate") != "va" ||
		headerValue(second.Header, "x-rpc-seccode") != "va|jordan" {
		t.Errorf("re-attempt verification headers = %q/%q/%q",
			headerValue(second.Header, "x-rpc-challenge"),
			headerValue(second.Header, "x-rpc-validate"),
			headerValue(second.Header, "x-rpc-seccode"))
	}
}

func TestQueryTransportFailure(t *testing.T) {
	doer := &fakeDoer{err: io.ErrUnexpectedEOF}
	api := testClient(t, doer)

	out, err := api.Query(context.Background(), &Request{URL: urlGenshinIndex, Method: http.MethodGet})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if out.Kind != OutcomeRetryExhausted {
		t.Errorf("kind = %s, want retry_exhausted", out.Kind)
	}
	if len(doer.requests) != defaultMaxAttempts {
		t.Errorf("requests = %d, want %d", len(doer.requests), defaultMaxAttempts)
	}
}
