package main

import (
	"crypto/md5"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrNoSalt means no DS salt is configured. Signing is impossible, so a
// query aborts before any network call.
var ErrNoSalt = errors.New("no DS salt configured")

// Signer produces the DS header value for one attempt. The server validates
// the signature within a short time window, so implementations must be pure
// functions of (inputs, current second) and callers must re-sign every
// attempt instead of caching.
type Signer interface {
	Sign(query string, body []byte) (string, error)
}

// SaltSigner implements the web-v2 DS scheme: an MD5 over the salt, a
// one-second time bucket, a random nonce, the request body and the sorted
// query string, formatted as "t,r,hash".
type SaltSigner struct {
	salt string

	// Overridable for deterministic tests.
	now     func() time.Time
	nonceFn func() int
}

// NewSaltSigner returns a signer for the given deployment salt.
func NewSaltSigner(salt string) (*SaltSigner, error) {
	if salt == "" {
		return nil, ErrNoSalt
	}
	return &SaltSigner{
		salt:    salt,
		now:     time.Now,
		nonceFn: func() int { return 100001 + rand.Intn(100000) },
	}, nil
}

// Sign computes the DS header. query must already be the canonical sorted
// form (url.Values.Encode sorts by key); body is the exact JSON that will be
// sent, or nil for GET requests.
func (s *SaltSigner) Sign(query string, body []byte) (string, error) {
	if s.salt == "" {
		return "", ErrNoSalt
	}

	t := s.now().Unix()
	r := s.nonceFn()
	b := ""
	if len(body) > 0 {
		b = string(body)
	}

	sum := md5.Sum(fmt.Appendf(nil, "salt=%s&t=%d&r=%d&b=%s&q=%s", s.salt, t, r, b, query))
	return fmt.Sprintf("%d,%d,%x", t, r, sum), nil
}
