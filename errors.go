package main

import (
	"errors"
	"net"
	"strings"
)

// FatalError stops the whole fleet run immediately. These are
// billing/authentication failures on the solver side where retrying with
// another account cannot help.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as fatal.
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// IsFatalError checks if the error should stop the fleet run.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

// fatalErrorStrings are substrings of solver-API failures that mark an error
// fatal even when it arrives unwrapped.
var fatalErrorStrings = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
}

// ContainsFatalErrorString checks an error message for fatal indicators.
func ContainsFatalErrorString(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range fatalErrorStrings {
		if strings.Contains(errStr, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// retryableErrorPatterns are transport failures worth another attempt.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsRetryableError checks if the error is a temporary transport failure.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if IsFatalError(err) || ContainsFatalErrorString(err) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
