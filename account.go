package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Account is the per-account credential bundle: session cookies, the Android
// device id the cookies were minted for, and a display name for logs. It is
// read-only for the duration of a query; the only mutation ever performed is
// the one-time lazy fingerprint fill.
type Account struct {
	DisplayName string            `json:"display_name"`
	UID         string            `json:"uid"`
	DeviceID    string            `json:"device_id"`
	DeviceFP    string            `json:"device_fp,omitempty"`
	Cookies     map[string]string `json:"cookies"`

	fpOnce sync.Once

	// verifyMu serializes verification round-trips for this account so two
	// concurrent queries never solve two geetest challenges for one session.
	verifyMu sync.Mutex
}

// Fingerprint returns the device fingerprint, generating it exactly once if
// the account was loaded without one.
func (a *Account) Fingerprint() string {
	a.fpOnce.Do(func() {
		if a.DeviceFP == "" {
			a.DeviceFP = generateDeviceFP()
		}
	})
	return a.DeviceFP
}

// generateDeviceFP produces a 13-character fingerprint in the format the
// x-rpc-device_fp header expects.
func generateDeviceFP() string {
	seed := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "38" + seed[:11]
}

// CookieHeader renders the session cookies as a Cookie header value, sorted
// by name so requests are byte-stable across attempts.
func (a *Account) CookieHeader() string {
	names := make([]string, 0, len(a.Cookies))
	for name := range a.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+a.Cookies[name])
	}
	return strings.Join(pairs, "; ")
}

// Cookie returns a single cookie value, or "" if absent.
func (a *Account) Cookie(name string) string {
	return a.Cookies[name]
}

// validate checks the account carries at least a session identity.
func (a *Account) validate() error {
	if len(a.Cookies) == 0 {
		return fmt.Errorf("account %s: no session cookies", a.Name())
	}
	if a.DeviceID == "" {
		return fmt.Errorf("account %s: no device id", a.Name())
	}
	return nil
}

// Name returns the display name, falling back to the UID.
func (a *Account) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.UID
}

// LoadAccounts reads the account list from a JSON file.
func LoadAccounts(path string) ([]*Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var accounts []*Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts in %s", path)
	}

	for _, acct := range accounts {
		if acct.DeviceID == "" {
			acct.DeviceID = uuid.New().String()
		}
		if err := acct.validate(); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}
