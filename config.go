package main

import "os"

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.dsSalt=YOUR_SALT -X main.capSolverKey=YOUR_KEY"
var (
	dsSalt        string // -X main.dsSalt=...
	capSolverKey  string // -X main.capSolverKey=...
	twoCaptchaKey string // -X main.twoCaptchaKey=...
)

// GetDSSalt returns the DS signing salt (build-time or env fallback).
func GetDSSalt() string {
	if dsSalt != "" {
		return dsSalt
	}
	return os.Getenv("DS_SALT")
}

// GetCapSolverAPIKey returns the CapSolver API key (build-time or env fallback)
func GetCapSolverAPIKey() string {
	if capSolverKey != "" {
		return capSolverKey
	}
	return os.Getenv("CAPSOLVER_KEY")
}

// GetTwoCaptchaAPIKey returns the 2Captcha API key (build-time or env fallback)
func GetTwoCaptchaAPIKey() string {
	if twoCaptchaKey != "" {
		return twoCaptchaKey
	}
	return os.Getenv("2CAP_KEY")
}
