package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"
)

// =============================================================================
// CapSolver API
// =============================================================================

type CapSolverResponse struct {
	ErrorId          int32          `json:"errorId"`
	ErrorCode        string         `json:"errorCode"`
	ErrorDescription string         `json:"errorDescription"`
	TaskId           string         `json:"taskId"`
	Status           string         `json:"status"`
	Solution         map[string]any `json:"solution"`
}

// CapSolverGeetest solves geetest challenges through the CapSolver task API.
type CapSolverGeetest struct {
	apiKey string
}

func NewCapSolverGeetest(apiKey string) *CapSolverGeetest {
	return &CapSolverGeetest{apiKey: apiKey}
}

func (c *CapSolverGeetest) SolveGeetest(ctx context.Context, gt, challenge string) (string, error) {
	res, err := capSolver(ctx, c.apiKey, map[string]any{
		"type":       "GeeTestTaskProxyLess",
		"websiteURL": recordPageURL,
		"gt":         gt,
		"challenge":  challenge,
	})
	if err != nil {
		return "", fmt.Errorf("capsolver request error: %w", err)
	}

	validate, ok := res.Solution["validate"].(string)
	if !ok || validate == "" {
		return "", fmt.Errorf("capsolver error %d: %s - %s", res.ErrorId, res.ErrorCode, res.ErrorDescription)
	}
	return validate, nil
}

func capSolver(ctx context.Context, apiKey string, taskData map[string]any) (*CapSolverResponse, error) {
	res, err := capSolverRequest(ctx, "https://api.capsolver.com/createTask", map[string]any{
		"clientKey": apiKey,
		"task":      taskData,
	})
	if err != nil {
		return nil, err
	}
	if res.ErrorId == 1 {
		return nil, handleCapSolverError(res.ErrorCode, res.ErrorDescription)
	}

	return capSolverPollResult(ctx, apiKey, res.TaskId)
}

func capSolverPollResult(ctx context.Context, apiKey, taskId string) (*CapSolverResponse, error) {
	uri := "https://api.capsolver.com/getTaskResult"
	for {
		select {
		case <-ctx.Done():
			return nil, errors.New("solve timeout")
		case <-time.After(time.Second):
		}

		res, err := capSolverRequest(ctx, uri, map[string]any{
			"clientKey": apiKey,
			"taskId":    taskId,
		})
		if err != nil {
			return nil, err
		}
		if res.ErrorId == 1 {
			return nil, handleCapSolverError(res.ErrorCode, res.ErrorDescription)
		}
		if res.Status == "ready" {
			return res, nil
		}
	}
}

func handleCapSolverError(code, description string) error {
	err := errors.New(description)
	if isFatalSolverError(code) {
		return NewFatalError(err)
	}
	return err
}

func capSolverRequest(ctx context.Context, uri string, payload any) (*CapSolverResponse, error) {
	return doJSONRequest[CapSolverResponse](ctx, uri, payload, 3)
}

// =============================================================================
// 2Captcha API
// =============================================================================

type TwoCaptchaResponse struct {
	ErrorId          int            `json:"errorId"`
	ErrorCode        string         `json:"errorCode"`
	ErrorDescription string         `json:"errorDescription"`
	TaskId           int64          `json:"taskId"`
	Status           string         `json:"status"`
	Solution         map[string]any `json:"solution"`
}

// TwoCaptchaGeetest solves geetest challenges through the 2Captcha task API.
type TwoCaptchaGeetest struct {
	apiKey string
}

func NewTwoCaptchaGeetest(apiKey string) *TwoCaptchaGeetest {
	return &TwoCaptchaGeetest{apiKey: apiKey}
}

func (c *TwoCaptchaGeetest) SolveGeetest(ctx context.Context, gt, challenge string) (string, error) {
	res, err := twoCaptcha(ctx, c.apiKey, map[string]any{
		"type":       "GeeTestTaskProxyless",
		"websiteURL": recordPageURL,
		"gt":         gt,
		"challenge":  challenge,
	})
	if err != nil {
		return "", fmt.Errorf("2captcha request error: %w", err)
	}

	validate, ok := res.Solution["validate"].(string)
	if !ok || validate == "" {
		return "", fmt.Errorf("2captcha solver error: no validate in response")
	}
	return validate, nil
}

func twoCaptcha(ctx context.Context, apiKey string, taskData map[string]any) (*TwoCaptchaResponse, error) {
	res, err := twoCaptchaRequest(ctx, "https://api.2captcha.com/createTask", map[string]any{
		"clientKey": apiKey,
		"task":      taskData,
	})
	if err != nil {
		return nil, err
	}
	if res.ErrorId != 0 {
		return nil, handleTwoCaptchaError(res.ErrorCode, res.ErrorDescription)
	}

	return twoCaptchaPollResult(ctx, apiKey, res.TaskId)
}

func twoCaptchaPollResult(ctx context.Context, apiKey string, taskId int64) (*TwoCaptchaResponse, error) {
	uri := "https://api.2captcha.com/getTaskResult"
	for {
		select {
		case <-ctx.Done():
			return nil, errors.New("solve timeout")
		case <-time.After(5 * time.Second): // 2captcha recommends 5s polling
		}

		res, err := twoCaptchaRequest(ctx, uri, map[string]any{
			"clientKey": apiKey,
			"taskId":    taskId,
		})
		if err != nil {
			return nil, err
		}
		if res.ErrorId != 0 {
			return nil, handleTwoCaptchaError(res.ErrorCode, res.ErrorDescription)
		}
		if res.Status == "ready" {
			return res, nil
		}
	}
}

func handleTwoCaptchaError(code, description string) error {
	err := fmt.Errorf("2captcha error: %s - %s", code, description)
	if isFatalSolverError(code) {
		return NewFatalError(err)
	}
	return err
}

func twoCaptchaRequest(ctx context.Context, uri string, payload any) (*TwoCaptchaResponse, error) {
	return doJSONRequest[TwoCaptchaResponse](ctx, uri, payload, 3)
}

// =============================================================================
// Helpers
// =============================================================================

// NewSolverFromConfig picks the configured provider, preferring CapSolver.
// Returns nil when no provider key is set; the fleet then surfaces
// challenge_required outcomes instead of solving them.
func NewSolverFromConfig() GeetestSolver {
	if key := GetCapSolverAPIKey(); key != "" {
		return NewCapSolverGeetest(key)
	}
	if key := GetTwoCaptchaAPIKey(); key != "" {
		return NewTwoCaptchaGeetest(key)
	}
	return nil
}

var fatalSolverCodes = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
	"ERROR_IP_NOT_ALLOWED",
	"ERROR_IP_BANNED",
}

func isFatalSolverError(errorCode string) bool {
	return slices.Contains(fatalSolverCodes, errorCode)
}

// doJSONRequest posts a JSON payload and decodes a JSON response, retrying
// transport failures with exponential backoff. Solver APIs are plain TLS
// endpoints, so stdlib net/http is enough here; the fingerprinted tls-client
// is reserved for the game-record host.
func doJSONRequest[T any](ctx context.Context, uri string, payload any, maxRetries int) (*T, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", uri, bytes.NewReader(payloadBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		responseData, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		result := new(T)
		if err := json.Unmarshal(responseData, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	return nil, fmt.Errorf("solver API request failed after %d retries: %w", maxRetries, lastErr)
}
