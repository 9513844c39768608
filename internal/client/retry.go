// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// RetryPolicy controls how the client retries throttled or failed calls
type RetryPolicy struct {
	MaxRetries        int           // 0 disables retries
	InitialBackoff    time.Duration // delay before the first retry
	MaxBackoff        time.Duration // upper bound for any delay
	BackoffMultiplier float64       // growth factor between retries
	JitterFraction    float64       // +/- share of the delay randomised (0.0-1.0)
	RetryableStatuses []int
}

// DefaultRetryPolicy retries 429 and gateway errors three times
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
		RetryableStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// NoRetry returns a policy that sends every request once
func NoRetry() *RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = 0
	return p
}

// Backoff returns the delay before retry number attempt (0-indexed):
// InitialBackoff * BackoffMultiplier^attempt, capped and jittered
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.InitialBackoff)
	if attempt > 0 {
		delay *= math.Pow(p.BackoffMultiplier, float64(attempt))
	}
	delay = math.Min(delay, float64(p.MaxBackoff))

	if p.JitterFraction > 0 {
		spread := delay * p.JitterFraction
		delay += (rand.Float64()*2 - 1) * spread
		delay = math.Max(delay, 0)
	}
	return time.Duration(delay)
}

// Retryable reports whether status is in the retryable set
func (p *RetryPolicy) Retryable(status int) bool {
	for _, code := range p.RetryableStatuses {
		if code == status {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether a response with status, received on attempt,
// should be retried
func (p *RetryPolicy) ShouldRetry(status, attempt int) bool {
	return attempt < p.MaxRetries && p.Retryable(status)
}

// isCSRFRejection detects a 403 caused by a missing or stale CSRF token, as
// returned by SAP gateways
func isCSRFRejection(resp *http.Response, body []byte) bool {
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		return false
	}
	if strings.EqualFold(resp.Header.Get("X-CSRF-Token"), "required") {
		return true
	}
	return strings.Contains(strings.ToLower(string(body)), "csrf")
}
