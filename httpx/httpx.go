// Package httpx builds the process-long-lived HTTP clients every backend
// in package store and llm shares, each with the explicit per-service
// timeout spec §5 requires, and a retry policy for idempotent operations
// grounded on github.com/cenkalti/backoff/v4 (pulled from the
// steveyegge-beads pack member, the only example that retries HTTP calls
// made to an LLM-adjacent service with exponential backoff).
package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Timeouts used across the external collaborators named in spec §6.
const (
	DefaultTimeout      = 30 * time.Second
	LLMTimeout          = 60 * time.Second
	LocalEmbeddingTimeout = 120 * time.Second
)

// NewClient returns an *http.Client with an explicit timeout and a
// shared, reusable transport (connection pooling owned by the client, as
// spec §5's "shared-resource policy" requires).
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Permanent marks err as non-retryable, matching backoff's contract for
// distinguishing Validation/NotFound (permanent) from BackendUnavailable
// (transient) per the spec §7 taxonomy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// RetryIdempotent retries op up to 3 times with exponential backoff,
// matching spec §5's "HTTP backends retry idempotent ops up to 3x with
// exponential backoff". op should wrap non-retryable failures with
// Permanent.
func RetryIdempotent(ctx context.Context, op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

// CheckStatus turns a non-2xx HTTP response into an error, permanent for
// 4xx (caller error, not worth retrying) and transient for 5xx.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := fmt.Errorf("httpx: unexpected status %d from %s", resp.StatusCode, resp.Request.URL)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return Permanent(err)
	}
	return err
}
