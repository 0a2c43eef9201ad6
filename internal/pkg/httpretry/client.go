// Package httpretry provides an HTTP client with automatic retries,
// exponential backoff with jitter, and Retry-After support for
// quota-limited external APIs.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with bounded retries.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryClient creates a RetryClient around client. A nil client gets a
// default http.Client with a 30s timeout. maxRetries counts attempts after
// the initial request; baseDelay anchors the backoff curve.
func NewRetryClient(client HTTPDoer, maxRetries int, baseDelay time.Duration) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 1 * time.Second
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   60 * time.Second,
	}
}

// Do executes the request, retrying on 429/5xx and transient network
// errors. Client errors (400-404) return immediately. On the final
// attempt the response is returned as-is so the caller can inspect it.
// A Retry-After header on a 429 overrides the computed backoff.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
		} else {
			if !isRetryableStatus(resp.StatusCode) {
				return resp, nil
			}
			if attempt == rc.maxRetries {
				return resp, nil
			}
			delay := rc.calculateDelay(attempt + 1)
			if ra := retryAfter(resp); ra > 0 {
				delay = ra
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
			if !rc.sleep(req, delay, attempt+1) {
				return nil, lastErr
			}
			continue
		}

		if attempt == rc.maxRetries {
			break
		}
		if !rc.sleep(req, rc.calculateDelay(attempt+1), attempt+1) {
			return nil, lastErr
		}

		// Reset the request body for the retry if the caller provided one.
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("httpretry: reset request body: %w", err)
			}
			req.Body = body
		}
	}

	return nil, lastErr
}

// sleep waits for delay or until the request context ends. Returns false
// when the context ended first.
func (rc *RetryClient) sleep(req *http.Request, delay time.Duration, attempt int) bool {
	log.Printf("httpretry: retry %d/%d for %s %s%s in %s",
		attempt, rc.maxRetries, req.Method, req.URL.Host, req.URL.Path, delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-req.Context().Done():
		return false
	}
}

// calculateDelay applies exponential backoff with full jitter:
// random(100ms, min(maxDelay, baseDelay * 2^(attempt-1))).
func (rc *RetryClient) calculateDelay(attempt int) time.Duration {
	expDelay := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(rc.maxDelay) {
		expDelay = float64(rc.maxDelay)
	}
	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// isRetryableStatus reports whether the status indicates a transient
// condition: 429 and the 5xx gateway/server family.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
