// Package httpclient provides the process-wide outbound HTTP client used by
// the forwarder-to-upstream adapter and the callback handler, plus a
// budget-bounded retry loop. Grounded on the notification-service's
// dispatcher.WebhookDispatcher's pattern of a single long-lived
// *http.Client wrapping a typed result, generalised here to a shared
// connection pool and a total (not per-attempt) timeout budget.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client is a process-lifetime singleton: one connection pool shared by
// every adapter dispatch and callback dispatch, never recreated per
// request.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New builds the shared client: up to 700 idle keep-alive connections per
// host and 1000 idle connections in total, with a 30s idle TTL. The number
// of open (non-idle) connections is not capped. Redirects are never
// followed; TLS verification stays on (no InsecureSkipVerify).
func New(logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 700,
		IdleConnTimeout:     30 * time.Second,
		DisableCompression:  false,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Result is the outcome of one http_send_with_retry call. 4xx/5xx responses
// are returned here with their status code. A transport-level failure comes
// back as StatusCode 0 with the error text in Text, and an exhausted budget
// as StatusCode 408 with Timeout set.
type Result struct {
	StatusCode int
	JSON       map[string]interface{} // non-nil iff the body parsed as JSON
	Text       string                 // raw body, always populated
	Timeout    bool                   // true iff the budget was exhausted before any attempt completed
}

// SendWithRetry runs a total-budget retry loop. timeoutMs bounds the whole
// call, not any single attempt: each attempt's
// own timeout shrinks to whatever budget remains (floored at 100ms).
// Only timeouts are retried; any other transport error or any HTTP status
// is returned immediately.
func (c *Client) SendWithRetry(ctx context.Context, method, url string, headers map[string]string, body []byte, timeoutMs int64, maxRetries int, backoffMs int64) Result {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	var last Result
	attempted := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if !attempted {
				return Result{StatusCode: 408, Timeout: true}
			}
			return last
		}

		perAttempt := remaining
		if perAttempt < 100*time.Millisecond {
			perAttempt = 100 * time.Millisecond
		}

		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		result, isTimeout, err := c.doOnce(attemptCtx, method, url, headers, body)
		cancel()
		attempted = true

		if err == nil {
			// A response was received at all — 2xx/3xx or not, it is
			// final. Only a client-side timeout is retryable.
			return result
		}
		if !isTimeout {
			last = Result{StatusCode: 0, Text: err.Error()}
			return last
		}
		last = Result{StatusCode: 408, Timeout: true}

		if attempt == maxRetries {
			return last
		}
		remaining = time.Until(deadline)
		if remaining <= 0 {
			return last
		}
		sleep := time.Duration(backoffMs) * time.Millisecond
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return last
		}
	}
	return last
}

func (c *Client) doOnce(ctx context.Context, method, url string, headers map[string]string, body []byte) (Result, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Result{}, false, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, true, err
		}
		return Result{}, false, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	result := Result{StatusCode: resp.StatusCode, Text: string(raw)}
	var parsed map[string]interface{}
	if json.Unmarshal(raw, &parsed) == nil {
		result.JSON = parsed
	}
	return result, false, nil
}
