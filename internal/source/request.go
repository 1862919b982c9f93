package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// APIError is a non-2xx reply from the gateway.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable reports whether a later attempt may succeed.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// get fetches path and decodes the JSON body into result. Retryable
// failures are retried with jittered exponential backoff; client errors
// surface immediately.
func (c *Client) get(ctx context.Context, path string, result any) error {
	backoff := c.retryBackoff
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Jitter: 0.5x to 1.5x of the nominal backoff.
			wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			c.logger.Debug("retrying gateway request",
				"path", path,
				"attempt", attempt,
				"wait", wait,
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			backoff *= 2
		}

		body, err := c.fetch(ctx, path)
		if err == nil {
			if err := json.Unmarshal(body, result); err != nil {
				return fmt.Errorf("decode gateway response: %w", err)
			}
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return err
		}
	}

	return fmt.Errorf("gateway retries exhausted: %w", lastErr)
}

// fetch performs a single GET against the gateway.
func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}

	return body, nil
}
