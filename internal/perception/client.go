// Package perception turns prompts into raw model text.
//
// Provider clients (OpenAI-compatible, Anthropic, Gemini, scripted) perform
// exactly one call per Generate. The Gateway wraps a client with the
// deadline, bounded retry, rate limiting and failure classification that
// the translation node relies on.
package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps how much of a provider body is read.
const maxResponseBytes = 1 << 20

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// postJSON sends body to url and returns the response body of a 2xx answer.
// Non-2xx answers become *APIError, local build failures wrap ErrBadRequest,
// and transport failures are wrapped as-is.
func postJSON(ctx context.Context, hc *http.Client, provider, url string, headers map[string]string, body any) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", ErrBadRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrBadRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
