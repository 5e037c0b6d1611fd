package perception

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMalformedEnvelope means the provider answered 2xx but the body could
	// not be decoded or carried no completion.
	ErrMalformedEnvelope = errors.New("malformed provider response")

	// ErrNotConfigured means the client is missing its API key or endpoint.
	ErrNotConfigured = errors.New("client not configured")

	// ErrScriptExhausted is returned by ScriptedClient after its last step.
	ErrScriptExhausted = errors.New("script exhausted")

	// ErrBadRequest means the request could not be built locally, e.g. an
	// unparseable base URL. It never reaches the network.
	ErrBadRequest = errors.New("invalid provider request")
)

// APIError is a non-2xx provider response.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, body)
}

// Transient reports whether the status is worth another attempt. A
// transient status is still a service error once retries run out.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
