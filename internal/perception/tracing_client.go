package perception

import (
	"context"
	"time"

	"pupper/internal/logging"
	"pupper/internal/types"
)

// TraceSink receives one observation per provider call.
type TraceSink interface {
	ObserveGatewayCall(provider, result string, duration time.Duration)
}

// TracingClient wraps any LLMClient and records every call.
type TracingClient struct {
	underlying LLMClient
	sink       TraceSink
}

// NewTracingClient creates a tracing wrapper around an existing client.
// sink may be nil, in which case calls are only logged.
func NewTracingClient(underlying LLMClient, sink TraceSink) *TracingClient {
	return &TracingClient{underlying: underlying, sink: sink}
}

// Name implements LLMClient.
func (tc *TracingClient) Name() string {
	return tc.underlying.Name()
}

// Unwrap returns the wrapped client.
func (tc *TracingClient) Unwrap() LLMClient {
	return tc.underlying
}

// Generate implements LLMClient with tracing.
func (tc *TracingClient) Generate(ctx context.Context, req types.LLMRequest) (string, error) {
	start := time.Now()
	logging.APIDebug("LLM call started: provider=%s model=%s user_len=%d", tc.underlying.Name(), req.Model, len(req.UserPrompt()))

	text, err := tc.underlying.Generate(ctx, req)
	duration := time.Since(start)

	result := "ok"
	if err != nil {
		result = string(Classify(err))
		logging.APIError("LLM call failed: provider=%s duration=%v err=%v", tc.underlying.Name(), duration, err)
	} else {
		logging.APIDebug("LLM call completed: provider=%s duration=%v response_len=%d", tc.underlying.Name(), duration, len(text))
	}

	if tc.sink != nil {
		tc.sink.ObserveGatewayCall(tc.underlying.Name(), result, duration)
	}
	return text, err
}
