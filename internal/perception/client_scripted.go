package perception

import (
	"context"
	"fmt"
	"sync"

	"pupper/internal/types"
)

// maxRecordedRequests bounds the request history a ScriptedClient keeps.
const maxRecordedRequests = 256

// ScriptStep is one scripted reply: either text or an error.
type ScriptStep struct {
	Text string
	Err  error
}

// ScriptedClient replays a fixed list of replies in order. It is used for
// dry runs and tests.
type ScriptedClient struct {
	mu       sync.Mutex
	steps    []ScriptStep
	index    int
	loop     bool
	calls    int
	requests []types.LLMRequest
}

// NewScriptedClient returns a client that answers with texts in order.
func NewScriptedClient(texts ...string) *ScriptedClient {
	steps := make([]ScriptStep, len(texts))
	for i, t := range texts {
		steps[i] = ScriptStep{Text: t}
	}
	return NewScriptedClientWithSteps(steps...)
}

// NewScriptedClientWithSteps returns a client replaying steps, errors included.
func NewScriptedClientWithSteps(steps ...ScriptStep) *ScriptedClient {
	return &ScriptedClient{steps: append([]ScriptStep(nil), steps...)}
}

// Loop makes the client restart from the first step instead of failing
// once the script is exhausted.
func (c *ScriptedClient) Loop() *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loop = true
	return c
}

// Name implements LLMClient.
func (c *ScriptedClient) Name() string {
	return string(ProviderScripted)
}

// Generate returns the next scripted step.
func (c *ScriptedClient) Generate(ctx context.Context, req types.LLMRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if len(c.requests) == maxRecordedRequests {
		copy(c.requests, c.requests[1:])
		c.requests = c.requests[:maxRecordedRequests-1]
	}
	c.requests = append(c.requests, req)
	if c.index >= len(c.steps) {
		if !c.loop || len(c.steps) == 0 {
			return "", fmt.Errorf("%w at step %d", ErrScriptExhausted, c.index)
		}
		c.index = 0
	}
	step := c.steps[c.index]
	c.index++
	return step.Text, step.Err
}

// Requests returns a copy of the most recent requests, oldest first.
func (c *ScriptedClient) Requests() []types.LLMRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.LLMRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Calls returns how many times Generate was invoked.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
