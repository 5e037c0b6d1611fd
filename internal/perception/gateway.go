package perception

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pupper/internal/config"
	"pupper/internal/logging"
	"pupper/internal/types"
)

// MaxRetryCap bounds GatewayConfig.MaxRetries.
const MaxRetryCap = config.MaxRetryCap

var errClientPanic = errors.New("client panicked")

// GatewayConfig controls one model gateway.
type GatewayConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64

	// Timeout is the overall deadline per Invoke, backoff and retries included.
	Timeout time.Duration

	// MaxRetries extra attempts after a transient failure, capped at MaxRetryCap.
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	// RateLimit in calls per second; 0 disables the limiter.
	RateLimit float64
	RateBurst int
}

// DefaultGatewayConfig returns sensible defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Model:           "gpt-4o-mini",
		MaxTokens:       150,
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 4 * time.Second,
		RateLimit:       10,
		RateBurst:       1,
	}
}

// GatewayConfigFromLLM maps the llm config section onto a GatewayConfig.
func GatewayConfigFromLLM(cfg config.LLMConfig) GatewayConfig {
	return GatewayConfig{
		Model:           cfg.Model,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		Timeout:         cfg.GetTimeout(),
		MaxRetries:      cfg.GetMaxRetries(),
		RetryBackoff:    cfg.GetRetryBackoff(),
		RetryBackoffMax: cfg.GetRetryBackoffMax(),
		RateLimit:       cfg.RateLimit,
		RateBurst:       1,
	}
}

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Gateway performs one model invocation per request with bounded retries.
// Safe for concurrent use.
type Gateway struct {
	client  LLMClient
	cfg     GatewayConfig
	limiter *rate.Limiter
	sleep   Sleeper
	logger  *zap.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) GatewayOption {
	return func(g *Gateway) { g.sleep = s }
}

// WithLimiter replaces the limiter built from RateLimit. nil disables limiting.
func WithLimiter(l *rate.Limiter) GatewayOption {
	return func(g *Gateway) { g.limiter = l }
}

// NewGateway wraps client.
func NewGateway(client LLMClient, cfg GatewayConfig, opts ...GatewayOption) *Gateway {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries > MaxRetryCap {
		cfg.MaxRetries = MaxRetryCap
	}
	if cfg.RetryBackoffMax > 0 && cfg.RetryBackoff > cfg.RetryBackoffMax {
		cfg.RetryBackoff = cfg.RetryBackoffMax
	}
	if cfg.RateBurst < 1 {
		cfg.RateBurst = 1
	}

	g := &Gateway{
		client: client,
		cfg:    cfg,
		sleep:  sleepWithContext,
		logger: zap.NewNop(),
	}
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Provider returns the wrapped client's name.
func (g *Gateway) Provider() string {
	if g.client == nil {
		return ""
	}
	return g.client.Name()
}

// Config returns the effective configuration.
func (g *Gateway) Config() GatewayConfig {
	return g.cfg
}

// Model returns the model identifier sent with every call.
func (g *Gateway) Model() string {
	return g.cfg.Model
}

// Invoke sends p to the model and returns the raw text unmodified. Every
// error is a *types.TranslationFailure at StageAwaitingModel whose kind is
// gateway_unavailable or gateway_error.
func (g *Gateway) Invoke(ctx context.Context, p types.Prompt) (string, error) {
	if g.client == nil {
		return "", types.NewFailure(types.FailureGatewayError, types.StageAwaitingModel,
			fmt.Errorf("no model client: %w", ErrNotConfigured), "")
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	req := types.LLMRequest{
		Model:       g.cfg.Model,
		Messages:    p.Messages(),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}

	attempts := 1 + g.cfg.MaxRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := g.backoffFor(attempt - 1)
			logging.PerceptionWarn("[%s] retrying model call: attempt=%d/%d backoff=%v last_err=%v",
				g.client.Name(), attempt, attempts, wait, lastErr)
			if err := g.sleep(ctx, wait); err != nil {
				lastErr = fmt.Errorf("%w (last attempt: %v)", err, lastErr)
				break
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				lastErr = fmt.Errorf("rate limiter: %w", err)
				break
			}
		}

		text, err := g.call(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !Retryable(err) || ctx.Err() != nil {
			break
		}
	}

	kind := Classify(lastErr)
	g.logger.Warn("model call failed",
		zap.String("provider", g.client.Name()),
		zap.String("kind", string(kind)),
		zap.Error(lastErr))
	return "", types.NewFailure(kind, types.StageAwaitingModel, lastErr, "")
}

func (g *Gateway) call(ctx context.Context, req types.LLMRequest) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", errClientPanic, r)
		}
	}()
	return g.client.Generate(ctx, req)
}

// backoffFor returns base * 2^(retry-1), capped at RetryBackoffMax.
func (g *Gateway) backoffFor(retry int) time.Duration {
	if g.cfg.RetryBackoff <= 0 {
		return 0
	}
	wait := g.cfg.RetryBackoff * time.Duration(1<<(retry-1))
	if g.cfg.RetryBackoffMax > 0 && wait > g.cfg.RetryBackoffMax {
		wait = g.cfg.RetryBackoffMax
	}
	return wait
}

// Classify maps a client error onto the failure taxonomy. Error statuses,
// undecodable envelopes and local faults are gateway_error; transport
// faults, deadlines and cancellations are gateway_unavailable.
func Classify(err error) types.FailureKind {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errClientPanic),
		errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrMalformedEnvelope),
		errors.Is(err, ErrScriptExhausted),
		errors.As(err, &apiErr):
		return types.FailureGatewayError
	default:
		return types.FailureGatewayUnavailable
	}
}

// Retryable reports whether another attempt may succeed: transport faults
// and deadlines, plus transient statuses (408, 429, 502, 503, 504).
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return Classify(err) == types.FailureGatewayUnavailable
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
