// Package node runs the per-request translation state machine:
// received -> prompting -> awaiting_model -> publishing -> published | failed.
//
// Every request ends in exactly one Outcome and exactly one outbound
// message: the encoded action sequence or the fallback string.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"pupper/internal/bus"
	"pupper/internal/config"
	"pupper/internal/logging"
	"pupper/internal/metrics"
	"pupper/internal/parser"
	"pupper/internal/telemetry"
	"pupper/internal/types"
	"pupper/internal/vocab"
)

// State is a position in the per-request state machine.
type State string

const (
	StateReceived      State = "received"
	StatePrompting     State = "prompting"
	StateAwaitingModel State = "awaiting_model"
	StatePublishing    State = "publishing"
	StatePublished     State = "published"
	StateFailed        State = "failed"
)

// Terminal reports whether s ends a request.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateFailed
}

var errTranslatePanic = errors.New("translation panicked")

// PromptBuilder renders the two-part prompt for an utterance.
type PromptBuilder interface {
	Build(utterance string) types.Prompt
}

// Gateway performs the model call. Errors are *types.TranslationFailure.
type Gateway interface {
	Invoke(ctx context.Context, p types.Prompt) (string, error)
}

// gatewayDescriber is implemented by gateways that can name their provider
// and model for span attributes.
type gatewayDescriber interface {
	Provider() string
	Model() string
}

// ResponseParser validates raw model text.
type ResponseParser interface {
	ParseDetailed(raw string) (parser.Result, error)
}

// DiagnosticSink receives one record per failed translation.
type DiagnosticSink interface {
	RecordDiagnostic(ctx context.Context, d types.Diagnostic) error
}

// Config controls publication and concurrency.
type Config struct {
	OutboundTopic   string
	FailureTopic    string // optional; empty disables failure records
	FallbackMessage string
	Workers         int
	PublishTimeout  time.Duration
}

// DefaultConfig returns the single-worker configuration on the default topics.
func DefaultConfig() Config {
	return Config{
		OutboundTopic:   bus.DefaultOutboundTopic,
		FallbackMessage: config.DefaultFallbackMessage,
		Workers:         1,
		PublishTimeout:  5 * time.Second,
	}
}

// ConfigFrom maps the bus and node config sections.
func ConfigFrom(cfg *config.Config) Config {
	nc := DefaultConfig()
	nc.OutboundTopic = cfg.Bus.OutboundTopic
	nc.FailureTopic = cfg.Bus.FailureTopic
	nc.FallbackMessage = cfg.Node.FallbackMessage
	nc.Workers = cfg.Node.Workers
	return nc
}

// Deps are the collaborators a Node is built from. Diagnostics, Metrics,
// Tracer and Logger are optional.
type Deps struct {
	Builder     PromptBuilder
	Gateway     Gateway
	Parser      ResponseParser
	Publisher   bus.Publisher
	Diagnostics DiagnosticSink
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// Outcome is the single terminal result of one request.
type Outcome struct {
	Request  types.CommandRequest
	State    State
	Sequence vocab.Sequence
	Dropped  []string
	Failure  *types.TranslationFailure
	// Payload is the exact string published on the outbound topic.
	Payload  string
	Trail    []State
	Duration time.Duration
}

// Failed reports whether the request ended in StateFailed.
func (o Outcome) Failed() bool {
	return o.State == StateFailed
}

// FailureRecord is the JSON document published on the failure topic.
type FailureRecord struct {
	RequestID string            `json:"request_id"`
	Seq       uint64            `json:"seq"`
	Kind      types.FailureKind `json:"kind"`
	Stage     types.Stage       `json:"stage"`
	Detail    string            `json:"detail"`
	Fallback  string            `json:"fallback"`
}

// Node translates requests one at a time or through a worker pool.
type Node struct {
	cfg    Config
	deps   Deps
	tracer trace.Tracer
	logger *zap.Logger
}

// New validates cfg and deps and builds a Node.
func New(cfg Config, deps Deps) (*Node, error) {
	if deps.Builder == nil || deps.Gateway == nil || deps.Parser == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("node requires a builder, gateway, parser and publisher")
	}
	if cfg.OutboundTopic == "" {
		return nil, fmt.Errorf("node requires an outbound topic")
	}
	if strings.TrimSpace(cfg.FallbackMessage) == "" {
		return nil, fmt.Errorf("fallback message must not be empty")
	}
	if strings.HasPrefix(strings.TrimSpace(cfg.FallbackMessage), "[") {
		return nil, fmt.Errorf("fallback message %q would be read as an action sequence", cfg.FallbackMessage)
	}
	if cfg.FailureTopic != "" && cfg.FailureTopic == cfg.OutboundTopic {
		return nil, fmt.Errorf("failure topic must differ from outbound topic %q", cfg.OutboundTopic)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}

	n := &Node{cfg: cfg, deps: deps, tracer: deps.Tracer, logger: deps.Logger}
	if n.tracer == nil {
		n.tracer = noop.NewTracerProvider().Tracer("pupper/node")
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	return n, nil
}

// Config returns the effective configuration.
func (n *Node) Config() Config {
	return n.cfg
}

// Translate runs the state machine for req without publishing. It never
// panics and always returns an Outcome with a Payload.
func (n *Node) Translate(ctx context.Context, req types.CommandRequest) (out Outcome) {
	start := time.Now()
	out = Outcome{Request: req, State: StateReceived, Trail: []State{StateReceived}}

	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("translation panicked",
				zap.Uint64("seq", req.Seq), zap.String("request_id", req.ID), zap.Any("panic", r))
			n.fail(&out, types.NewFailure(types.FailureGatewayError, stageOf(out.State),
				fmt.Errorf("%w: %v", errTranslatePanic, r), ""))
		}
		out.Duration = time.Since(start)
	}()

	n.advance(&out, StatePrompting)
	prompt := n.deps.Builder.Build(req.Utterance)

	n.advance(&out, StateAwaitingModel)
	attrs := []attribute.KeyValue{attribute.String(telemetry.StageKey, string(types.StageAwaitingModel))}
	if d, ok := n.deps.Gateway.(gatewayDescriber); ok {
		attrs = append(attrs, telemetry.GatewayAttributes(d.Provider(), d.Model())...)
	}
	callCtx, span := n.tracer.Start(ctx, "pupper.model_call", trace.WithAttributes(attrs...))
	raw, err := n.deps.Gateway.Invoke(callCtx, prompt)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	if err != nil {
		n.fail(&out, asFailure(err, types.StageAwaitingModel, ""))
		return out
	}

	n.advance(&out, StatePublishing)
	res, err := n.deps.Parser.ParseDetailed(raw)
	out.Dropped = res.Dropped
	if err != nil {
		n.fail(&out, asFailure(err, types.StagePublishing, raw))
		return out
	}

	out.Sequence = res.Sequence
	out.Payload = vocab.Encode(res.Sequence)
	n.advance(&out, StatePublished)
	return out
}

// Handle translates req and publishes exactly one outbound message. On
// failure it also emits a failure record and a diagnostic. The returned
// error only reports a failed publish; translation failures are in the
// Outcome.
func (n *Node) Handle(ctx context.Context, req types.CommandRequest) (Outcome, error) {
	ctx, span := n.tracer.Start(ctx, "pupper.translate",
		trace.WithAttributes(telemetry.RequestAttributes(req.Seq, req.ID, len(req.Utterance))...))
	defer span.End()

	if m := n.deps.Metrics; m != nil {
		m.InFlight.Inc()
		defer m.InFlight.Dec()
	}

	logging.NodeDebug("seq=%d id=%s received %q", req.Seq, req.ID, req.Utterance)
	out := n.Translate(ctx, req)

	kind := types.FailureKind("")
	if out.Failure != nil {
		kind = out.Failure.Kind
	}
	span.SetAttributes(telemetry.OutcomeAttributes(string(out.State), string(kind), len(out.Sequence), len(out.Dropped))...)

	// Publication must happen even when ctx was canceled mid-translation.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.PublishTimeout)
	defer cancel()

	pubErr := n.deps.Publisher.Publish(pubCtx, n.cfg.OutboundTopic, out.Payload)
	if pubErr != nil {
		pubErr = fmt.Errorf("failed to publish seq %d to %s: %w", req.Seq, n.cfg.OutboundTopic, pubErr)
		n.logger.Error("publish failed", zap.Uint64("seq", req.Seq), zap.Error(pubErr))
		span.RecordError(pubErr)
		if m := n.deps.Metrics; m != nil {
			m.IncPublishError(n.cfg.OutboundTopic)
		}
	}

	if out.Failure != nil {
		span.SetStatus(codes.Error, string(out.Failure.Kind))
		n.report(pubCtx, out)
	} else {
		n.logger.Info("published actions",
			zap.Uint64("seq", req.Seq),
			zap.String("request_id", req.ID),
			zap.String("payload", out.Payload),
			zap.Int("dropped", len(out.Dropped)),
			zap.Duration("duration", out.Duration))
	}

	if m := n.deps.Metrics; m != nil {
		m.ObserveTranslation(kind, out.Duration)
		m.AddDroppedTokens(len(out.Dropped))
	}
	return out, pubErr
}

// report surfaces a failure to the log, the failure topic and the
// diagnostic sink. None of these affect the outbound message.
func (n *Node) report(ctx context.Context, out Outcome) {
	f := out.Failure
	detail := string(f.Kind)
	if f.Err != nil {
		detail = f.Err.Error()
	}

	n.logger.Warn("translation failed",
		zap.Uint64("seq", out.Request.Seq),
		zap.String("request_id", out.Request.ID),
		zap.String("kind", string(f.Kind)),
		zap.String("stage", string(f.Stage)),
		zap.String("detail", detail),
		zap.String("raw", f.Raw))

	if n.cfg.FailureTopic != "" {
		rec := FailureRecord{
			RequestID: out.Request.ID,
			Seq:       out.Request.Seq,
			Kind:      f.Kind,
			Stage:     f.Stage,
			Detail:    detail,
			Fallback:  out.Payload,
		}
		data, err := json.Marshal(rec)
		if err == nil {
			err = n.deps.Publisher.Publish(ctx, n.cfg.FailureTopic, string(data))
		}
		if err != nil {
			logging.NodeWarn("failed to publish failure record for seq %d: %v", out.Request.Seq, err)
			if m := n.deps.Metrics; m != nil {
				m.IncPublishError(n.cfg.FailureTopic)
			}
		}
	}

	if n.deps.Diagnostics != nil {
		d := types.Diagnostic{
			RequestID: out.Request.ID,
			Seq:       out.Request.Seq,
			Kind:      f.Kind,
			Stage:     f.Stage,
			Utterance: out.Request.Utterance,
			Detail:    detail,
			Raw:       f.Raw,
		}
		if err := n.deps.Diagnostics.RecordDiagnostic(ctx, d); err != nil {
			logging.NodeError("failed to record diagnostic for seq %d: %v", out.Request.Seq, err)
		}
	}
}

func (n *Node) advance(out *Outcome, s State) {
	out.State = s
	out.Trail = append(out.Trail, s)
}

func (n *Node) fail(out *Outcome, f *types.TranslationFailure) {
	out.Failure = f
	out.Sequence = nil
	out.Payload = n.cfg.FallbackMessage
	if out.State != StateFailed {
		n.advance(out, StateFailed)
	}
}

// asFailure keeps a TranslationFailure as-is and classifies anything else
// as a gateway error at stage.
func asFailure(err error, stage types.Stage, raw string) *types.TranslationFailure {
	if f, ok := types.AsFailure(err); ok {
		return f
	}
	return types.NewFailure(types.FailureGatewayError, stage, err, raw)
}

func stageOf(s State) types.Stage {
	switch s {
	case StatePrompting:
		return types.StagePrompting
	case StateAwaitingModel:
		return types.StageAwaitingModel
	case StatePublishing, StatePublished:
		return types.StagePublishing
	default:
		return types.StageReceived
	}
}
