package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pupper/internal/admin"
	"pupper/internal/bus"
	"pupper/internal/config"
	"pupper/internal/logging"
	"pupper/internal/metrics"
	"pupper/internal/node"
	"pupper/internal/parser"
	"pupper/internal/perception"
	"pupper/internal/prompt"
	"pupper/internal/store"
	"pupper/internal/telemetry"
	"pupper/internal/vocab"
)

// pipeline is a fully wired translation node and the resources it owns.
type pipeline struct {
	vocab       *vocab.Vocabulary
	builder     *prompt.Builder
	parser      *parser.Parser
	client      perception.LLMClient
	gateway     *perception.Gateway
	metrics     *metrics.Metrics
	diagnostics *store.DiagnosticStore
	node        *node.Node
}

type pipelineOptions struct {
	// withDiagnostics opens the SQLite store when a path is configured.
	withDiagnostics bool
}

// buildPipeline wires vocabulary, prompt builder, gateway, parser and node
// from c, publishing to pub.
func buildPipeline(c *config.Config, pub bus.Publisher, opts pipelineOptions) (*pipeline, error) {
	p := &pipeline{
		vocab:   vocab.Default(),
		metrics: metrics.New(),
	}

	var err error
	p.builder, err = prompt.NewBuilder(p.vocab)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	policy, err := parser.ParseEmptyPolicy(c.Node.EmptySequence)
	if err != nil {
		return nil, err
	}
	p.parser = parser.New(p.vocab, parser.WithEmptyPolicy(policy))

	client, err := perception.NewClientFromConfig(c.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", c.LLM.Provider, err)
	}
	p.client = perception.NewTracingClient(client, p.metrics)
	p.gateway = perception.NewGateway(p.client, perception.GatewayConfigFromLLM(c.LLM),
		perception.WithLogger(logging.Base().Named("gateway")))
	gc := p.gateway.Config()
	logging.BootDebug("gateway: timeout=%v max_retries=%d backoff=%v..%v rate=%.1f/s",
		gc.Timeout, gc.MaxRetries, gc.RetryBackoff, gc.RetryBackoffMax, gc.RateLimit)

	if opts.withDiagnostics && c.Diagnostics.DatabasePath != "" {
		p.diagnostics, err = store.NewDiagnosticStore(c.Diagnostics.DatabasePath)
		if err != nil {
			return nil, err
		}
	}

	deps := node.Deps{
		Builder:   p.builder,
		Gateway:   p.gateway,
		Parser:    p.parser,
		Publisher: pub,
		Metrics:   p.metrics,
		Tracer:    telemetry.Tracer("pupper/node"),
		Logger:    logging.Base().Named("node"),
	}
	if p.diagnostics != nil {
		deps.Diagnostics = p.diagnostics
	}

	p.node, err = node.New(node.ConfigFrom(c), deps)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	logging.Boot("pipeline ready: provider=%s model=%s vocabulary=v%s (%d actions) empty=%s",
		c.LLM.Provider, c.LLM.Model, p.vocab.Version(), p.vocab.Len(), policy)
	return p, nil
}

// readinessChecks returns the checks for the admin /readyz endpoint.
func (p *pipeline) readinessChecks(b bus.Bus) []admin.Checker {
	checks := []admin.Checker{admin.CheckFunc{ComponentName: "bus", Fn: b.HealthCheck}}
	if p.diagnostics != nil {
		checks = append(checks, admin.CheckFunc{ComponentName: "diagnostics", Fn: p.diagnostics.Ping})
	}
	return checks
}

// Close releases the pipeline's resources.
func (p *pipeline) Close() error {
	var errs []error
	if p.diagnostics != nil {
		if err := p.diagnostics.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("failed to close pipeline", zap.Error(err))
		return err
	}
	return nil
}
